// Package ytdlp retrieves media by supervising the yt-dlp command line tool.
package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/progress"
	"github.com/italolelis/mediafetch/internal/quality"
	"github.com/italolelis/mediafetch/internal/tool"
)

const (
	DefaultBinary = "yt-dlp"

	defaultWaitDelay = 5 * time.Second
	maxLineBytes     = 1024 * 1024
)

type Backend struct {
	bin          string
	probeTimeout time.Duration
	waitDelay    time.Duration
}

type Option func(*Backend)

// WithProbeTimeout bounds the version check run before every attempt.
func WithProbeTimeout(d time.Duration) Option {
	return func(b *Backend) { b.probeTimeout = d }
}

// WithWaitDelay sets how long an interrupted child may take to exit before it
// is killed.
func WithWaitDelay(d time.Duration) Option {
	return func(b *Backend) { b.waitDelay = d }
}

func New(bin string, opts ...Option) *Backend {
	if bin == "" {
		bin = DefaultBinary
	}

	b := &Backend{
		bin:          bin,
		probeTimeout: tool.DefaultProbeTimeout,
		waitDelay:    defaultWaitDelay,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Backend) ID() media.BackendID {
	return media.BackendYtDlp
}

// formatFilter translates a selector into a yt-dlp format expression.
func formatFilter(sel quality.Selector) string {
	if sel.Kind == media.KindAudio {
		return fmt.Sprintf("bestaudio[abr<=%d]/bestaudio/best", sel.AudioKbps)
	}

	if sel.MaxHeight == 0 {
		return "best[ext=mp4]/best"
	}

	return fmt.Sprintf("best[height<=%d][ext=mp4]/best[height<=%d]/best", sel.MaxHeight, sel.MaxHeight)
}

// outputTemplate returns the -o value. Literal percent signs in caller names
// are escaped so yt-dlp does not expand them.
func outputTemplate(req media.Request) (string, error) {
	dir, err := filepath.Abs(req.DestDir)
	if err != nil {
		return "", err
	}

	name := "%(title)s"
	if req.Filename != "" {
		name = strings.ReplaceAll(media.SanitizeFilename(req.Filename), "%", "%%")
	}

	return filepath.Join(dir, name) + ".%(ext)s", nil
}

// Args builds the argument vector for one attempt.
func (b *Backend) Args(req media.Request, sel quality.Selector) ([]string, error) {
	tmpl, err := outputTemplate(req)
	if err != nil {
		return nil, err
	}

	return []string{
		"--newline",
		"--no-playlist",
		"--no-colors",
		"--no-mtime",
		"-f", formatFilter(sel),
		"-o", tmpl,
		req.URL,
	}, nil
}

// run is the state collected while reading the child's output.
type run struct {
	destinations []string
	already      string
	lastError    string
}

// artifact is the file the tool reported, preferring the last destination.
func (r *run) artifact() string {
	if n := len(r.destinations); n > 0 {
		return r.destinations[n-1]
	}

	return r.already
}

func (r *run) partials() []string {
	var out []string

	for _, d := range r.destinations {
		out = append(out, d, d+".part", d+".ytdl")
	}

	return out
}

// Attempt runs yt-dlp and translates its output and exit status.
func (b *Backend) Attempt(ctx context.Context, req media.Request, sel quality.Selector, sink progress.Sink) media.AttemptResult {
	logger := logctx.LoggerFromContext(ctx).With("backend", b.ID())
	res := media.AttemptResult{Backend: b.ID()}

	if _, err := tool.Probe(ctx, b.bin, "--version", b.probeTimeout); err != nil {
		res.Failure = media.Fail(media.ErrToolNotFound, err)

		return res
	}

	args, err := b.Args(req, sel)
	if err != nil {
		res.Failure = media.Fail(media.ErrInvalidRequest, err)

		return res
	}

	cmd := exec.CommandContext(ctx, b.bin, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = b.waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		res.Failure = media.Fail(media.ErrUnexpected, err)

		return res
	}

	cmd.Stderr = cmd.Stdout

	logger.Debug("starting external tool", "bin", b.bin, "args", args)

	if err := cmd.Start(); err != nil {
		kind := media.ErrExternalTool
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			kind = media.ErrToolNotFound
		}

		res.Failure = media.Fail(kind, err)

		return res
	}

	state := &run{}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}

		b.handleLine(Classify(scanner.Text()), state, sink)
	}

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		res.Partials = state.partials()
		res.Failure = media.Fail(media.ErrCancelled, ctx.Err())

		return res
	}

	if waitErr != nil {
		res.Partials = state.partials()
		res.Failure = exitFailure(waitErr, state.lastError)

		return res
	}

	artifact := state.artifact()
	if artifact == "" {
		artifact = newestFile(req.DestDir)
	}

	if artifact == "" {
		res.Failure = &media.Failure{Kind: media.ErrExternalTool, Detail: "tool exited successfully without producing a file"}

		return res
	}

	res.Artifact = artifact
	res.Title = strings.TrimSuffix(filepath.Base(artifact), filepath.Ext(artifact))

	logger.Info("external tool finished", "target", artifact)

	return res
}

func (b *Backend) handleLine(l Line, state *run, sink progress.Sink) {
	switch l.Kind {
	case LineProgress:
		sink.Estimate(progress.Estimate{
			Percent:          l.Percent,
			ETASeconds:       l.ETASeconds,
			SpeedBytesPerSec: l.SpeedBytesPerSec,
			TotalBytes:       l.TotalBytes,
		})

		return
	case LineDestination:
		state.destinations = append(state.destinations, l.Path)
		sink.File(filepath.Base(l.Path))
	case LineAlreadyDownloaded:
		state.already = l.Path
		sink.File(filepath.Base(l.Path))
	case LineError:
		state.lastError = l.Message
	}

	if l.Text != "" {
		sink.Log(l.Text)
	}
}

func exitFailure(waitErr error, lastError string) *media.Failure {
	if lastError != "" && isUnavailable(lastError) {
		return &media.Failure{Kind: media.ErrResourceUnavailable, Detail: lastError, Err: waitErr}
	}

	detail := waitErr.Error()

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		detail = fmt.Sprintf("exit status %d", exitErr.ExitCode())
	}

	if lastError != "" {
		detail += ": " + lastError
	}

	return &media.Failure{Kind: media.ErrExternalTool, Detail: detail, Err: waitErr}
}

// newestFile returns the most recently modified regular file in dir that is
// not an in-progress download.
func newestFile(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var (
		newest  string
		newestT time.Time
	)

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || isPartial(name) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		if newest == "" || info.ModTime().After(newestT) {
			newest = filepath.Join(dir, name)
			newestT = info.ModTime()
		}
	}

	return newest
}

func isPartial(name string) bool {
	for _, ext := range []string{".part", ".ytdl", ".temp", ".tmp"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}

	return strings.Contains(name, ".part-Frag")
}
