// Package inproc retrieves media with an in-process extraction library.
package inproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/progress"
	"github.com/italolelis/mediafetch/internal/quality"
	"github.com/kkdai/youtube/v2"
)

const (
	filePerm = 0o644

	// reportInterval is how many bytes pass between progress callbacks.
	reportInterval = 256 * 1024
)

// VideoClient is the part of youtube.Client the backend needs.
type VideoClient interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error)
}

// Compile-time check: *youtube.Client must implement VideoClient.
var _ VideoClient = (*youtube.Client)(nil)

type Backend struct {
	client VideoClient
}

// New returns a backend using client.
func New(client VideoClient) *Backend {
	return &Backend{client: client}
}

// NewDefault returns a backend using a stock youtube.Client.
func NewDefault() *Backend {
	return New(&youtube.Client{})
}

func (b *Backend) ID() media.BackendID {
	return media.BackendInProcess
}

// Attempt fetches the stream descriptors, picks one and streams it to disk.
func (b *Backend) Attempt(ctx context.Context, req media.Request, sel quality.Selector, sink progress.Sink) media.AttemptResult {
	logger := logctx.LoggerFromContext(ctx).With("backend", b.ID())
	res := media.AttemptResult{Backend: b.ID()}

	video, err := b.client.GetVideoContext(ctx, req.URL)
	if err != nil {
		res.Failure = media.Fail(classify(err, media.ErrParse), fmt.Errorf("failed to fetch video metadata: %w", err))

		return res
	}

	res.Title = video.Title
	res.Author = video.Author

	format := selectFormat(video.Formats, sel)
	if format == nil {
		res.Failure = &media.Failure{Kind: media.ErrParse, Detail: "no downloadable stream found"}

		return res
	}

	logger.Debug("selected stream",
		"itag", format.ItagNo,
		"mime_type", format.MimeType,
		"height", format.Height,
		"bitrate", bitrate(format),
		"selector", sel.String(),
	)

	base := req.OutputBase()
	if base == "" {
		base = filepath.Join(req.DestDir, media.SanitizeFilename(video.Title))
	}

	target := base + "." + extension(format.MimeType)
	partial := target + ".part"

	sink.File(filepath.Base(target))

	if err := b.stream(ctx, video, format, partial, sink); err != nil {
		res.Partials = []string{partial}
		res.Failure = media.Fail(classify(err, media.ErrNetwork), err)

		return res
	}

	if err := os.Rename(partial, target); err != nil {
		res.Partials = []string{partial}
		res.Failure = media.Fail(media.ErrUnexpected, fmt.Errorf("failed to move download into place: %w", err))

		return res
	}

	res.Artifact = target

	logger.Info("stream saved", "target", target)

	return res
}

func (b *Backend) stream(ctx context.Context, video *youtube.Video, format *youtube.Format, partial string, sink progress.Sink) error {
	stream, size, err := b.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	defer stream.Close()

	out, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}

	defer out.Close()

	pr := progress.NewReader(ctx, stream, size, reportInterval, sink.Bytes)

	if _, err := io.Copy(out, pr); err != nil {
		return fmt.Errorf("failed to copy stream: %w", err)
	}

	if size > 0 && pr.BytesRead() < size {
		return fmt.Errorf("stream ended early: %w", io.ErrUnexpectedEOF)
	}

	return out.Close()
}

// classify maps library and I/O errors onto the error taxonomy. fallback is
// used for errors that carry no better signal.
func classify(err error, fallback media.ErrorKind) media.ErrorKind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return media.ErrCancelled
	case errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrNotPlayableInEmbed):
		return media.ErrResourceUnavailable
	case errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength):
		return media.ErrInvalidRequest
	}

	var status *youtube.ErrPlayabiltyStatus
	if errors.As(err, &status) {
		return media.ErrResourceUnavailable
	}

	var code youtube.ErrUnexpectedStatusCode
	if errors.As(err, &code) {
		return media.ErrNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return media.ErrNetwork
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return media.ErrNetwork
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return media.ErrUnexpected
	}

	return fallback
}

// Info is the metadata shown before a download starts.
type Info struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Duration  int64  `json:"duration_seconds"`
	Views     int    `json:"views"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Streams   int    `json:"streams"`
}

// Info fetches video metadata without downloading anything.
func (b *Backend) Info(ctx context.Context, url string) (*Info, error) {
	video, err := b.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, media.Fail(classify(err, media.ErrParse), err)
	}

	info := &Info{
		ID:       video.ID,
		Title:    video.Title,
		Author:   video.Author,
		Duration: int64(video.Duration / time.Second),
		Views:    video.Views,
		Streams:  len(video.Formats),
	}

	// thumbnails are listed smallest first
	if n := len(video.Thumbnails); n > 0 {
		info.Thumbnail = video.Thumbnails[n-1].URL
	}

	return info, nil
}
