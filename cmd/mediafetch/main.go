package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/italolelis/mediafetch/internal/backend"
	"github.com/italolelis/mediafetch/internal/backend/inproc"
	"github.com/italolelis/mediafetch/internal/backend/ytdlp"
	"github.com/italolelis/mediafetch/internal/events"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/orchestrator"
	"github.com/italolelis/mediafetch/internal/postprocess"
	"github.com/italolelis/mediafetch/internal/progress"
	"github.com/italolelis/mediafetch/internal/quality"
	"github.com/italolelis/mediafetch/internal/storage"
	"github.com/italolelis/mediafetch/internal/storage/sqlite"
	"github.com/italolelis/mediafetch/internal/tool"
	"github.com/mitchellh/go-homedir"
)

var (
	statusColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgHiGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgHiRed, color.Bold)
	logColor     = color.New(color.FgWhite, color.Italic)
)

func main() {
	// Command line flags
	var (
		urlFlag      = flag.String("url", "", "Video URL to download")
		typeFlag     = flag.String("type", "video", "Media type: video or audio")
		qualityFlag  = flag.String("quality", "", "Quality: best/1080/720/480/360/240/144 for video, 320/256/192/128/64 for audio")
		outFlag      = flag.String("out", ".", "Destination directory")
		nameFlag     = flag.String("name", "", "Output file name without extension")
		strategyFlag = flag.String("strategy", media.DefaultStrategy.String(), "Comma-separated backends to try in order")
		forceFlag    = flag.Bool("force", false, "Retry a URL recorded as unavailable")
		dbFlag       = flag.String("db", "", "Outcome database used to remember unavailable URLs (optional)")
		ytdlpFlag    = flag.String("ytdlp", ytdlp.DefaultBinary, "Path to yt-dlp")
		ffmpegFlag   = flag.String("ffmpeg", "ffmpeg", "Path to ffmpeg")
		ffprobeFlag  = flag.String("ffprobe", "ffprobe", "Path to ffprobe")
		verboseFlag  = flag.Bool("verbose", false, "Show tool output and debug logs")
	)

	flag.Parse()

	url := *urlFlag
	if url == "" && flag.NArg() > 0 {
		url = flag.Arg(0)
	}

	if url == "" {
		fmt.Println("mediafetch - download a video or its audio track")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  mediafetch -url <URL> [options]")
		fmt.Println("  mediafetch <URL> [options]")
		fmt.Println()
		flag.PrintDefaults()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verboseFlag {
		level = slog.LevelDebug
	}

	logger := slog.New(logctx.NewContextHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = logctx.WithLogger(ctx, logger)

	kind, err := media.ParseKind(*typeFlag)
	if err != nil {
		errorColor.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	q := *qualityFlag
	if q == "" {
		q = quality.Default(kind)
	}

	strategy, err := media.ParseStrategy(*strategyFlag)
	if err != nil {
		errorColor.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	dest, err := homedir.Expand(*outFlag)
	if err != nil {
		errorColor.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	req := media.Request{
		URL:      url,
		Kind:     kind,
		Quality:  q,
		DestDir:  dest,
		Filename: *nameFlag,
		Force:    *forceFlag,
	}

	opts := []orchestrator.Option{}

	var history storage.OutcomeRepository

	if *dbFlag != "" {
		path, err := homedir.Expand(*dbFlag)
		if err != nil {
			errorColor.Fprintln(os.Stderr, err)
			os.Exit(2)
		}

		db, err := sqlite.Open(ctx, path)
		if err != nil {
			errorColor.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		history = sqlite.NewOutcomeRepository(db)
		opts = append(opts, orchestrator.WithGate(history))
	}

	orch, err := orchestrator.New(
		strategy,
		[]backend.Backend{
			inproc.NewDefault(),
			ytdlp.New(*ytdlpFlag),
		},
		postprocess.NewCoordinator(
			postprocess.NewFFmpeg(*ffmpegFlag, *ffprobeFlag, tool.DefaultProbeTimeout),
			postprocess.ID3Tagger{},
		),
		opts...,
	)
	if err != nil {
		errorColor.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	id := uuid.NewString()
	r := &renderer{verbose: *verboseFlag}

	statusColor.Printf("Downloading %s (%s, %s)\n", url, kind, q)

	out := orch.Run(ctx, id, req, events.Callback(r.render))

	r.endLine()

	if history != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err := history.Save(sctx, storage.Record{ID: id, URL: url, Kind: kind, Quality: q, Outcome: out})
		cancel()

		if err != nil {
			warnColor.Fprintf(os.Stderr, "Could not record outcome: %v\n", err)
		}
	}

	for _, w := range out.Warnings {
		warnColor.Println("warning: " + w)
	}

	if !out.Success {
		errorColor.Fprintln(os.Stderr, "Download failed: "+out.Error)

		if out.Kind == media.ErrCancelled {
			os.Exit(130)
		}

		os.Exit(1)
	}

	successColor.Printf("Saved %s (via %s in %s)\n", out.ArtifactPath, out.Backend, out.FinishedAt.Sub(out.StartedAt).Round(time.Second))
}

// renderer draws events on the terminal, rewriting a single progress line.
type renderer struct {
	verbose    bool
	inProgress bool
}

func (r *renderer) endLine() {
	if r.inProgress {
		fmt.Println()

		r.inProgress = false
	}
}

func (r *renderer) render(e events.Event) {
	switch e.Type {
	case events.TypeStatus:
		r.endLine()

		rec := e.Record
		switch rec.Status {
		case progress.StatusDownloading:
			statusColor.Printf("→ attempt %d with %s\n", rec.Attempt, rec.Backend)
		case progress.StatusConverting:
			statusColor.Println("→ converting")
		case progress.StatusResolving:
			statusColor.Println("→ resolving")
		}
	case events.TypeProgress:
		d := progress.Format(*e.Record)
		fmt.Printf("\r  %6s  %s / %s  %s  ETA %s   ", d.Percent, d.Downloaded, d.Total, d.Speed, d.ETA)

		r.inProgress = true
	case events.TypeLog:
		if !r.verbose {
			return
		}

		r.endLine()
		logColor.Println("  " + e.Line)
	case events.TypeOutcome:
		r.endLine()
	}
}
