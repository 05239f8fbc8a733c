// Package orchestrator drives one retrieval request through validation,
// ordered backend attempts and post-processing.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/italolelis/mediafetch/internal/backend"
	"github.com/italolelis/mediafetch/internal/events"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/postprocess"
	"github.com/italolelis/mediafetch/internal/progress"
	"github.com/italolelis/mediafetch/internal/quality"
	"github.com/italolelis/mediafetch/internal/telemetry"
	"golang.org/x/time/rate"
)

const (
	DefaultConvertTimeout = 30 * time.Minute

	progressLogInterval = 10 * time.Second
)

// Gate lets the orchestrator refuse a URL without touching any backend.
type Gate interface {
	// Blocked reports whether the last recorded outcome for url found the
	// resource unavailable.
	Blocked(ctx context.Context, url string) (bool, error)
}

type Orchestrator struct {
	strategy       media.Strategy
	backends       map[media.BackendID]backend.Backend
	post           *postprocess.Coordinator
	gate           Gate
	telemetry      *telemetry.Telemetry
	convertTimeout time.Duration
	now            func() time.Time
}

type Option func(*Orchestrator)

func WithGate(g Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *Orchestrator) { o.telemetry = t }
}

func WithConvertTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.convertTimeout = d
		}
	}
}

// New builds an orchestrator trying backends in strategy order. Every id in
// strategy must have a backend.
func New(strategy media.Strategy, backends []backend.Backend, post *postprocess.Coordinator, opts ...Option) (*Orchestrator, error) {
	if len(strategy) == 0 {
		return nil, errors.New("strategy must name at least one backend")
	}

	o := &Orchestrator{
		strategy:       strategy,
		backends:       make(map[media.BackendID]backend.Backend, len(backends)),
		post:           post,
		convertTimeout: DefaultConvertTimeout,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.post == nil {
		o.post = postprocess.NewCoordinator(nil, nil)
	}

	for _, b := range backends {
		o.backends[b.ID()] = backend.NewInstrumented(backend.Safe(b), o.telemetry)
	}

	for _, id := range strategy {
		if _, ok := o.backends[id]; !ok {
			return nil, fmt.Errorf("no backend registered for %q", id)
		}
	}

	return o, nil
}

// Strategy returns the backend order used for every request.
func (o *Orchestrator) Strategy() media.Strategy {
	return append(media.Strategy(nil), o.strategy...)
}

// Run executes req and returns its outcome. Every state change, progress
// update and tool log line is published to sink; the outcome is published
// last. Run blocks until the request is finished or failed.
func (o *Orchestrator) Run(ctx context.Context, downloadID string, req media.Request, sink events.Sink) media.Outcome {
	if sink == nil {
		sink = events.Discard
	}

	ctx = logctx.WithDownloadID(ctx, downloadID)
	logger := logctx.LoggerFromContext(ctx).With("url", req.URL, "kind", req.Kind)
	ctx = logctx.WithLogger(ctx, logger)

	p := newPublisher(downloadID, sink, o.now, logger)
	norm := progress.NewNormalizer(p.change, p.line)

	var outcome media.Outcome

	_ = o.telemetry.InstrumentDownload(ctx, string(req.Kind), func(ctx context.Context) error {
		outcome = o.run(ctx, req, norm, p)
		if !outcome.Success {
			return errors.New(outcome.Error)
		}

		return nil
	})

	p.outcome(norm.Snapshot(), outcome)

	return outcome
}

func (o *Orchestrator) run(ctx context.Context, req media.Request, norm *progress.Normalizer, p *publisher) media.Outcome {
	logger := logctx.LoggerFromContext(ctx)
	out := media.Outcome{StartedAt: o.now()}

	norm.SetStatus(progress.StatusResolving)

	sel, err := o.resolve(ctx, req)
	if err != nil {
		logger.Warn("request rejected", "err", err)

		return o.fail(norm, out, media.KindOf(err), err.Error())
	}

	var (
		res     media.AttemptResult
		stopped error
	)

	for i, id := range o.strategy {
		if err := ctx.Err(); err != nil {
			stopped = err

			break
		}

		attempt := i + 1
		alogger := logger.With("backend", id, "attempt", attempt)
		actx := logctx.WithLogger(ctx, alogger)

		alogger.Info("attempt started")
		norm.BeginAttempt(attempt, string(id))

		res = o.backends[id].Attempt(actx, req, sel, norm)
		res.Backend = id

		if res.OK() {
			break
		}

		o.removePartials(actx, req.DestDir, res.Partials)

		failed := media.AttemptError{
			Attempt: attempt,
			Backend: id,
			Kind:    res.Failure.Kind,
			Detail:  res.Failure.Detail,
		}
		out.Attempts = append(out.Attempts, failed)

		alogger.Warn("attempt failed", "error_kind", failed.Kind, "err", failed.Detail)

		if !res.Failure.Kind.Recoverable() || i == len(o.strategy)-1 {
			break
		}

		next := o.strategy[i+1]
		o.telemetry.RecordFallback(string(id), string(next))
		p.line(fmt.Sprintf("%s; trying %s", failed, next))
	}

	// cancellation between attempts is not an attempt of the next backend
	if stopped != nil {
		msg := media.ErrCancelled.Label() + ": " + stopped.Error()
		if len(out.Attempts) > 0 {
			msg = media.JoinAttempts(out.Attempts) + "; " + msg
		}

		return o.fail(norm, out, media.ErrCancelled, msg)
	}

	if !res.OK() {
		last := out.Attempts[len(out.Attempts)-1]

		return o.fail(norm, out, last.Kind, media.JoinAttempts(out.Attempts))
	}

	return o.finish(ctx, req, sel, res, norm, out)
}

func (o *Orchestrator) resolve(ctx context.Context, req media.Request) (quality.Selector, error) {
	if err := req.Validate(); err != nil {
		return quality.Selector{}, err
	}

	sel, err := quality.Resolve(req.Kind, req.Quality)
	if err != nil {
		return quality.Selector{}, err
	}

	if o.gate == nil || req.Force {
		return sel, nil
	}

	blocked, err := o.gate.Blocked(ctx, req.URL)
	if err != nil {
		// a broken history store must not stop downloads
		logctx.LoggerFromContext(ctx).Warn("failed to check outcome history", "err", err)

		return sel, nil
	}

	if blocked {
		return quality.Selector{}, &media.UnavailableError{
			URL:    req.URL,
			Reason: "a previous request found it unavailable; retry with force to try again",
		}
	}

	return sel, nil
}

func (o *Orchestrator) finish(ctx context.Context, req media.Request, sel quality.Selector, res media.AttemptResult, norm *progress.Normalizer, out media.Outcome) media.Outcome {
	logger := logctx.LoggerFromContext(ctx).With("backend", res.Backend)

	norm.SetStatus(progress.StatusConverting)

	cctx, cancel := context.WithTimeout(ctx, o.convertTimeout)
	defer cancel()

	converting := &rate.Sometimes{Interval: progressLogInterval}

	pres := o.post.Process(cctx, postprocess.Artifact{Path: res.Artifact, Title: res.Title, Author: res.Author}, sel, func(pct float64) {
		converting.Do(func() {
			logger.Info("conversion progress", "percent", pct)
		})
	})

	o.telemetry.RecordConversion(string(pres.Conversion))

	title := res.Title
	if title == "" {
		base := filepath.Base(pres.Path)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	out.Success = true
	out.ArtifactPath = pres.Path
	out.Title = title
	out.Backend = res.Backend
	out.Warnings = pres.Warnings
	out.Degraded = pres.Degraded
	out.FinishedAt = o.now()

	norm.Finish(filepath.Base(pres.Path))

	logger.Info("download finished",
		"path", pres.Path,
		"conversion", pres.Conversion,
		"failed_attempts", len(out.Attempts),
		"duration", out.FinishedAt.Sub(out.StartedAt),
	)

	return out
}

func (o *Orchestrator) fail(norm *progress.Normalizer, out media.Outcome, kind media.ErrorKind, msg string) media.Outcome {
	out.Success = false
	out.Kind = kind
	out.Error = msg
	out.FinishedAt = o.now()

	norm.Fail()

	return out
}

// removePartials deletes files a failed attempt left behind. Paths outside
// dir are never touched.
func (o *Orchestrator) removePartials(ctx context.Context, dir string, paths []string) {
	logger := logctx.LoggerFromContext(ctx)

	root, err := filepath.Abs(dir)
	if err != nil {
		return
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || filepath.Dir(abs) != root {
			logger.Warn("refusing to remove file outside the destination", "path", p)

			continue
		}

		if err := os.Remove(abs); err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("failed to remove partial file", "path", abs, "err", err)
			}

			continue
		}

		logger.Debug("removed partial file", "path", abs)
	}
}

// publisher turns normalizer callbacks into events.
type publisher struct {
	mu          sync.Mutex
	id          string
	sink        events.Sink
	now         func() time.Time
	logger      *slog.Logger
	lastStatus  progress.Status
	lastAttempt int
	sometimes   rate.Sometimes
}

func newPublisher(id string, sink events.Sink, now func() time.Time, logger *slog.Logger) *publisher {
	return &publisher{
		id:         id,
		sink:       sink,
		now:        now,
		logger:     logger,
		lastStatus: progress.StatusIdle,
		sometimes:  rate.Sometimes{Interval: progressLogInterval},
	}
}

func (p *publisher) change(r progress.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	typ := events.TypeProgress
	if r.Status != p.lastStatus || r.Attempt != p.lastAttempt {
		typ = events.TypeStatus
		p.lastStatus = r.Status
		p.lastAttempt = r.Attempt
	}

	if typ == events.TypeProgress {
		p.sometimes.Do(func() {
			p.logger.Info("download progress",
				"percent", r.Percentage,
				"downloaded", r.DownloadedBytes,
				"backend", r.Backend,
			)
		})
	}

	rec := r
	p.sink.Publish(events.Event{DownloadID: p.id, Type: typ, Record: &rec, At: p.now()})
}

func (p *publisher) line(l string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sink.Publish(events.Event{DownloadID: p.id, Type: events.TypeLog, Line: l, At: p.now()})
}

func (p *publisher) outcome(r progress.Record, out media.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sink.Publish(events.Event{DownloadID: p.id, Type: events.TypeOutcome, Record: &r, Outcome: &out, At: p.now()})
}
