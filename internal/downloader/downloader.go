// Package downloader runs submitted requests as background jobs, each with
// its own context, and tracks their progress and outcomes.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/mediafetch/internal/events"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/progress"
	"github.com/italolelis/mediafetch/internal/storage"
	"github.com/italolelis/mediafetch/internal/telemetry"
)

var (
	// ErrBusy is returned by Submit in reject mode when every slot is taken.
	ErrBusy = errors.New("a download is already in progress")
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("download not found")
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("downloader is shutting down")
)

const (
	DefaultMaxParallel = 1
	DefaultRetention   = 100

	notificationBuffer = 16
	saveTimeout        = 5 * time.Second
)

// Admission decides what happens to a request when all slots are taken.
type Admission string

const (
	AdmissionQueue  Admission = "queue"
	AdmissionReject Admission = "reject"
)

// ParseAdmission accepts "queue" and "reject".
func ParseAdmission(s string) (Admission, error) {
	switch Admission(s) {
	case AdmissionQueue, AdmissionReject:
		return Admission(s), nil
	case "":
		return AdmissionQueue, nil
	}

	return "", fmt.Errorf("unknown admission mode %q", s)
}

// Runner executes one request. *orchestrator.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, downloadID string, req media.Request, sink events.Sink) media.Outcome
}

type Manager struct {
	runner     Runner
	recorder   storage.OutcomeWriteRepository
	telemetry  *telemetry.Telemetry
	snapshots  *events.SnapshotStore
	sink       events.Sink
	admission  Admission
	slots      chan struct{}
	retention  int
	instanceID string

	baseCtx    context.Context
	cancelAll  context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
	notifyOnce sync.Once

	mu     sync.RWMutex
	jobs   map[string]*Job
	order  []string
	closed bool

	OnJobFinished chan *Job
	OnJobFailed   chan *Job
}

type Option func(*Manager)

// WithRecorder persists every outcome.
func WithRecorder(r storage.OutcomeWriteRepository) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithAdmission sets the number of concurrent jobs and what to do with
// requests beyond it.
func WithAdmission(a Admission, maxParallel int) Option {
	return func(m *Manager) {
		m.admission = a
		if maxParallel > 0 {
			m.slots = make(chan struct{}, maxParallel)
		}
	}
}

// WithSink adds an observer of every job event, such as an events.Bus.
func WithSink(s events.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(m *Manager) { m.telemetry = t }
}

// WithRetention bounds how many finished jobs stay queryable in memory.
func WithRetention(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.retention = n
		}
	}
}

// NewManager returns a manager whose jobs live until ctx is cancelled or
// Shutdown is called.
func NewManager(ctx context.Context, runner Runner, opts ...Option) *Manager {
	m := &Manager{
		runner:        runner,
		snapshots:     events.NewSnapshotStore(),
		admission:     AdmissionQueue,
		slots:         make(chan struct{}, DefaultMaxParallel),
		retention:     DefaultRetention,
		instanceID:    generateInstanceID(),
		jobs:          make(map[string]*Job),
		OnJobFinished: make(chan *Job, notificationBuffer),
		OnJobFailed:   make(chan *Job, notificationBuffer),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.sink = events.Fanout(m.snapshots, m.sink)
	m.baseCtx, m.cancelAll = context.WithCancel(context.WithoutCancel(ctx))

	return m
}

// InstanceID identifies this process in logs.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// Submit registers req and starts it in the background. It never waits for
// the download itself.
func (m *Manager) Submit(ctx context.Context, req media.Request) (*Job, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate download id: %w", err)
	}

	job := newJob(id.String(), req, time.Now())

	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return nil, ErrClosed
	}

	queued := true

	if m.admission == AdmissionReject {
		select {
		case m.slots <- struct{}{}:
			queued = false
		default:
			m.mu.Unlock()

			return nil, ErrBusy
		}
	}

	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	m.pruneLocked()

	logger := logctx.LoggerFromContext(ctx).With("instance_id", m.instanceID)
	jctx := logctx.WithLogger(m.baseCtx, logger)
	jctx, job.cancel = context.WithCancel(jctx)

	m.wg.Add(1)
	m.mu.Unlock()

	idle := progress.Record{Status: progress.StatusIdle, UpdatedAt: job.SubmittedAt}
	m.sink.Publish(events.Event{DownloadID: job.ID, Type: events.TypeStatus, Record: &idle, At: job.SubmittedAt})

	logger.Info("download submitted", "download_id", job.ID, "url", req.URL, "kind", req.Kind, "quality", req.Quality)

	go m.execute(jctx, job, queued)

	return job, nil
}

func (m *Manager) execute(ctx context.Context, job *Job, queued bool) {
	defer m.wg.Done()
	defer job.cancel()

	ctx = logctx.WithDownloadID(ctx, job.ID)

	if queued {
		select {
		case m.slots <- struct{}{}:
		case <-ctx.Done():
			m.complete(ctx, job, m.cancelledOutcome(job))

			return
		}
	}

	defer func() { <-m.slots }()

	m.complete(ctx, job, m.run(ctx, job))
}

// run executes the job and turns a panic into a failed outcome.
func (m *Manager) run(ctx context.Context, job *Job) (out media.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logctx.LoggerFromContext(ctx).Error("download panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)

			m.telemetry.RecordSystemError("downloader", "panic")

			now := time.Now()
			out = media.Outcome{
				Kind:       media.ErrUnexpected,
				Error:      fmt.Sprintf("%s: panic: %v", media.ErrUnexpected.Label(), r),
				StartedAt:  job.SubmittedAt,
				FinishedAt: now,
			}

			m.publishOutcome(job, out)
		}
	}()

	return m.runner.Run(ctx, job.ID, job.Request, m.sink)
}

func (m *Manager) cancelledOutcome(job *Job) media.Outcome {
	now := time.Now()
	out := media.Outcome{
		Kind:       media.ErrCancelled,
		Error:      media.ErrCancelled.Label() + ": cancelled before start",
		StartedAt:  job.SubmittedAt,
		FinishedAt: now,
	}

	m.publishOutcome(job, out)

	return out
}

// publishOutcome reports an outcome the runner did not publish itself.
func (m *Manager) publishOutcome(job *Job, out media.Outcome) {
	rec, _ := m.snapshots.Get(job.ID)
	rec.Status = progress.StatusFailed
	rec.UpdatedAt = out.FinishedAt

	m.sink.Publish(events.Event{DownloadID: job.ID, Type: events.TypeOutcome, Record: &rec, Outcome: &out, At: out.FinishedAt})
}

func (m *Manager) complete(ctx context.Context, job *Job, out media.Outcome) {
	logger := logctx.LoggerFromContext(ctx)

	job.setOutcome(out)

	if m.recorder != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
		defer cancel()

		err := m.recorder.Save(sctx, storage.Record{
			ID:      job.ID,
			URL:     job.Request.URL,
			Kind:    job.Request.Kind,
			Quality: job.Request.Quality,
			Outcome: out,
		})
		if err != nil {
			logger.Error("failed to record outcome", "err", err)
		}
	}

	close(job.done)

	if out.Success {
		logger.Info("download finished", "path", out.ArtifactPath, "backend", out.Backend)
		m.notify(ctx, m.OnJobFinished, job)

		return
	}

	logger.Warn("download failed", "error_kind", out.Kind, "err", out.Error)
	m.notify(ctx, m.OnJobFailed, job)
}

// notify never blocks a job on a slow or missing listener.
func (m *Manager) notify(ctx context.Context, ch chan *Job, job *Job) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return
	}

	select {
	case ch <- job:
	default:
		logctx.LoggerFromContext(ctx).Warn("notification dropped, listener is not keeping up")
	}
}

// pruneLocked forgets the oldest finished jobs beyond the retention limit.
func (m *Manager) pruneLocked() {
	excess := len(m.order) - m.retention
	if excess <= 0 {
		return
	}

	kept := m.order[:0]

	for _, id := range m.order {
		if excess > 0 && m.jobs[id].finished() {
			delete(m.jobs, id)
			m.snapshots.Forget(id)

			excess--

			continue
		}

		kept = append(kept, id)
	}

	m.order = kept
}

// Get returns a job by id.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]

	return j, ok
}

// Latest returns the most recently submitted job.
func (m *Manager) Latest() (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.order) == 0 {
		return nil, false
	}

	return m.jobs[m.order[len(m.order)-1]], true
}

// List returns the jobs still held in memory, newest first.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Job, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.jobs[m.order[i]])
	}

	return out
}

// Snapshot returns the latest progress record of a job.
func (m *Manager) Snapshot(id string) (progress.Record, bool) {
	return m.snapshots.Get(id)
}

// Cancel cancels a queued or running job.
func (m *Manager) Cancel(id string) error {
	j, ok := m.Get(id)
	if !ok {
		return ErrJobNotFound
	}

	j.Cancel()

	return nil
}

// Wait blocks until the job finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (media.Outcome, error) {
	j, ok := m.Get(id)
	if !ok {
		return media.Outcome{}, ErrJobNotFound
	}

	select {
	case <-j.Done():
		out, _ := j.Outcome()

		return out, nil
	case <-ctx.Done():
		return media.Outcome{}, ctx.Err()
	}
}

// Shutdown stops accepting jobs, cancels running ones and waits for them to
// record their outcomes.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancelAll()

	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for downloads to stop: %w", ctx.Err())
	}

	m.closeOnce.Do(func() {
		close(m.OnJobFinished)
		close(m.OnJobFailed)
	})

	return nil
}
