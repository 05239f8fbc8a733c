package downloader

import (
	"context"
	"sync"
	"time"

	"github.com/italolelis/mediafetch/internal/media"
)

// Job is one submitted request.
type Job struct {
	ID          string
	Request     media.Request
	SubmittedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	outcome *media.Outcome
}

func newJob(id string, req media.Request, at time.Time) *Job {
	return &Job{
		ID:          id,
		Request:     req,
		SubmittedAt: at,
		done:        make(chan struct{}),
	}
}

// Done is closed once the job has an outcome.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Outcome returns the final outcome, or false while the job is running.
func (j *Job) Outcome() (media.Outcome, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.outcome == nil {
		return media.Outcome{}, false
	}

	return *j.outcome, true
}

// Cancel asks the job to stop. It is safe to call more than once.
func (j *Job) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

func (j *Job) finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

func (j *Job) setOutcome(o media.Outcome) {
	j.mu.Lock()
	j.outcome = &o
	j.mu.Unlock()
}
