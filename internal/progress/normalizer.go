// Package progress normalizes the progress signals of every backend into a
// single Record.
package progress

import (
	"sync"
	"time"
)

// Estimate is a progress reading parsed from tool output. Nil fields are
// unknown.
type Estimate struct {
	Percent          float64
	ETASeconds       *int64
	SpeedBytesPerSec *float64
	TotalBytes       *int64
}

// Sink receives raw progress signals from the active backend.
type Sink interface {
	// Bytes reports transferred bytes; total <= 0 means unknown.
	Bytes(downloaded, total int64)
	// Estimate reports a percentage parsed from tool output.
	Estimate(e Estimate)
	// File reports the name of the file being written.
	File(name string)
	// Log forwards a line of diagnostic output.
	Log(line string)
}

// textPercentCeiling keeps parsed percentages below completion until the
// tool has actually exited.
const textPercentCeiling = 99

// Normalizer owns one Record. The active backend writes through the Sink
// methods and the orchestrator drives the lifecycle; readers only ever get
// copies.
type Normalizer struct {
	mu           sync.Mutex
	rec          Record
	attemptStart time.Time
	now          func() time.Time

	onChange func(Record)
	onLog    func(string)
}

// NewNormalizer returns a Normalizer in the idle state. onChange receives a
// copy after every accepted update and onLog every forwarded line; both may
// be nil.
func NewNormalizer(onChange func(Record), onLog func(string)) *Normalizer {
	n := &Normalizer{
		now:      time.Now,
		onChange: onChange,
		onLog:    onLog,
	}
	n.rec = Record{Status: StatusIdle, UpdatedAt: n.now()}

	return n
}

// Snapshot returns a copy of the current record.
func (n *Normalizer) Snapshot() Record {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.rec.clone()
}

// SetStatus moves the record to s. Terminal records never change again.
func (n *Normalizer) SetStatus(s Status) {
	n.update(func(r *Record) bool {
		if r.Status == s {
			return false
		}

		r.Status = s

		return true
	})
}

// BeginAttempt resets per-attempt values for a new backend attempt.
func (n *Normalizer) BeginAttempt(attempt int, backend string) {
	n.update(func(r *Record) bool {
		*r = Record{
			Status:  StatusDownloading,
			Attempt: attempt,
			Backend: backend,
		}
		n.attemptStart = n.now()

		return true
	})
}

// Bytes implements Sink. A known total yields a byte-derived percentage;
// without one the percentage is left alone.
func (n *Normalizer) Bytes(downloaded, total int64) {
	n.update(func(r *Record) bool {
		r.DownloadedBytes = downloaded

		if total > 0 {
			t := total
			r.TotalBytes = &t
			n.raise(r, float64(downloaded)*100/float64(total))
		}

		if elapsed := n.now().Sub(n.attemptStart).Seconds(); elapsed > 0 && downloaded > 0 {
			speed := float64(downloaded) / elapsed
			r.SpeedBytesPerSec = &speed

			if total > downloaded {
				eta := int64(float64(total-downloaded) / speed)
				r.ETASeconds = &eta
			}
		}

		return true
	})
}

// Estimate implements Sink. Parsed percentages are capped below 100.
func (n *Normalizer) Estimate(e Estimate) {
	n.update(func(r *Record) bool {
		p := e.Percent
		if p > textPercentCeiling {
			p = textPercentCeiling
		}

		n.raise(r, p)

		if e.ETASeconds != nil {
			v := *e.ETASeconds
			r.ETASeconds = &v
		}

		if e.SpeedBytesPerSec != nil {
			v := *e.SpeedBytesPerSec
			r.SpeedBytesPerSec = &v
		}

		if e.TotalBytes != nil && *e.TotalBytes > 0 {
			v := *e.TotalBytes
			r.TotalBytes = &v
			r.DownloadedBytes = int64(float64(v) * r.Percentage / 100)
		}

		return true
	})
}

// File implements Sink.
func (n *Normalizer) File(name string) {
	n.update(func(r *Record) bool {
		if r.Filename == name {
			return false
		}

		r.Filename = name

		return true
	})
}

// Log implements Sink.
func (n *Normalizer) Log(line string) {
	if n.onLog != nil {
		n.onLog(line)
	}
}

// Finish marks the request finished at 100%.
func (n *Normalizer) Finish(filename string) {
	n.update(func(r *Record) bool {
		r.Status = StatusFinished
		r.Percentage = 100
		r.ETASeconds = nil

		if filename != "" {
			r.Filename = filename
		}

		return true
	})
}

// Fail marks the request failed, keeping the last reported values.
func (n *Normalizer) Fail() {
	n.SetStatus(StatusFailed)
}

// raise applies the monotonic, clamped percentage rule.
func (n *Normalizer) raise(r *Record, p float64) {
	switch {
	case p < 0:
		p = 0
	case p > 100:
		p = 100
	}

	if p > r.Percentage {
		r.Percentage = p
	}
}

func (n *Normalizer) update(fn func(r *Record) bool) {
	n.mu.Lock()

	if n.rec.Status.Terminal() || !fn(&n.rec) {
		n.mu.Unlock()

		return
	}

	n.rec.UpdatedAt = n.now()
	snapshot := n.rec.clone()
	n.mu.Unlock()

	if n.onChange != nil {
		n.onChange(snapshot)
	}
}
