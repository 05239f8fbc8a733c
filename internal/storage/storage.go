// Package storage keeps the history of request outcomes.
package storage

import (
	"context"
	"errors"

	"github.com/italolelis/mediafetch/internal/media"
)

// ErrNotFound is returned when no outcome is stored under an id.
var ErrNotFound = errors.New("outcome not found")

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Record is one finished request and its outcome.
type Record struct {
	ID      string        `json:"id"`
	URL     string        `json:"url"`
	Kind    media.Kind    `json:"type"`
	Quality string        `json:"quality"`
	Outcome media.Outcome `json:"outcome"`
}

// Status filters listed records.
type Status string

const (
	StatusAny       Status = ""
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Filter narrows List results. Newest records come first.
type Filter struct {
	Status Status
	URL    string
	Limit  int
}

// OutcomeReadRepository reads recorded outcomes.
type OutcomeReadRepository interface {
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, f Filter) ([]Record, error)
	// LastFailureKind returns the error kind of the newest outcome recorded
	// for the media url points at, or "" when that outcome succeeded, was
	// cleared with Unblock, or does not exist.
	LastFailureKind(ctx context.Context, url string) (media.ErrorKind, error)
	// Blocked reports whether the newest outcome for url found the resource
	// unavailable.
	Blocked(ctx context.Context, url string) (bool, error)
}

// OutcomeWriteRepository records outcomes.
type OutcomeWriteRepository interface {
	Save(ctx context.Context, r Record) error
	// Unblock clears recorded failures for url so the next request is tried
	// again. It returns how many records were cleared.
	Unblock(ctx context.Context, url string) (int64, error)
}

type OutcomeRepository interface {
	OutcomeReadRepository
	OutcomeWriteRepository
}

// EffectiveLimit clamps a requested list size.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// ParseStatus accepts the status names used by the HTTP layer.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusAny, StatusSucceeded, StatusFailed:
		return Status(s), nil
	}

	return "", &media.ValidationError{Field: "status", Reason: "must be succeeded or failed"}
}
