package sqlite

import (
	"context"

	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/storage"
	"github.com/italolelis/mediafetch/internal/telemetry"
	"github.com/jmoiron/sqlx"
)

// InstrumentedOutcomeRepository wraps OutcomeRepository with telemetry.
type InstrumentedOutcomeRepository struct {
	repo      *OutcomeRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedOutcomeRepository creates a new instrumented outcome repository.
func NewInstrumentedOutcomeRepository(db *sqlx.DB, tel *telemetry.Telemetry) *InstrumentedOutcomeRepository {
	return &InstrumentedOutcomeRepository{
		repo:      NewOutcomeRepository(db),
		telemetry: tel,
	}
}

// Save stores an outcome with telemetry.
func (r *InstrumentedOutcomeRepository) Save(ctx context.Context, rec storage.Record) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_outcome", func(ctx context.Context) error {
		return r.repo.Save(ctx, rec)
	})
}

// Get retrieves one outcome with telemetry.
func (r *InstrumentedOutcomeRepository) Get(ctx context.Context, id string) (storage.Record, error) {
	var result storage.Record

	err := r.telemetry.InstrumentDBOperation(ctx, "get_outcome", func(ctx context.Context) error {
		var err error
		result, err = r.repo.Get(ctx, id)

		return err
	})

	return result, err
}

// List retrieves outcomes with telemetry.
func (r *InstrumentedOutcomeRepository) List(ctx context.Context, f storage.Filter) ([]storage.Record, error) {
	var result []storage.Record

	err := r.telemetry.InstrumentDBOperation(ctx, "list_outcomes", func(ctx context.Context) error {
		var err error
		result, err = r.repo.List(ctx, f)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// LastFailureKind looks up the newest failure with telemetry.
func (r *InstrumentedOutcomeRepository) LastFailureKind(ctx context.Context, url string) (media.ErrorKind, error) {
	var result media.ErrorKind

	err := r.telemetry.InstrumentDBOperation(ctx, "last_failure_kind", func(ctx context.Context) error {
		var err error
		result, err = r.repo.LastFailureKind(ctx, url)

		return err
	})

	return result, err
}

// Blocked reports whether url is gated, with telemetry.
func (r *InstrumentedOutcomeRepository) Blocked(ctx context.Context, url string) (bool, error) {
	kind, err := r.LastFailureKind(ctx, url)
	if err != nil {
		return false, err
	}

	return kind == media.ErrResourceUnavailable, nil
}

// Unblock clears recorded failures with telemetry.
func (r *InstrumentedOutcomeRepository) Unblock(ctx context.Context, url string) (int64, error) {
	var result int64

	err := r.telemetry.InstrumentDBOperation(ctx, "unblock", func(ctx context.Context) error {
		var err error
		result, err = r.repo.Unblock(ctx, url)

		return err
	})

	return result, err
}
