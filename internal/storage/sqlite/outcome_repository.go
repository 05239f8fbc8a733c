package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/storage"
	"github.com/jmoiron/sqlx"
)

var outcomeColumns = []string{
	"id", "url", "source_id", "kind", "quality", "success", "error_kind", "error",
	"artifact_path", "title", "backend", "attempts", "warnings", "degraded",
	"unblocked", "started_at", "finished_at",
}

type outcomeRow struct {
	ID           string    `db:"id"`
	URL          string    `db:"url"`
	SourceID     string    `db:"source_id"`
	Kind         string    `db:"kind"`
	Quality      string    `db:"quality"`
	Success      bool      `db:"success"`
	ErrorKind    string    `db:"error_kind"`
	Error        string    `db:"error"`
	ArtifactPath string    `db:"artifact_path"`
	Title        string    `db:"title"`
	Backend      string    `db:"backend"`
	Attempts     string    `db:"attempts"`
	Warnings     string    `db:"warnings"`
	Degraded     bool      `db:"degraded"`
	Unblocked    bool      `db:"unblocked"`
	StartedAt    time.Time `db:"started_at"`
	FinishedAt   time.Time `db:"finished_at"`
}

// OutcomeRepository stores outcomes in SQLite.
type OutcomeRepository struct {
	db *sqlx.DB
}

func NewOutcomeRepository(db *sqlx.DB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

func (r *OutcomeRepository) Save(ctx context.Context, rec storage.Record) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}

	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO outcomes (
			id, url, source_id, kind, quality, success, error_kind, error,
			artifact_path, title, backend, attempts, warnings, degraded,
			unblocked, started_at, finished_at
		) VALUES (
			:id, :url, :source_id, :kind, :quality, :success, :error_kind, :error,
			:artifact_path, :title, :backend, :attempts, :warnings, :degraded,
			:unblocked, :started_at, :finished_at
		)
		ON CONFLICT(id) DO UPDATE SET
			success = excluded.success,
			error_kind = excluded.error_kind,
			error = excluded.error,
			artifact_path = excluded.artifact_path,
			title = excluded.title,
			backend = excluded.backend,
			attempts = excluded.attempts,
			warnings = excluded.warnings,
			degraded = excluded.degraded,
			finished_at = excluded.finished_at
	`, row)
	if err != nil {
		return fmt.Errorf("failed to save outcome %s: %w", rec.ID, err)
	}

	return nil
}

func (r *OutcomeRepository) Get(ctx context.Context, id string) (storage.Record, error) {
	query, args, err := squirrel.Select(outcomeColumns...).From("outcomes").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return storage.Record{}, err
	}

	var row outcomeRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Record{}, storage.ErrNotFound
		}

		return storage.Record{}, fmt.Errorf("failed to get outcome %s: %w", id, err)
	}

	return fromRow(row)
}

func (r *OutcomeRepository) List(ctx context.Context, f storage.Filter) ([]storage.Record, error) {
	q := squirrel.Select(outcomeColumns...).
		From("outcomes").
		OrderBy("finished_at DESC", "id DESC").
		Limit(uint64(f.EffectiveLimit()))

	switch f.Status {
	case storage.StatusSucceeded:
		q = q.Where(squirrel.Eq{"success": true})
	case storage.StatusFailed:
		q = q.Where(squirrel.Eq{"success": false})
	}

	if f.URL != "" {
		q = q.Where(sourceFilter(f.URL))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []outcomeRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}

	records := make([]storage.Record, 0, len(rows))

	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, nil
}

// inconclusiveKinds are outcomes that say nothing about the resource itself.
var inconclusiveKinds = []string{string(media.ErrCancelled), string(media.ErrInvalidRequest)}

// LastFailureKind returns the error kind of the newest conclusive outcome for
// url, or "" when it succeeded, was unblocked or nothing is recorded.
func (r *OutcomeRepository) LastFailureKind(ctx context.Context, url string) (media.ErrorKind, error) {
	query, args, err := squirrel.Select("success", "error_kind", "unblocked").
		From("outcomes").
		Where(sourceFilter(url)).
		Where(squirrel.NotEq{"error_kind": inconclusiveKinds}).
		OrderBy("finished_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return "", err
	}

	var row struct {
		Success   bool   `db:"success"`
		ErrorKind string `db:"error_kind"`
		Unblocked bool   `db:"unblocked"`
	}

	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}

		return "", fmt.Errorf("failed to look up last outcome: %w", err)
	}

	if row.Success || row.Unblocked {
		return "", nil
	}

	return media.ErrorKind(row.ErrorKind), nil
}

func (r *OutcomeRepository) Blocked(ctx context.Context, url string) (bool, error) {
	kind, err := r.LastFailureKind(ctx, url)
	if err != nil {
		return false, err
	}

	return kind == media.ErrResourceUnavailable, nil
}

func (r *OutcomeRepository) Unblock(ctx context.Context, url string) (int64, error) {
	query, args, err := squirrel.Update("outcomes").
		Set("unblocked", true).
		Where(sourceFilter(url)).
		Where(squirrel.Eq{"success": false, "unblocked": false}).
		ToSql()
	if err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to unblock %s: %w", url, err)
	}

	return res.RowsAffected()
}

// sourceFilter matches every URL form of the same video, falling back to
// the literal URL when it is not recognised.
func sourceFilter(url string) squirrel.Sqlizer {
	if id, err := media.RecognizeSource(url); err == nil {
		return squirrel.Eq{"source_id": id}
	}

	return squirrel.Eq{"url": url}
}

func toRow(rec storage.Record) (outcomeRow, error) {
	attempts, err := json.Marshal(nonNil(rec.Outcome.Attempts))
	if err != nil {
		return outcomeRow{}, fmt.Errorf("failed to encode attempts: %w", err)
	}

	warnings, err := json.Marshal(nonNil(rec.Outcome.Warnings))
	if err != nil {
		return outcomeRow{}, fmt.Errorf("failed to encode warnings: %w", err)
	}

	sourceID, _ := media.RecognizeSource(rec.URL)

	o := rec.Outcome

	return outcomeRow{
		ID:           rec.ID,
		URL:          rec.URL,
		SourceID:     sourceID,
		Kind:         string(rec.Kind),
		Quality:      rec.Quality,
		Success:      o.Success,
		ErrorKind:    string(o.Kind),
		Error:        o.Error,
		ArtifactPath: o.ArtifactPath,
		Title:        o.Title,
		Backend:      string(o.Backend),
		Attempts:     string(attempts),
		Warnings:     string(warnings),
		Degraded:     o.Degraded,
		StartedAt:    o.StartedAt.UTC(),
		FinishedAt:   o.FinishedAt.UTC(),
	}, nil
}

func fromRow(row outcomeRow) (storage.Record, error) {
	rec := storage.Record{
		ID:      row.ID,
		URL:     row.URL,
		Kind:    media.Kind(row.Kind),
		Quality: row.Quality,
		Outcome: media.Outcome{
			Success:      row.Success,
			ArtifactPath: row.ArtifactPath,
			Title:        row.Title,
			Backend:      media.BackendID(row.Backend),
			Kind:         media.ErrorKind(row.ErrorKind),
			Error:        row.Error,
			Degraded:     row.Degraded,
			StartedAt:    row.StartedAt,
			FinishedAt:   row.FinishedAt,
		},
	}

	if err := json.Unmarshal([]byte(row.Attempts), &rec.Outcome.Attempts); err != nil {
		return storage.Record{}, fmt.Errorf("failed to decode attempts of %s: %w", row.ID, err)
	}

	if err := json.Unmarshal([]byte(row.Warnings), &rec.Outcome.Warnings); err != nil {
		return storage.Record{}, fmt.Errorf("failed to decode warnings of %s: %w", row.ID, err)
	}

	if len(rec.Outcome.Attempts) == 0 {
		rec.Outcome.Attempts = nil
	}

	if len(rec.Outcome.Warnings) == 0 {
		rec.Outcome.Warnings = nil
	}

	return rec, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}

	return s
}
