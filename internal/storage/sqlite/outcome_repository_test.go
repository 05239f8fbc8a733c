package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	watchURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	shortURL = "https://youtu.be/dQw4w9WgXcQ"
	otherURL = "https://www.youtube.com/watch?v=9bZkp7q19f0"
)

func newRepo(t *testing.T) *InstrumentedOutcomeRepository {
	t.Helper()

	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "outcomes.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewInstrumentedOutcomeRepository(db, nil)
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func record(id, url string, at time.Time, out media.Outcome) storage.Record {
	out.StartedAt = at.Add(-time.Minute)
	out.FinishedAt = at

	return storage.Record{ID: id, URL: url, Kind: media.KindVideo, Quality: "720", Outcome: out}
}

func TestOutcomeRepository_SaveAndGet(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	rec := record("job-1", watchURL, base, media.Outcome{
		Success:      true,
		ArtifactPath: "/downloads/clip.mp4",
		Title:        "Clip",
		Backend:      media.BackendYtDlp,
		Attempts: []media.AttemptError{
			{Attempt: 1, Backend: media.BackendInProcess, Kind: media.ErrNetwork, Detail: "reset"},
		},
		Warnings: []string{"conversion to mp4 skipped"},
		Degraded: true,
	})

	require.NoError(t, repo.Save(ctx, rec))

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)

	assert.Equal(t, rec.URL, got.URL)
	assert.Equal(t, rec.Kind, got.Kind)
	assert.Equal(t, rec.Quality, got.Quality)
	assert.True(t, got.Outcome.Success)
	assert.Equal(t, rec.Outcome.ArtifactPath, got.Outcome.ArtifactPath)
	assert.Equal(t, rec.Outcome.Backend, got.Outcome.Backend)
	assert.Equal(t, rec.Outcome.Attempts, got.Outcome.Attempts)
	assert.Equal(t, rec.Outcome.Warnings, got.Outcome.Warnings)
	assert.True(t, got.Outcome.Degraded)
	assert.True(t, rec.Outcome.FinishedAt.Equal(got.Outcome.FinishedAt))
}

func TestOutcomeRepository_GetMissing(t *testing.T) {
	_, err := newRepo(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOutcomeRepository_SaveIsIdempotent(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	rec := record("job-1", watchURL, base, media.Outcome{Kind: media.ErrNetwork, Error: "first"})
	require.NoError(t, repo.Save(ctx, rec))

	rec.Outcome.Error = "second"
	require.NoError(t, repo.Save(ctx, rec))

	all, err := repo.List(ctx, storage.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "second", all[0].Outcome.Error)
}

func TestOutcomeRepository_List(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, record("a", watchURL, base, media.Outcome{Success: true})))
	require.NoError(t, repo.Save(ctx, record("b", otherURL, base.Add(time.Minute), media.Outcome{Kind: media.ErrNetwork})))
	require.NoError(t, repo.Save(ctx, record("c", shortURL, base.Add(2*time.Minute), media.Outcome{Success: true})))

	tests := []struct {
		name   string
		filter storage.Filter
		want   []string
	}{
		{name: "all newest first", filter: storage.Filter{}, want: []string{"c", "b", "a"}},
		{name: "succeeded", filter: storage.Filter{Status: storage.StatusSucceeded}, want: []string{"c", "a"}},
		{name: "failed", filter: storage.Filter{Status: storage.StatusFailed}, want: []string{"b"}},
		{name: "same video any url form", filter: storage.Filter{URL: watchURL}, want: []string{"c", "a"}},
		{name: "limit", filter: storage.Filter{Limit: 1}, want: []string{"c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)

			ids := make([]string, len(got))
			for i, r := range got {
				ids[i] = r.ID
			}

			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestOutcomeRepository_BlockedAndUnblock(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	blocked, err := repo.Blocked(ctx, watchURL)
	require.NoError(t, err)
	assert.False(t, blocked, "unknown url is not blocked")

	require.NoError(t, repo.Save(ctx, record("a", watchURL, base, media.Outcome{Kind: media.ErrResourceUnavailable, Error: "private"})))

	blocked, err = repo.Blocked(ctx, shortURL)
	require.NoError(t, err)
	assert.True(t, blocked, "every url form of the video is blocked")

	kind, err := repo.LastFailureKind(ctx, watchURL)
	require.NoError(t, err)
	assert.Equal(t, media.ErrResourceUnavailable, kind)

	blocked, err = repo.Blocked(ctx, otherURL)
	require.NoError(t, err)
	assert.False(t, blocked)

	n, err := repo.Unblock(ctx, watchURL)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	blocked, err = repo.Blocked(ctx, watchURL)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestOutcomeRepository_NewestOutcomeDecides(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, record("a", watchURL, base, media.Outcome{Kind: media.ErrResourceUnavailable})))
	require.NoError(t, repo.Save(ctx, record("b", watchURL, base.Add(time.Minute), media.Outcome{Success: true})))

	blocked, err := repo.Blocked(ctx, watchURL)
	require.NoError(t, err)
	assert.False(t, blocked)

	kind, err := repo.LastFailureKind(ctx, watchURL)
	require.NoError(t, err)
	assert.Empty(t, kind)
}

func TestOutcomeRepository_InconclusiveOutcomesKeepBlock(t *testing.T) {
	tests := []struct {
		name  string
		later media.Outcome
	}{
		{name: "cancelled before start", later: media.Outcome{Kind: media.ErrCancelled, Error: "cancelled: cancelled before start"}},
		{name: "invalid request", later: media.Outcome{Kind: media.ErrInvalidRequest, Error: "invalid request: unknown quality"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepo(t)
			ctx := context.Background()

			require.NoError(t, repo.Save(ctx, record("a", watchURL, base, media.Outcome{Kind: media.ErrResourceUnavailable})))
			require.NoError(t, repo.Save(ctx, record("b", shortURL, base.Add(time.Minute), tt.later)))

			blocked, err := repo.Blocked(ctx, watchURL)
			require.NoError(t, err)
			assert.True(t, blocked)

			kind, err := repo.LastFailureKind(ctx, watchURL)
			require.NoError(t, err)
			assert.Equal(t, media.ErrResourceUnavailable, kind)

			_, err = repo.Unblock(ctx, watchURL)
			require.NoError(t, err)

			blocked, err = repo.Blocked(ctx, watchURL)
			require.NoError(t, err)
			assert.False(t, blocked)
		})
	}
}

func TestFilter_EffectiveLimit(t *testing.T) {
	assert.Equal(t, storage.DefaultListLimit, storage.Filter{}.EffectiveLimit())
	assert.Equal(t, storage.MaxListLimit, storage.Filter{Limit: 10000}.EffectiveLimit())
	assert.Equal(t, 7, storage.Filter{Limit: 7}.EffectiveLimit())
}
