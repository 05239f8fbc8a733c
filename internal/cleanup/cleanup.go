package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/storage"
)

var partialSuffixes = []string{".part", ".ytdl", ".temp"}

func isPartial(name string) bool {
	for _, s := range partialSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}

	return strings.Contains(name, ".part-Frag")
}

// RemoveStalePartials deletes in-progress files in dir left behind by an
// earlier process. Files modified within olderThan are kept since a running
// download may still own them.
func RemoveStalePartials(ctx context.Context, dir string, olderThan time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}

		if e.IsDir() || !isPartial(e.Name()) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		if now.Sub(info.ModTime()) < olderThan {
			continue
		}

		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Error("failed to delete stale partial", "file", path, "err", err)

			continue
		}

		removed++

		logger.Info("deleted stale partial", "file", path)
	}

	return removed, nil
}

// DeleteExpiredFiles deletes artifacts of recorded downloads that finished
// more than keepDuration ago. Only files inside dir are touched.
func DeleteExpiredFiles(ctx context.Context, records []storage.Record, dir string, keepDuration time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	for _, rec := range records {
		filePath := rec.Outcome.ArtifactPath
		if !rec.Outcome.Success || filePath == "" || !within(root, filePath) {
			continue
		}

		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("failed to stat file", "file", filePath, "err", err)

			return err
		}

		finishedAt := rec.Outcome.FinishedAt
		if finishedAt.IsZero() {
			logger.Warn("missing finish time, using file mod time", "file", filePath)

			finishedAt = info.ModTime()
		}

		if now.Sub(finishedAt) > keepDuration {
			if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
				logger.Error("failed to delete expired file", "file", filePath, "err", err)

				return err
			}

			logger.Info("deleted expired file", "file", filePath, "download_id", rec.ID)
		}
	}

	return nil
}

func within(root, path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(root, abs)

	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "."
}
