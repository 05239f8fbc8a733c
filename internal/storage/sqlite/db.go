package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/jmoiron/sqlx"
	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

const (
	driverName = "sqlite3"

	DefaultFile = "mediafetch.db"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open opens the SQLite database at path, creating its directory if needed,
// and applies pending migrations.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	if path == "" {
		path = DefaultFile
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Open(driverName, path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// a single writer avoids SQLITE_BUSY between concurrent jobs
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}

// Migrate runs the embedded migrations against db.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	logger := logctx.LoggerFromContext(ctx)

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger: logger})

	if err := goose.SetDialect(driverName); err != nil {
		return fmt.Errorf("failed to set dialect for DB migration: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate DB: %w", err)
	}

	logger.Debug("database migrations applied")

	return nil
}

// gooseLogger routes migration output through slog.
type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
	os.Exit(1)
}
