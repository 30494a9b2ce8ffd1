package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// gooseUp is swapped out in tests.
var gooseUp = func(ctx context.Context, database *sql.DB, dir string) error {
	return goose.UpContext(ctx, database, dir)
}

// gooseLogger routes goose progress lines into the structured log.
type gooseLogger struct {
	log *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info("migrations", slog.String("detail", strings.TrimSpace(fmt.Sprintf(format, v...))))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error("migrations_fatal", slog.String("detail", strings.TrimSpace(fmt.Sprintf(format, v...))))
	os.Exit(1)
}

// RunMigrations applies every embedded migration that has not run yet. A nil logger silences goose.
func RunMigrations(ctx context.Context, database *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		goose.SetLogger(goose.NopLogger())
	} else {
		goose.SetLogger(gooseLogger{log: logger})
	}
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := gooseUp(ctx, database, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
