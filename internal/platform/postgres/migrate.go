package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// Migration commands accepted by Migrate.
const (
	MigrateUp     = "up"
	MigrateDown   = "down"
	MigrateStatus = "status"
)

// Migrate runs a goose command against the embedded job-table migrations.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger, command string) error {
	switch command {
	case MigrateUp, MigrateDown, MigrateStatus:
	default:
		return fmt.Errorf("unsupported migration command %q", command)
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(&gooseLogger{logger: logger.With("component", "migrations")})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	logger.InfoContext(ctx, "running migrations", "command", command)
	if err := goose.RunContext(ctx, command, db, migrationsDir); err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	return nil
}

// gooseLogger forwards goose output to slog.
type gooseLogger struct {
	logger *slog.Logger
}

// Printf implements goose.Logger.
func (l *gooseLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf implements goose.Logger. It logs at error level and does not exit;
// the failure is returned from Migrate instead.
func (l *gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
