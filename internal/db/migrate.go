package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"

	"contacts-api/internal/observability"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var gooseMu sync.Mutex

type gooseLogger struct {
	logger *observability.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info("migration", map[string]any{"detail": strings.TrimSpace(fmt.Sprintf(format, v...))})
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error("migration_failed", map[string]any{"detail": strings.TrimSpace(fmt.Sprintf(format, v...))})
}

// RunMigrations applies the embedded goose migrations that are not applied yet.
func RunMigrations(ctx context.Context, database *sql.DB, logger *observability.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationFiles)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{logger: logger})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, database, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}
