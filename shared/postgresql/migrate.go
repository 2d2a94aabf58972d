package postgresql

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DefaultMigrationsTable is the goose version table used when none is configured
const DefaultMigrationsTable = "schema_migrations"

// Migrate applies all pending embedded migrations
func (c *Client) Migrate(ctx context.Context, table string) error {
	if table == "" {
		table = DefaultMigrationsTable
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{log: c.logger})
	goose.SetTableName(table)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	c.logger.Info("Applying database migrations", slog.String("table", table))

	if err := goose.UpContext(ctx, c.db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

type gooseLogger struct {
	log *slog.Logger
}

func (g *gooseLogger) Printf(format string, args ...any) {
	g.log.Info(fmt.Sprintf(format, args...))
}

// Fatalf logs only; goose returns the error to the caller, which decides how to exit.
func (g *gooseLogger) Fatalf(format string, args ...any) {
	g.log.Error(fmt.Sprintf(format, args...))
}
