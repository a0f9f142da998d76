package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearJournal truncates the envelope journal and, when includeSchemas is set, the schema
// table. Tables are preserved; only data is removed.
func ClearJournal(ctx context.Context, pool *pgxpool.Pool, includeSchemas bool) error {
	slog.Info(fmt.Sprintf("%s - Clearing journal (schemas=%v)", clearLogPrefix, includeSchemas))

	stmt := `TRUNCATE TABLE envelopes`
	if includeSchemas {
		stmt = `TRUNCATE TABLE envelopes, schemas`
	}
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Journal cleared", clearLogPrefix))
	return nil
}
