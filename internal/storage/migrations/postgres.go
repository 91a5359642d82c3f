package migrations

import (
	"context"
	"fmt"

	"fifo-allocator/internal/storage/postgres"
)

const createSchemaMigrations = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		name        TEXT PRIMARY KEY,
		applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// RunPostgresMigrations applies embedded SQL files in lexical order. Each file
// runs in its own transaction and is recorded in schema_migrations, so files
// already applied are skipped on the next start.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) ([]string, error) {
	files, err := readMigrations(PostgresFS, "postgres")
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, createSchemaMigrations); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, f := range files {
		ok, err := applyPostgresFile(ctx, pool, f)
		if err != nil {
			return applied, err
		}
		if ok {
			applied = append(applied, f.Name)
		}
	}
	return applied, nil
}

func applyPostgresFile(ctx context.Context, pool *postgres.Pool, f migrationFile) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, f.Name)
	if err != nil {
		return false, fmt.Errorf("record migration %s: %w", f.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, f.SQL); err != nil {
		return false, fmt.Errorf("apply migration %s: %w", f.Name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", f.Name, err)
	}
	return true, nil
}
