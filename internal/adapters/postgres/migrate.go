package postgres

import (
	"context"
	_ "embed"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
)

// SchemaVersion is the version recorded in schema_migrations once schema.sql
// has been applied.
const SchemaVersion = 1

//go:embed schema.sql
var schema string

// Migrate applies the schema unless this version is already recorded. It is
// safe to call from every process on startup.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}

	return r.WithTx(ctx, func(tx pgx.Tx) error {
		var applied bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, SchemaVersion).Scan(&applied)
		if err != nil {
			return errors.Wrap(err, "read schema version")
		}
		if applied {
			return nil
		}
		if _, err := tx.Exec(ctx, schema); err != nil {
			return errors.Wrapf(err, "apply schema version %d", SchemaVersion)
		}
		_, err = tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`, SchemaVersion)
		return errors.Wrap(err, "record schema version")
	})
}
