package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// InitSchema loads schemaSQL into an empty database. The jobs table stands
// in for the whole schema: when it exists this is a no-op and Migrate
// brings older layouts up to date. The load runs in one transaction so a
// failed apply leaves nothing half-created.
func (db *DB) InitSchema(ctx context.Context, schemaSQL []byte) error {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = current_schema() AND tablename = 'jobs')`,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}
	if exists {
		db.log.Debug().Msg("schema already initialized, skipping")
		return nil
	}

	db.log.Info().Msg("fresh database detected, applying schema")
	err = pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, string(schemaSQL))
		return err
	})
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	db.log.Info().Msg("schema applied")
	return nil
}
