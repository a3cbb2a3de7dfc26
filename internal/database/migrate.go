package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/kchenfs/PrepDeck/internal/config"
)

type migration struct {
	version string
	sql     string
}

func migrations(t config.Tables) []migration {
	orders := qt(t.Schema, t.Orders)
	menu := qt(t.Schema, t.Menu)
	return []migration{
		{
			version: "0001_orders",
			sql: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					order_id             TEXT PRIMARY KEY,
					display_id           TEXT NOT NULL DEFAULT '',
					state                TEXT NOT NULL DEFAULT '',
					special_instructions TEXT NOT NULL DEFAULT '',
					items                JSONB NOT NULL,
					digest               TEXT NOT NULL,
					created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
					published_at         TIMESTAMPTZ
				)`, orders),
		},
		{
			version: "0002_orders_updated_at_idx",
			sql: fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (updated_at DESC)`,
				fmt.Sprintf(`"%s_updated_at_idx"`, t.Orders), orders),
		},
		{
			version: "0003_menu_items",
			sql: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					item_id        TEXT PRIMARY KEY,
					external_id    TEXT NOT NULL UNIQUE,
					item_name      TEXT NOT NULL DEFAULT '',
					name_mandarin  TEXT,
					location       TEXT NOT NULL CHECK (location IN ('front','back','both')),
					item_type      TEXT NOT NULL DEFAULT 'PARENT',
					base_price     BIGINT NOT NULL DEFAULT 0,
					price_modifier BIGINT NOT NULL DEFAULT 0
				)`, menu),
		},
	}
}

// Beginner opens transactions; *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// migrationLock is the pg_advisory_xact_lock key that serializes concurrent
// Migrate calls across processes.
const migrationLock int64 = 0x70726570646b // "prepdk"

// Migrate applies pending schema migrations in version order in a single
// transaction, recording each in <schema>.schema_migrations.
func Migrate(ctx context.Context, db Beginner, t config.Tables, logger *zap.Logger) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migrations: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLock); err != nil {
		return fmt.Errorf("locking migrations: %w", err)
	}

	applied := qt(t.Schema, "schema_migrations")
	if _, err := tx.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, t.Schema)); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT now()
		)
	`, applied)); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var done []string
	for _, m := range migrations(t) {
		var exists bool
		if err := tx.QueryRow(ctx,
			fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE version = $1)`, applied), m.version,
		).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %s: %w", m.version, err)
		}
		if exists {
			continue
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("executing migration %s: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`, applied), m.version,
		); err != nil {
			return fmt.Errorf("recording migration %s: %w", m.version, err)
		}
		done = append(done, m.version)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	for _, v := range done {
		logger.Info("migration applied", zap.String("version", v))
	}
	return nil
}
