package db

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockKey serialises concurrent Migrate calls across processes.
const migrationLockKey = 4207731

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, in filename order. The whole run is one transaction
// holding a transaction-scoped advisory lock.
func Migrate(ctx context.Context, pool Pool) error {
	log := zap.L().With(zap.String("component", "db.migrate"))

	names, err := migrationNames()
	if err != nil {
		return err
	}

	return WithTx(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
			return eris.Wrap(err, "db: acquire migration advisory lock")
		}
		if err := ensureMigrationTable(ctx, tx); err != nil {
			return err
		}

		applied, err := appliedMigrations(ctx, tx)
		if err != nil {
			return err
		}

		pending := 0
		for _, name := range names {
			if applied[name] {
				continue
			}

			data, err := migrationFS.ReadFile("migrations/" + name)
			if err != nil {
				return eris.Wrapf(err, "db: read migration %s", name)
			}

			log.Info("applying migration", zap.String("file", name))
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return eris.Wrapf(err, "db: apply migration %s", name)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())",
				name,
			); err != nil {
				return eris.Wrapf(err, "db: record migration %s", name)
			}
			pending++
		}

		log.Info("migrations complete", zap.Int("applied", pending), zap.Int("total", len(names)))
		return nil
	})
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "db: read migration dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func ensureMigrationTable(ctx context.Context, q Querier) error {
	sql := `CREATE TABLE IF NOT EXISTS schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := q.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "db: ensure migration table")
	}
	return nil
}

func appliedMigrations(ctx context.Context, q Querier) (map[string]bool, error) {
	rows, err := q.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "db: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "db: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
