package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig defines the parameters for an upsert.
type UpsertConfig struct {
	Table        string   // target table (e.g., "company" or "public.company")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

func (cfg UpsertConfig) validate() error {
	if len(cfg.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (cfg UpsertConfig) updateColumns() []string {
	if cfg.UpdateCols != nil {
		return cfg.UpdateCols
	}
	conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		conflictSet[k] = true
	}
	var cols []string
	for _, c := range cfg.Columns {
		if !conflictSet[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// setClause renders "col = EXCLUDED.col" pairs. With nothing to update it
// rewrites the first conflict key onto itself so RETURNING still yields a row.
func (cfg UpsertConfig) setClause() string {
	cols := cfg.updateColumns()
	if len(cols) == 0 {
		cols = cfg.ConflictKeys[:1]
	}
	clauses := make([]string, len(cols))
	for i, col := range cols {
		id := pgx.Identifier{col}.Sanitize()
		clauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", id, id)
	}
	return strings.Join(clauses, ", ")
}

// UpsertSQL builds a single-row INSERT ... ON CONFLICT ... DO UPDATE statement
// returning the row id.
func UpsertSQL(cfg UpsertConfig) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}

	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING id",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
		cfg.setClause(),
	), nil
}

// UpsertRow inserts or updates one row by its conflict keys and returns its id.
// Every update column is overwritten, including with NULL.
func UpsertRow(ctx context.Context, q Querier, cfg UpsertConfig, values []any) (int64, error) {
	if len(values) != len(cfg.Columns) {
		return 0, eris.Errorf("db: upsert %s: %d values for %d columns", cfg.Table, len(values), len(cfg.Columns))
	}
	sql, err := UpsertSQL(cfg)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := q.QueryRow(ctx, sql, values...).Scan(&id); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s", cfg.Table)
	}
	return id, nil
}

// BulkUpsert upserts many rows via a temp table and INSERT ... ON CONFLICT,
// inside the caller's transaction:
// 1. Creates a temp table shaped like the target, dropped on commit
// 2. COPY rows into the temp table
// 3. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO UPDATE SET ...
func BulkUpsert(ctx context.Context, tx Querier, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tempTable := fmt.Sprintf("_tmp_upsert_%s", strings.ReplaceAll(cfg.Table, ".", "_"))

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	colList := quoteAndJoin(cfg.Columns)
	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
		cfg.setClause(),
	)

	tag, err := tx.Exec(ctx, upsertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	return tag.RowsAffected(), nil
}

// sanitizeTable handles schema-qualified table names like "public.company".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
