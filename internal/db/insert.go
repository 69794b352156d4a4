package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// NewRows is a batch destined for a table with a unique key. Rows whose key
// already exists are skipped, as are later duplicates within the batch.
type NewRows struct {
	Table      string
	Columns    []string
	UniqueKeys []string
	Rows       [][]any
}

// InsertNew stages b.Rows in a temp table with COPY and moves the rows that
// are new into b.Table, all inside tx. It returns how many rows were inserted.
// The staging table is dropped on commit, so call it at most once per table
// per transaction.
func InsertNew(ctx context.Context, tx pgx.Tx, b NewRows) (int64, error) {
	if len(b.Rows) == 0 {
		return 0, nil
	}
	if len(b.Columns) == 0 {
		return 0, eris.Errorf("db: insert into %s: no columns", b.Table)
	}
	if len(b.UniqueKeys) == 0 {
		return 0, eris.Errorf("db: insert into %s: no unique key", b.Table)
	}

	staging := stagingTable(b.Table)
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{staging}.Sanitize(), qualified(b.Table),
	)); err != nil {
		return 0, eris.Wrapf(err, "db: stage %s", b.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, b.Columns, pgx.CopyFromRows(b.Rows)); err != nil {
		return 0, eris.Wrapf(err, "db: copy %d rows for %s", len(b.Rows), b.Table)
	}

	tag, err := tx.Exec(ctx, insertNewSQL(b.Table, staging, b.Columns, b.UniqueKeys))
	if err != nil {
		return 0, eris.Wrapf(err, "db: insert new rows into %s", b.Table)
	}
	return tag.RowsAffected(), nil
}

func insertNewSQL(table, staging string, columns, keys []string) string {
	cols := identList(columns)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO NOTHING",
		qualified(table), cols, cols, pgx.Identifier{staging}.Sanitize(), identList(keys))
}

func stagingTable(table string) string {
	return "_staging_" + strings.ReplaceAll(table, ".", "_")
}

// qualified quotes a table name that may carry a schema, e.g. "public.leads".
func qualified(table string) string {
	return pgx.Identifier(strings.SplitN(table, ".", 2)).Sanitize()
}

func identList(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = pgx.Identifier{n}.Sanitize()
	}
	return strings.Join(out, ", ")
}
