package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// BulkInsert loads rows into table with the COPY protocol, skipping rows that
// collide with an existing unique value. The batch is staged in a temp table
// and moved with INSERT ... ON CONFLICT DO NOTHING, which honors partial
// unique indexes without naming a conflict target. Returns the number of rows
// that landed.
func BulkInsert(ctx context.Context, pool Pool, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, eris.New("db: bulk insert: no columns specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: bulk insert: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tempTable := fmt.Sprintf("_bulk_%s", strings.ReplaceAll(table, ".", "_"))

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: bulk insert: create temp table for %s", table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: bulk insert: COPY into temp table for %s", table)
	}

	colList := quoteAndJoin(columns)
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT DO NOTHING",
		sanitizeTable(table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
	)
	tag, err := tx.Exec(ctx, insertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: bulk insert: INSERT from temp table for %s", table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: bulk insert: commit tx")
	}

	return tag.RowsAffected(), nil
}

// sanitizeTable handles schema-qualified table names.
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
