package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"linegroup/internal/storage"
)

// maxParams is the Postgres wire-protocol limit on bind parameters.
const maxParams = 65535

/*
Repo implements storage.Repository for Postgres.

Inserts use ON CONFLICT DO NOTHING against the primary keys, so replaying a
run never fails and never duplicates rows. Member batches are written inside
one transaction so a failed batch leaves no partial rows.
*/
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pool for cfg.DSN and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTables creates the schema (for qualified names) and both tables.
func (r *Repo) EnsureTables(ctx context.Context, table string) error {
	schemaSQL, stmts := buildCreateSQL(table)
	if schemaSQL != "" {
		if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("postgres: create schema for %s: %w", table, err)
		}
	}
	for _, s := range stmts {
		if _, err := r.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", table, err)
		}
	}
	return nil
}

// InsertRun records one run summary.
func (r *Repo) InsertRun(ctx context.Context, table string, run storage.RunRecord) error {
	sql, args := buildInsertSQL(storage.RunsTable(table), storage.RunColumns, [][]any{storage.RunValues(run)}, []string{"run_id"})
	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("postgres: insert run %s: %w", run.RunID, err)
	}
	return nil
}

// InsertMembers writes members in one transaction, chunked under the bind
// parameter limit.
func (r *Repo) InsertMembers(ctx context.Context, table string, members []storage.Member) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	for _, chunk := range storage.Batches(members, maxParams/len(storage.MemberColumns)) {
		rows := make([][]any, len(chunk))
		for i, m := range chunk {
			rows[i] = storage.MemberValues(m)
		}
		sql, args := buildInsertSQL(table, storage.MemberColumns, rows, storage.MemberKey)
		cmd, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return 0, fmt.Errorf("postgres: insert members: %w", err)
		}
		total += cmd.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return total, nil
}

// buildInsertSQL renders one multi-row INSERT with $1..$N placeholders and,
// when conflict columns are given, ON CONFLICT (...) DO NOTHING. Every row must
// have len(columns) values.
func buildInsertSQL(table string, columns []string, rows [][]any, conflict []string) (string, []any) {
	args := make([]any, 0, len(rows)*len(columns))
	tuples := make([]string, len(rows))
	ph := make([]string, len(columns))
	for i, row := range rows {
		for j := range columns {
			args = append(args, row[j])
			ph[j] = "$" + strconv.Itoa(len(args))
		}
		tuples[i] = "(" + strings.Join(ph, ", ") + ")"
	}

	q := "INSERT INTO " + pgTableIdent(table) + " (" + pgIdentList(columns) + ") VALUES " + strings.Join(tuples, ", ")
	if len(conflict) > 0 {
		q += " ON CONFLICT (" + pgIdentList(conflict) + ") DO NOTHING"
	}
	return q + ";", args
}

// buildCreateSQL builds DDL for the members table, its runs table and the
// line_hash index. schemaSQL is empty for unqualified names.
func buildCreateSQL(table string) (schemaSQL string, stmts []string) {
	schema, _ := splitQualifiedName(table)
	if schema != "" {
		schemaSQL = "CREATE SCHEMA IF NOT EXISTS " + pgIdent(schema) + ";"
	}

	members := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	"run_id" uuid NOT NULL,
	"group_no" integer NOT NULL,
	"group_size" integer NOT NULL,
	"position" integer NOT NULL,
	"line" text NOT NULL,
	"line_hash" char(64) NOT NULL,
	PRIMARY KEY ("run_id", "group_no", "position")
);`, pgTableIdent(table))

	runs := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	"run_id" uuid PRIMARY KEY,
	"source" text NOT NULL,
	"lines_read" bigint NOT NULL,
	"lines_valid" bigint NOT NULL,
	"lines_invalid" bigint NOT NULL,
	"lines_duplicate" bigint NOT NULL,
	"groups_total" bigint NOT NULL,
	"groups_multi" bigint NOT NULL,
	"started_at" timestamptz NOT NULL,
	"finished_at" timestamptz NOT NULL
);`, pgTableIdent(storage.RunsTable(table)))

	_, bare := splitQualifiedName(table)
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("line_hash");`,
		pgIdent(bare+"_line_hash_idx"), pgTableIdent(table))

	return schemaSQL, []string{members, runs, idx}
}

// splitQualifiedName splits "schema.table". Only a single dot is handled;
// anything else is treated as unqualified.
func splitQualifiedName(name string) (schema, table string) {
	name = strings.TrimSpace(name)
	if strings.Count(name, ".") != 1 {
		return "", name
	}
	schema, table, _ = strings.Cut(name, ".")
	return strings.TrimSpace(schema), strings.TrimSpace(table)
}

func pgIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func pgIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pgIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// pgTableIdent quotes a possibly schema-qualified table name.
func pgTableIdent(name string) string {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}
