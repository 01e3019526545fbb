package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"linegroup/internal/storage"
)

// maxParams keeps statements under SQL Server's 2100 parameter limit.
const maxParams = 2000

// execCloser is the part of *sql.DB the repository uses.
type execCloser interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}

// Repo implements storage.Repository for Microsoft SQL Server.
//
// There is no ON CONFLICT here: inserts are INSERT ... SELECT FROM (VALUES ...)
// WHERE NOT EXISTS on the primary key. The server does not collapse duplicate
// keys inside one VALUES source, so members are deduplicated first.
//
// The "sqlserver" driver is registered by internal/storage/all.
type Repo struct {
	db execCloser
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() {
	if r != nil && r.db != nil {
		r.db.Close()
	}
}

// EnsureTables creates both tables behind OBJECT_ID guards. Idempotent.
func (r *Repo) EnsureTables(ctx context.Context, table string) error {
	for _, q := range buildCreateSQL(table) {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", table, err)
		}
	}
	return nil
}

// InsertRun records one run summary unless its run id already exists.
func (r *Repo) InsertRun(ctx context.Context, table string, run storage.RunRecord) error {
	q, args := buildInsertNotExistsSQL(storage.RunsTable(table), storage.RunColumns, [][]any{storage.RunValues(run)}, []string{"run_id"})
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("mssql: insert run %s: %w", run.RunID, err)
	}
	return nil
}

// InsertMembers inserts members that are not stored yet, chunked under the
// parameter limit.
func (r *Repo) InsertMembers(ctx context.Context, table string, members []storage.Member) (int64, error) {
	var total int64
	for _, chunk := range storage.Batches(dedupeMembers(members), maxParams/len(storage.MemberColumns)) {
		rows := make([][]any, len(chunk))
		for i, m := range chunk {
			rows[i] = storage.MemberValues(m)
		}
		q, args := buildInsertNotExistsSQL(table, storage.MemberColumns, rows, storage.MemberKey)
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert members: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// dedupeMembers keeps the first member of every (run_id, group_no, position),
// preserving order.
func dedupeMembers(members []storage.Member) []storage.Member {
	type key struct {
		run             string
		group, position int
	}
	seen := make(map[key]bool, len(members))
	out := make([]storage.Member, 0, len(members))
	for _, m := range members {
		k := key{m.RunID, m.GroupNo, m.Position}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, m)
	}
	return out
}

func buildCreateSQL(table string) []string {
	return []string{
		createIfMissing(table,
			"[run_id] NVARCHAR(36) NOT NULL",
			"[group_no] INT NOT NULL",
			"[group_size] INT NOT NULL",
			"[position] INT NOT NULL",
			"[line] NVARCHAR(MAX) NOT NULL",
			"[line_hash] CHAR(64) NOT NULL",
			"PRIMARY KEY ("+joinIdents(storage.MemberKey)+")",
		),
		createIfMissing(storage.RunsTable(table),
			"[run_id] NVARCHAR(36) NOT NULL PRIMARY KEY",
			"[source] NVARCHAR(4000) NOT NULL",
			"[lines_read] BIGINT NOT NULL",
			"[lines_valid] BIGINT NOT NULL",
			"[lines_invalid] BIGINT NOT NULL",
			"[lines_duplicate] BIGINT NOT NULL",
			"[groups_total] BIGINT NOT NULL",
			"[groups_multi] BIGINT NOT NULL",
			"[started_at] DATETIME2 NOT NULL",
			"[finished_at] DATETIME2 NOT NULL",
		),
	}
}

// createIfMissing guards CREATE TABLE with OBJECT_ID; SQL Server has no
// CREATE TABLE IF NOT EXISTS.
func createIfMissing(table string, defs ...string) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(table, "'", "''"), quoteTable(table), strings.Join(defs, ", "))
}

// buildInsertNotExistsSQL renders rows as a VALUES source v and inserts the
// ones whose key columns match no existing row. Placeholders are @p1..@pN.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, key []string) (string, []any) {
	args := make([]any, 0, len(rows)*len(columns))
	tuples := make([]string, len(rows))
	ph := make([]string, len(columns))
	for i, row := range rows {
		for j := range columns {
			args = append(args, row[j])
			ph[j] = "@p" + strconv.Itoa(len(args))
		}
		tuples[i] = "(" + strings.Join(ph, ", ") + ")"
	}

	sel := make([]string, len(columns))
	for i, c := range columns {
		sel[i] = "v." + quoteIdent(c)
	}
	match := make([]string, len(key))
	for i, k := range key {
		match[i] = "t." + quoteIdent(k) + " = v." + quoteIdent(k)
	}

	target, cols := quoteTable(table), joinIdents(columns)
	q := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM (VALUES %s) AS v(%s) WHERE NOT EXISTS (SELECT 1 FROM %s t WHERE %s)",
		target, cols, strings.Join(sel, ", "), strings.Join(tuples, ", "), cols, target, strings.Join(match, " AND "))
	return q, args
}

func joinIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// quoteIdent brackets one identifier part; ']' is doubled.
func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// quoteTable brackets each part of a possibly schema-qualified name:
// "dbo.line_groups" -> [dbo].[line_groups].
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = quoteIdent(strings.TrimSpace(p))
	}
	return strings.Join(quoted, ".")
}
