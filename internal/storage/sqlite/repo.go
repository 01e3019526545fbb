package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"linegroup/internal/storage"
)

// maxParams is SQLite's default SQLITE_MAX_VARIABLE_NUMBER.
const maxParams = 32766

// Repo implements storage.Repository for SQLite.
//
// SQLite has no native timestamp type, so run times are stored as
// RFC3339Nano TEXT for reliable round-trips with modernc.org/sqlite.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database at cfg.DSN (a file path or "file:" URI) and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTables creates the members and runs tables. Idempotent.
func (r *Repo) EnsureTables(ctx context.Context, table string) error {
	for _, ddl := range buildCreateSQL(table) {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create table %s: %w", table, err)
		}
	}
	return nil
}

// InsertRun records one run. Re-inserting the same run id is a no-op.
func (r *Repo) InsertRun(ctx context.Context, table string, run storage.RunRecord) error {
	row := storage.RunValues(run)
	row[8] = formatSQLiteTime(run.StartedAt)
	row[9] = formatSQLiteTime(run.FinishedAt)

	q, args := buildInsertSQL(storage.RunsTable(table), storage.RunColumns, [][]any{row})
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("sqlite: insert run %s: %w", run.RunID, err)
	}
	return nil
}

// InsertMembers performs multi-row INSERT OR IGNORE in chunks that stay
// under the bound-parameter limit.
func (r *Repo) InsertMembers(ctx context.Context, table string, members []storage.Member) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}

	per := maxParams / len(storage.MemberColumns)
	var total int64
	for _, chunk := range storage.Batches(members, per) {
		rows := make([][]any, len(chunk))
		for i, m := range chunk {
			rows[i] = storage.MemberValues(m)
		}

		q, args := buildInsertSQL(table, storage.MemberColumns, rows)
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("sqlite: insert members: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// sqlIdent double-quotes an identifier, doubling embedded quotes.
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// buildCreateSQL returns DDL for the members table and its runs table.
func buildCreateSQL(table string) []string {
	members := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	"run_id" TEXT NOT NULL,
	"group_no" INTEGER NOT NULL,
	"group_size" INTEGER NOT NULL,
	"position" INTEGER NOT NULL,
	"line" TEXT NOT NULL,
	"line_hash" TEXT NOT NULL,
	PRIMARY KEY (%s)
)`, sqlIdent(table), joinIdentList(storage.MemberKey))

	runs := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	"run_id" TEXT PRIMARY KEY,
	"source" TEXT NOT NULL,
	"lines_read" INTEGER NOT NULL,
	"lines_valid" INTEGER NOT NULL,
	"lines_invalid" INTEGER NOT NULL,
	"lines_duplicate" INTEGER NOT NULL,
	"groups_total" INTEGER NOT NULL,
	"groups_multi" INTEGER NOT NULL,
	"started_at" TEXT NOT NULL,
	"finished_at" TEXT NOT NULL
)`, sqlIdent(storage.RunsTable(table)))

	hashIdx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("line_hash")`,
		sqlIdent(table+"_line_hash_idx"), sqlIdent(table))

	return []string{members, runs, hashIdx}
}

// buildInsertSQL builds one INSERT OR IGNORE with a VALUES tuple per row.
// The target's PRIMARY KEY makes the statement idempotent.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	tuple := "(" + strings.Repeat("?,", len(columns)-1) + "?)"
	tuples := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		tuples[i] = tuple
		args = append(args, row[:len(columns)]...)
	}
	return "INSERT OR IGNORE INTO " + sqlIdent(table) + " (" + joinIdentList(columns) + ") VALUES " + strings.Join(tuples, ", "), args
}

func joinIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = sqlIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// Run times are TEXT. We write RFC3339Nano in UTC; values written by other
// tools may use a space separator and may omit the zone (read as UTC).
var sqliteTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func formatSQLiteTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range sqliteTimeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("sqlite: unrecognized timestamp %q", s)
}

// LoadRun reads a run summary back. Used by tests and ad-hoc inspection.
func (r *Repo) LoadRun(ctx context.Context, table, runID string) (storage.RunRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE "run_id" = ?`,
		joinIdentList(storage.RunColumns), sqlIdent(storage.RunsTable(table)))

	var (
		run               storage.RunRecord
		started, finished string
	)
	err := r.db.QueryRowContext(ctx, q, runID).Scan(
		&run.RunID, &run.Source,
		&run.LinesRead, &run.LinesValid, &run.LinesInvalid, &run.LinesDuplicate,
		&run.Groups, &run.MultiGroups,
		&started, &finished,
	)
	if err != nil {
		return storage.RunRecord{}, fmt.Errorf("sqlite: load run %s: %w", runID, err)
	}
	if run.StartedAt, err = parseSQLiteTime(started); err != nil {
		return storage.RunRecord{}, err
	}
	if run.FinishedAt, err = parseSQLiteTime(finished); err != nil {
		return storage.RunRecord{}, err
	}
	return run, nil
}
