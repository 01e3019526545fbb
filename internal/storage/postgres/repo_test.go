package postgres

import (
	"strings"
	"testing"

	"linegroup/internal/storage"
)

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		table    string
		conflict []string
		want     string
	}{
		{
			name:  "plain",
			table: "line_groups",
			want:  `INSERT INTO "line_groups" ("a", "b") VALUES ($1, $2), ($3, $4);`,
		},
		{
			name:     "on_conflict",
			table:    "public.line_groups",
			conflict: []string{"a"},
			want:     `INSERT INTO "public"."line_groups" ("a", "b") VALUES ($1, $2), ($3, $4) ON CONFLICT ("a") DO NOTHING;`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sql, args := buildInsertSQL(tc.table, []string{"a", "b"}, [][]any{{1, "x"}, {2, "y"}}, tc.conflict)
			if sql != tc.want {
				t.Fatalf("sql=%q\nwant %q", sql, tc.want)
			}
			if len(args) != 4 || args[0] != 1 || args[3] != "y" {
				t.Fatalf("args=%v", args)
			}
		})
	}
}

func TestBuildInsertSQL_MembersUsesPrimaryKey(t *testing.T) {
	t.Parallel()

	ms := storage.Members("6f1c0e5e-0000-4000-8000-000000000000", [][]string{{"l1", "l2"}})
	rows := [][]any{storage.MemberValues(ms[0]), storage.MemberValues(ms[1])}
	sql, args := buildInsertSQL("g", storage.MemberColumns, rows, storage.MemberKey)

	if !strings.HasSuffix(sql, `ON CONFLICT ("run_id", "group_no", "position") DO NOTHING;`) {
		t.Fatalf("sql=%q", sql)
	}
	if !strings.Contains(sql, "$12") || strings.Contains(sql, "$13") {
		t.Fatalf("placeholder numbering wrong: %q", sql)
	}
	if len(args) != 12 {
		t.Fatalf("args=%d, want 12", len(args))
	}
}

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	schemaSQL, stmts := buildCreateSQL("results.line_groups")
	if schemaSQL != `CREATE SCHEMA IF NOT EXISTS "results";` {
		t.Fatalf("schemaSQL=%q", schemaSQL)
	}
	if len(stmts) != 3 {
		t.Fatalf("stmts=%d, want 3", len(stmts))
	}
	if !strings.Contains(stmts[0], `CREATE TABLE IF NOT EXISTS "results"."line_groups"`) ||
		!strings.Contains(stmts[0], `PRIMARY KEY ("run_id", "group_no", "position")`) {
		t.Fatalf("members DDL=%s", stmts[0])
	}
	if !strings.Contains(stmts[1], `"results"."line_groups_runs"`) || !strings.Contains(stmts[1], "timestamptz") {
		t.Fatalf("runs DDL=%s", stmts[1])
	}
	if !strings.Contains(stmts[2], `"line_groups_line_hash_idx"`) {
		t.Fatalf("index DDL=%s", stmts[2])
	}

	schemaSQL, _ = buildCreateSQL("line_groups")
	if schemaSQL != "" {
		t.Fatalf("unqualified table must not create a schema: %q", schemaSQL)
	}
}

func TestSplitQualifiedName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, schema, table string
	}{
		{"public.t", "public", "t"},
		{" t ", "", "t"},
		{"a.b.c", "", "a.b.c"},
	}
	for _, tc := range tests {
		s, tb := splitQualifiedName(tc.in)
		if s != tc.schema || tb != tc.table {
			t.Fatalf("splitQualifiedName(%q)=(%q,%q), want (%q,%q)", tc.in, s, tb, tc.schema, tc.table)
		}
	}
}
