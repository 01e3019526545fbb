package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeRepo struct{}

func (fakeRepo) Close()                                            {}
func (fakeRepo) EnsureTables(context.Context, string) error         { return nil }
func (fakeRepo) InsertRun(context.Context, string, RunRecord) error { return nil }
func (fakeRepo) InsertMembers(context.Context, string, []Member) (int64, error) {
	return 0, nil
}

func TestRegisterAndNew(t *testing.T) {
	errBoom := errors.New("boom")
	Register("fake-ok", func(ctx context.Context, cfg Config) (Repository, error) {
		if cfg.DSN != "mem" {
			t.Errorf("dsn=%q, want mem", cfg.DSN)
		}
		return fakeRepo{}, nil
	})
	Register("fake-err", func(ctx context.Context, cfg Config) (Repository, error) {
		return nil, errBoom
	})

	if _, err := New(context.Background(), Config{Kind: "fake-ok", DSN: "mem"}); err != nil {
		t.Fatalf("New(fake-ok): %v", err)
	}
	if _, err := New(context.Background(), Config{Kind: "fake-err"}); !errors.Is(err, errBoom) {
		t.Fatalf("New(fake-err) err=%v, want errBoom", err)
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	_, err := New(context.Background(), Config{Kind: "nope"})
	if err == nil || !strings.Contains(err.Error(), "fake-ok") {
		t.Fatalf("unsupported kind err=%v, want registered kinds listed", err)
	}
}

func TestRegister_Panics(t *testing.T) {
	ok := func(ctx context.Context, cfg Config) (Repository, error) { return fakeRepo{}, nil }
	Register("fake-dup", ok)

	tests := []struct {
		name string
		kind string
		f    factory
	}{
		{name: "empty_kind", kind: "", f: ok},
		{name: "nil_factory", kind: "fake-nil", f: nil},
		{name: "duplicate", kind: "fake-dup", f: ok},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			Register(tc.kind, tc.f)
		})
	}
}

func TestMembers(t *testing.T) {
	t.Parallel()

	groups := [][]string{{`"a";"b"`, `"a";"c"`}, {`"x"`}}
	got := Members("run-1", groups)
	if len(got) != 3 {
		t.Fatalf("len=%d, want 3", len(got))
	}

	want := []Member{
		{RunID: "run-1", GroupNo: 1, GroupSize: 2, Position: 1, Line: `"a";"b"`},
		{RunID: "run-1", GroupNo: 1, GroupSize: 2, Position: 2, Line: `"a";"c"`},
		{RunID: "run-1", GroupNo: 2, GroupSize: 1, Position: 1, Line: `"x"`},
	}
	for i, w := range want {
		g := got[i]
		if g.RunID != w.RunID || g.GroupNo != w.GroupNo || g.GroupSize != w.GroupSize || g.Position != w.Position || g.Line != w.Line {
			t.Fatalf("member[%d]=%+v, want %+v", i, g, w)
		}
		if g.LineHash != LineHash(w.Line) {
			t.Fatalf("member[%d] hash mismatch", i)
		}
	}
}

func TestLineHash(t *testing.T) {
	t.Parallel()

	// sha256("")
	if got := LineHash(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("LineHash(\"\")=%s", got)
	}
	if LineHash("a") == LineHash("a ") {
		t.Fatalf("hash must distinguish trailing whitespace")
	}
}

func TestBatches(t *testing.T) {
	t.Parallel()

	ms := Members("r", [][]string{{"1", "2", "3", "4", "5"}})

	tests := []struct {
		name string
		size int
		want []int
	}{
		{name: "exact", size: 5, want: []int{5}},
		{name: "remainder", size: 2, want: []int{2, 2, 1}},
		{name: "zero_single_chunk", size: 0, want: []int{5}},
		{name: "larger", size: 100, want: []int{5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Batches(ms, tc.size)
			if len(got) != len(tc.want) {
				t.Fatalf("chunks=%d, want %d", len(got), len(tc.want))
			}
			for i, n := range tc.want {
				if len(got[i]) != n {
					t.Fatalf("chunk[%d]=%d, want %d", i, len(got[i]), n)
				}
			}
		})
	}

	if Batches(nil, 3) != nil {
		t.Fatalf("Batches(nil) must be nil")
	}
}

func TestValuesFollowColumnOrder(t *testing.T) {
	t.Parallel()

	m := Member{RunID: "r", GroupNo: 2, GroupSize: 3, Position: 1, Line: "l", LineHash: "h"}
	if got := MemberValues(m); len(got) != len(MemberColumns) || got[0] != "r" || got[4] != "l" || got[5] != "h" {
		t.Fatalf("MemberValues=%v", got)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	r := RunRecord{RunID: "r", Source: "in.txt", LinesRead: 4, StartedAt: at, FinishedAt: at}
	got := RunValues(r)
	if len(got) != len(RunColumns) {
		t.Fatalf("RunValues len=%d, want %d", len(got), len(RunColumns))
	}
	if ts := got[8].(time.Time); ts.Location() != time.UTC || !ts.Equal(at) {
		t.Fatalf("started_at=%v, want UTC of %v", ts, at)
	}
	if RunsTable("line_groups") != "line_groups_runs" {
		t.Fatalf("RunsTable mismatch")
	}
}
