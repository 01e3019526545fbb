package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Member is one line of one group.
type Member struct {
	RunID     string
	GroupNo   int // 1-based, in ranked order
	GroupSize int
	Position  int // 1-based within the group
	Line      string
	LineHash  string
}

// RunRecord summarizes one run.
type RunRecord struct {
	RunID          string
	Source         string
	LinesRead      int
	LinesValid     int
	LinesInvalid   int
	LinesDuplicate int
	Groups         int
	MultiGroups    int
	StartedAt      time.Time
	FinishedAt     time.Time
}

// MemberColumns is the column order of the members table. Backends and
// MemberValues agree on it.
var MemberColumns = []string{"run_id", "group_no", "group_size", "position", "line", "line_hash"}

// MemberKey is the primary key of the members table.
var MemberKey = []string{"run_id", "group_no", "position"}

// RunColumns is the column order of the runs table.
var RunColumns = []string{
	"run_id", "source",
	"lines_read", "lines_valid", "lines_invalid", "lines_duplicate",
	"groups_total", "groups_multi",
	"started_at", "finished_at",
}

// RunsTable returns the name of the runs table that belongs to table.
func RunsTable(table string) string { return table + "_runs" }

// MemberValues returns m in MemberColumns order.
func MemberValues(m Member) []any {
	return []any{m.RunID, int64(m.GroupNo), int64(m.GroupSize), int64(m.Position), m.Line, m.LineHash}
}

// RunValues returns r in RunColumns order. Times are left to the backend.
func RunValues(r RunRecord) []any {
	return []any{
		r.RunID, r.Source,
		int64(r.LinesRead), int64(r.LinesValid), int64(r.LinesInvalid), int64(r.LinesDuplicate),
		int64(r.Groups), int64(r.MultiGroups),
		r.StartedAt.UTC(), r.FinishedAt.UTC(),
	}
}

// LineHash returns the hex SHA-256 of line.
func LineHash(line string) string {
	sum := sha256.Sum256([]byte(line))
	return hex.EncodeToString(sum[:])
}

// Members flattens ranked groups into member rows for runID.
func Members(runID string, groups [][]string) []Member {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	out := make([]Member, 0, n)
	for gi, g := range groups {
		for pi, line := range g {
			out = append(out, Member{
				RunID:     runID,
				GroupNo:   gi + 1,
				GroupSize: len(g),
				Position:  pi + 1,
				Line:      line,
				LineHash:  LineHash(line),
			})
		}
	}
	return out
}

// Batches splits members into consecutive chunks of at most size rows.
// size <= 0 yields a single chunk.
func Batches(members []Member, size int) [][]Member {
	if len(members) == 0 {
		return nil
	}
	if size <= 0 || size >= len(members) {
		return [][]Member{members}
	}
	out := make([][]Member, 0, (len(members)+size-1)/size)
	for start := 0; start < len(members); start += size {
		end := start + size
		if end > len(members) {
			end = len(members)
		}
		out = append(out, members[start:end])
	}
	return out
}
