// Package pipeline runs one grouping job end to end:
//
//	read+parse (goroutine) -> build (goroutine) -> link -> report -> store
//
// The reader and the builder are tied together by an errgroup; every other
// stage runs sequentially on the caller's goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"linegroup/internal/cluster"
	"linegroup/internal/config"
	"linegroup/internal/metrics"
	"linegroup/internal/parser/line"
	"linegroup/internal/record"
	"linegroup/internal/report"
	"linegroup/internal/storage"
)

// Sentinel errors for the stage that failed. Callers use errors.Is.
var (
	ErrRead  = errors.New("read input")
	ErrWrite = errors.New("write report")
	ErrStore = errors.New("store groups")
)

// Logger is the minimal logging interface used by the runner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	Input      string
	Output     string
	Stats      cluster.Stats
	Groups     int
	MultiCount int
	Unions     int
	Stored     int64
	Elapsed    time.Duration
}

// Runner executes runs. Every field is a seam; NewDefaultRunner wires the
// production implementations.
type Runner struct {
	Open          func(path string) (io.ReadCloser, error)
	Create        func(path string) (io.WriteCloser, error)
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	NewRunID      func() string
	Now           func() time.Time
	Logger        Logger
}

// NewDefaultRunner returns a Runner backed by the file system, the storage
// registry and uuid run ids. logger may be nil.
func NewDefaultRunner(logger Logger) *Runner {
	return &Runner{
		Open: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
		Create: func(path string) (io.WriteCloser, error) {
			return os.Create(path)
		},
		NewRepository: storage.New,
		NewRunID:      uuid.NewString,
		Now:           time.Now,
		Logger:        logger,
	}
}

// Run executes cfg. Defaults are applied first; a config with validation
// errors is rejected before the input is opened.
//
// On failure the returned Summary holds whatever was known at that point and
// the error wraps ErrRead, ErrWrite or ErrStore.
func (r *Runner) Run(ctx context.Context, cfg config.Run) (sum Summary, err error) {
	cfg = config.ApplyDefaults(cfg)
	if issues := config.ValidateRun(cfg); config.HasErrors(issues) {
		return Summary{}, fmt.Errorf("pipeline: invalid config: %s", joinIssues(issues))
	}

	logf := r.logger()
	start := r.now()
	sum = Summary{RunID: r.runID(), Input: cfg.Source.Path}
	defer func() { sum.Elapsed = r.now().Sub(start) }()

	// read + build
	stepStart := time.Now()
	b, err := r.build(ctx, cfg, logf)
	metrics.RecordStep("read", stepStart, err)
	if err != nil {
		return sum, err
	}
	st := b.Stats()
	metrics.AddLines("read", st.Read)
	metrics.AddLines("valid", st.Valid)
	metrics.AddLines("invalid", st.Invalid)
	metrics.AddLines("duplicate", st.Duplicate)
	logf("stage=read ok duration=%s lines=%d valid=%d invalid=%d duplicate=%d",
		durMS(stepStart), st.Read, st.Valid, st.Invalid, st.Duplicate)

	// link
	stepStart = time.Now()
	part, err := b.Link()
	metrics.RecordStep("link", stepStart, err)
	if err != nil {
		return sum, fmt.Errorf("pipeline: link: %w", err)
	}
	sum.Stats = part.Stats
	sum.Groups = len(part.Groups)
	sum.MultiCount = part.MultiCount
	sum.Unions = part.Unions
	metrics.AddGroups("all", sum.Groups)
	metrics.AddGroups("multi", sum.MultiCount)
	logf("stage=link ok duration=%s columns=%d values=%d groups=%d multi=%d unions=%d",
		durMS(stepStart), part.Columns, part.Values, sum.Groups, sum.MultiCount, sum.Unions)

	// report
	sum.Output = cfg.Output.Path
	if sum.Output == "" {
		sum.Output = report.OutputPath(cfg.Source.Path, cfg.Output.Format)
	}
	stepStart = time.Now()
	err = r.writeReport(sum.Output, cfg.Output.Format, part)
	metrics.RecordStep("write", stepStart, err)
	if err != nil {
		return sum, err
	}
	logf("stage=write ok duration=%s path=%s", durMS(stepStart), sum.Output)

	// store
	if cfg.Storage.Enabled() {
		stepStart = time.Now()
		sum.Stored, err = r.store(ctx, cfg, sum, part, start)
		metrics.RecordStep("store", stepStart, err)
		if err != nil {
			return sum, err
		}
		logf("stage=store ok duration=%s kind=%s table=%s rows=%d",
			durMS(stepStart), cfg.Storage.Kind, cfg.Storage.Table, sum.Stored)
	}

	return sum, nil
}

// build streams the input into a fresh Builder. The reader goroutine owns
// the source; the builder goroutine owns the Builder until Wait returns.
func (r *Runner) build(ctx context.Context, cfg config.Run, logf func(string, ...any)) (*cluster.Builder, error) {
	src, err := r.Open(cfg.Source.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}

	b := cluster.NewBuilder()
	rows := make(chan *record.Row, cfg.Runtime.ChannelBuffer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(rows)
		return line.Stream(gctx, src, cfg.Source.Options, rows, func(n int, err error) {
			logf("stage=read line=%d err=%v", n, err)
		})
	})
	g.Go(func() error {
		for row := range rows {
			_, err := b.AddRow(row)
			row.Free()
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	return b, nil
}

func (r *Runner) writeReport(path, format string, part *cluster.Partition) error {
	w, err := r.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	res := report.Result{MultiCount: part.MultiCount, Groups: part.Groups}
	werr := report.Write(w, format, res)
	cerr := w.Close()
	if werr != nil {
		return fmt.Errorf("%w: %w", ErrWrite, werr)
	}
	if cerr != nil {
		return fmt.Errorf("%w: close %s: %w", ErrWrite, path, cerr)
	}
	return nil
}

// store persists members in runtime.batch_size chunks and then the run row,
// so a run row only exists for a fully stored run.
func (r *Runner) store(ctx context.Context, cfg config.Run, sum Summary, part *cluster.Partition, started time.Time) (int64, error) {
	repo, err := r.NewRepository(ctx, storage.Config{
		Kind: strings.ToLower(strings.TrimSpace(cfg.Storage.Kind)),
		DSN:  os.ExpandEnv(cfg.Storage.DSN),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %w", ErrStore, cfg.Storage.Kind, err)
	}
	defer repo.Close()

	table := cfg.Storage.Table
	if err := repo.EnsureTables(ctx, table); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStore, err)
	}

	var stored int64
	members := storage.Members(sum.RunID, part.Groups)
	for _, batch := range storage.Batches(members, cfg.Runtime.BatchSize) {
		n, err := repo.InsertMembers(ctx, table, batch)
		stored += n
		if err != nil {
			return stored, fmt.Errorf("%w: %w", ErrStore, err)
		}
	}

	st := part.Stats
	run := storage.RunRecord{
		RunID:          sum.RunID,
		Source:         cfg.Source.Path,
		LinesRead:      st.Read,
		LinesValid:     st.Valid,
		LinesInvalid:   st.Invalid,
		LinesDuplicate: st.Duplicate,
		Groups:         len(part.Groups),
		MultiGroups:    part.MultiCount,
		StartedAt:      started,
		FinishedAt:     r.now(),
	}
	if err := repo.InsertRun(ctx, table, run); err != nil {
		return stored, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return stored, nil
}

func (r *Runner) logger() func(format string, v ...any) {
	if r.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return r.Logger.Printf
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Runner) runID() string {
	if r.NewRunID == nil {
		return uuid.NewString()
	}
	return r.NewRunID()
}

func joinIssues(issues []config.Issue) string {
	parts := make([]string, 0, len(issues))
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			parts = append(parts, iss.Path+": "+iss.Message)
		}
	}
	return strings.Join(parts, "; ")
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
