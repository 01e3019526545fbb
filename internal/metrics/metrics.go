// Package metrics is the backend-neutral metrics facade used by the pipeline.
//
// Core code calls the package-level helpers; main selects a backend with
// SetBackend. The default backend discards everything.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions, e.g. {"step": "read", "status": "ok"}.
type Labels map[string]string

// Backend receives metric updates.
//
// Implementations must be safe for concurrent use and must ignore metric
// names they do not know.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names.
const (
	// Counter, labels: kind=read|valid|invalid|duplicate.
	LinesTotal = "linegroup_lines_total"

	// Counter, labels: kind=all|multi.
	GroupsTotal = "linegroup_groups_total"

	// Counter, labels: step, status=ok|error.
	StepTotal = "linegroup_step_total"

	// Histogram, labels: step, status=ok|error.
	StepDurationSeconds = "linegroup_step_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. nil restores the nop backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush pushes buffered metrics of the current backend.
func Flush() error { return current().Flush() }

// RecordStep counts one execution of step and observes its duration since start.
func RecordStep(step string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), l)
}

// AddLines adds n to the lines counter of the given kind. Zero is skipped.
func AddLines(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(LinesTotal, float64(n), Labels{"kind": kind})
}

// AddGroups adds n to the groups counter of the given kind. Zero is skipped.
func AddGroups(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(GroupsTotal, float64(n), Labels{"kind": kind})
}
