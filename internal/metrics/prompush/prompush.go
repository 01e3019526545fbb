// Package prompush implements a Prometheus backend for the internal/metrics
// package. A batch run lives too briefly to be scraped, so collected metrics
// are pushed to a Pushgateway on Flush.
package prompush

import (
	"fmt"
	"strings"

	"linegroup/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Options controls the push target.
type Options struct {
	// URL of the Pushgateway. Empty disables pushing; metrics are still
	// collected and available through Registry.
	URL string

	// JobName is the grouping key "job". Defaults to "linegroup".
	JobName string

	// Grouping adds extra grouping labels (e.g. instance).
	Grouping map[string]string

	// Client overrides the HTTP client used for pushing.
	Client push.HTTPDoer
}

// Backend implements metrics.Backend on a private Prometheus registry.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	lines    *prometheus.CounterVec
	groups   *prometheus.CounterVec
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New registers the linegroup collectors on a fresh registry.
func New(opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "linegroup"
	}

	b := &Backend{
		reg: prometheus.NewRegistry(),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.LinesTotal,
			Help: "Input lines by kind (read, valid, invalid, duplicate).",
		}, []string{"kind"}),
		groups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.GroupsTotal,
			Help: "Groups produced by kind (all, multi).",
		}, []string{"kind"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline step executions.",
		}, []string{"step", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Pipeline step duration.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"step", "status"}),
	}

	for _, c := range []prometheus.Collector{b.lines, b.groups, b.steps, b.duration} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}

	if u := strings.TrimSpace(opts.URL); u != "" {
		p := push.New(u, job).Gatherer(b.reg)
		for k, v := range opts.Grouping {
			p = p.Grouping(k, v)
		}
		if opts.Client != nil {
			p = p.Client(opts.Client)
		}
		b.pusher = p
	}
	return b, nil
}

// Registry exposes the backing registry.
func (b *Backend) Registry() *prometheus.Registry { return b.reg }

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.LinesTotal:
		if k := labels["kind"]; k != "" {
			b.lines.WithLabelValues(k).Add(delta)
		}
	case metrics.GroupsTotal:
		if k := labels["kind"]; k != "" {
			b.groups.WithLabelValues(k).Add(delta)
		}
	case metrics.StepTotal:
		b.steps.WithLabelValues(labels["step"], status(labels)).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSeconds {
		return
	}
	b.duration.WithLabelValues(labels["step"], status(labels)).Observe(value)
}

// Flush pushes the registry, replacing the previous push of the same job.
func (b *Backend) Flush() error {
	if b.pusher == nil {
		return nil
	}
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

func status(labels metrics.Labels) string {
	if s := labels["status"]; s != "" {
		return s
	}
	return "unknown"
}

var _ metrics.Backend = (*Backend)(nil)
