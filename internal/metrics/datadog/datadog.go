// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Updates are aggregated in memory per (metric, tag set) and submitted on
// Flush: counters as COUNT series, histogram samples as p50/p90/p95/p99/max
// and sample-count gauges. A background loop flushes every FlushEvery so long
// runs produce a time series; Close stops it and flushes once more.
package datadog

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"linegroup/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName is sent as tag "job:<name>". Empty means "linegroup".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"team:data"}).
	Tags []string

	// FlushEvery is the submit interval. <= 0 means one minute.
	FlushEvery time.Duration

	// test seams
	clock func() time.Time
	ticks <-chan time.Time
	api   submitter
}

// submitter is the part of *datadogV2.MetricsApi used here.
type submitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Datadog names of the metrics this backend knows. Anything else is ignored.
var (
	counterNames = map[string]string{
		metrics.LinesTotal:  "linegroup.lines.total",
		metrics.GroupsTotal: "linegroup.groups.total",
		metrics.StepTotal:   "linegroup.step.total",
	}
	histogramNames = map[string]string{
		metrics.StepDurationSeconds: "linegroup.step.duration_seconds",
	}
)

// Labels every series of a metric carries; missing ones are sent as "unknown".
var requiredLabels = map[string][]string{
	metrics.LinesTotal:          {"kind"},
	metrics.GroupsTotal:         {"kind"},
	metrics.StepTotal:           {"step", "status"},
	metrics.StepDurationSeconds: {"step", "status"},
}

var quantiles = []struct {
	suffix string
	q      float64
}{
	{".p50", 0.50},
	{".p90", 0.90},
	{".p95", 0.95},
	{".p99", 0.99},
}

type seriesKey struct {
	metric string
	tags   string // sorted, comma-joined
}

// window holds everything observed since the last flush.
type window struct {
	counts  map[seriesKey]float64
	samples map[seriesKey][]float64
}

func newWindow() *window {
	return &window{
		counts:  make(map[seriesKey]float64),
		samples: make(map[seriesKey][]float64),
	}
}

func (w *window) empty() bool { return len(w.counts) == 0 && len(w.samples) == 0 }

// Backend implements metrics.Backend for Datadog. Safe for concurrent use.
type Backend struct {
	api      submitter
	ctx      context.Context
	baseTags []string
	clock    func() time.Time

	stop    context.CancelFunc
	stopped chan struct{}

	mu  sync.Mutex
	cur *window
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend builds a backend on the official client and starts its flush
// loop. Credentials (DD_API_KEY, DD_SITE) are read from the environment by
// dd.NewDefaultContext; missing ones surface as Flush errors.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := strings.TrimSpace(opts.JobName)
	if job == "" {
		job = "linegroup"
	}
	every := opts.FlushEvery
	if every <= 0 {
		every = time.Minute
	}

	b := &Backend{
		api:      opts.api,
		ctx:      dd.NewDefaultContext(parent),
		baseTags: append([]string{resolveEnvTag(), "job:" + job}, opts.Tags...),
		clock:    opts.clock,
		stopped:  make(chan struct{}),
		cur:      newWindow(),
	}
	if b.api == nil {
		b.api = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}
	if b.clock == nil {
		b.clock = time.Now
	}

	ticks := opts.ticks
	var ticker *time.Ticker
	if ticks == nil {
		ticker = time.NewTicker(every)
		ticks = ticker.C
	}

	loopCtx, cancel := context.WithCancel(parent)
	b.stop = cancel
	go func() {
		defer close(b.stopped)
		if ticker != nil {
			defer ticker.Stop()
		}
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticks:
				_ = b.Flush()
			}
		}
	}()
	return b, nil
}

// Close stops the flush loop and flushes what is left.
func (b *Backend) Close() error {
	b.stop()
	<-b.stopped
	return b.Flush()
}

// IncCounter implements metrics.Backend. Non-positive deltas are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	metric, ok := counterNames[name]
	if !ok || delta <= 0 {
		return
	}
	k := seriesKey{metric: metric, tags: tagString(labels, requiredLabels[name])}

	b.mu.Lock()
	b.cur.counts[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend. Negative samples are dropped.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	metric, ok := histogramNames[name]
	if !ok || value < 0 || math.IsNaN(value) {
		return
	}
	k := seriesKey{metric: metric, tags: tagString(labels, requiredLabels[name])}

	b.mu.Lock()
	b.cur.samples[k] = append(b.cur.samples[k], value)
	b.mu.Unlock()
}

// Flush submits the current window and starts a new one. The window is
// discarded even when the submit fails. An empty window sends nothing.
func (b *Backend) Flush() error {
	b.mu.Lock()
	w := b.cur
	b.cur = newWindow()
	b.mu.Unlock()

	if w.empty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.series(w, b.clock().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("datadog: submit metrics: %w", err)
	}
	return nil
}

// series renders w in a stable order: counters first, then histograms, each
// sorted by metric and tags.
func (b *Backend) series(w *window, ts int64) []datadogV2.MetricSeries {
	out := make([]datadogV2.MetricSeries, 0, len(w.counts)+(len(quantiles)+2)*len(w.samples))

	for _, k := range sortedSeriesKeys(w.counts) {
		out = append(out, point(k.metric, datadogV2.METRICINTAKETYPE_COUNT, w.counts[k], b.tagsFor(k), ts))
	}

	for _, k := range sortedSeriesKeys(w.samples) {
		vals := append([]float64(nil), w.samples[k]...)
		sort.Float64s(vals)
		tags := b.tagsFor(k)
		for _, q := range quantiles {
			out = append(out, point(k.metric+q.suffix, datadogV2.METRICINTAKETYPE_GAUGE, nearestRank(vals, q.q), tags, ts))
		}
		out = append(out,
			point(k.metric+".max", datadogV2.METRICINTAKETYPE_GAUGE, vals[len(vals)-1], tags, ts),
			point(k.metric+".samples", datadogV2.METRICINTAKETYPE_GAUGE, float64(len(vals)), tags, ts),
		)
	}
	return out
}

func (b *Backend) tagsFor(k seriesKey) []string {
	tags := make([]string, 0, len(b.baseTags)+2)
	tags = append(tags, b.baseTags...)
	if k.tags != "" {
		tags = append(tags, strings.Split(k.tags, ",")...)
	}
	return tags
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, ts int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(ts), Value: dd.PtrFloat64(value)}},
		Tags:   tags,
	}
}

// tagString renders labels as sorted "k:v" pairs. Required keys that are
// missing or empty get the value "unknown"; other empty values are skipped.
func tagString(labels metrics.Labels, required []string) string {
	pairs := make([]string, 0, len(labels)+len(required))
	seen := make(map[string]bool, len(labels))
	for k, v := range labels {
		if v == "" {
			continue
		}
		seen[k] = true
		pairs = append(pairs, k+":"+v)
	}
	for _, k := range required {
		if !seen[k] {
			pairs = append(pairs, k+":unknown")
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func sortedSeriesKeys[V any](m map[seriesKey]V) []seriesKey {
	keys := make([]seriesKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].metric != keys[j].metric {
			return keys[i].metric < keys[j].metric
		}
		return keys[i].tags < keys[j].tags
	})
	return keys
}

// nearestRank returns the q-quantile of sorted (non-empty) vals using the
// nearest-rank definition: the smallest value with at least q*n values <= it.
func nearestRank(sorted []float64, q float64) float64 {
	n := len(sorted)
	rank := int(math.Ceil(q * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

// resolveEnvTag picks the env tag from ENV, then DD_ENV.
func resolveEnvTag() string {
	for _, key := range []string{"ENV", "DD_ENV"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return "env:" + v
		}
	}
	return "env:unknown"
}

// ParseTagsCSV splits "team:data, region:eu" into tags, dropping blanks.
func ParseTagsCSV(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' }) {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
