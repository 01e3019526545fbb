package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"linegroup/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeAPI captures submitted payloads.
type fakeAPI struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
	sent     chan struct{}
}

func (f *fakeAPI) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, body)
	f.mu.Unlock()
	if f.sent != nil {
		f.sent <- struct{}{}
	}
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

// values indexes the last payload as "metric|tag,tag" -> value.
func (f *fakeAPI) values(t *testing.T) map[string]float64 {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		t.Fatalf("nothing submitted")
	}
	out := map[string]float64{}
	for _, s := range f.payloads[len(f.payloads)-1].Series {
		out[s.Metric+"|"+joinTags(s.Tags[3:])] = *s.Points[0].Value
	}
	return out
}

func joinTags(tags []string) string {
	out := ""
	for i, tg := range tags {
		if i > 0 {
			out += ","
		}
		out += tg
	}
	return out
}

// newTestBackend returns a backend whose loop only ticks when the test sends
// on the returned channel.
func newTestBackend(t *testing.T, api *fakeAPI) (*Backend, chan time.Time) {
	t.Helper()
	ticks := make(chan time.Time)
	b, err := NewBackend(context.Background(), Options{
		JobName: "job1",
		Tags:    []string{"team:data"},
		clock:   func() time.Time { return time.Unix(1700000000, 0) },
		ticks:   ticks,
		api:     api,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b, ticks
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name, env, ddEnv, want string
	}{
		{name: "ENV_wins", env: "prod", ddEnv: "stage", want: "env:prod"},
		{name: "DD_ENV_fallback", env: "  ", ddEnv: "stage", want: "env:stage"},
		{name: "unknown", want: "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.ddEnv)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestTagString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		labels   metrics.Labels
		required []string
		want     string
	}{
		{name: "sorted", labels: metrics.Labels{"status": "ok", "step": "read"}, want: "status:ok,step:read"},
		{name: "missing_required", labels: metrics.Labels{"step": "link"}, required: []string{"step", "status"}, want: "status:unknown,step:link"},
		{name: "empty_value_required", labels: metrics.Labels{"kind": ""}, required: []string{"kind"}, want: "kind:unknown"},
		{name: "empty_value_optional_skipped", labels: metrics.Labels{"x": ""}, want: ""},
		{name: "nil", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tagString(tc.labels, tc.required); got != tc.want {
				t.Fatalf("tagString=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestNearestRank(t *testing.T) {
	t.Parallel()

	vals := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		q    float64
		want float64
	}{
		{0, 1},
		{0.5, 5},
		{0.9, 9},
		{0.95, 10},
		{0.99, 10},
		{1, 10},
	}
	for _, tc := range tests {
		if got := nearestRank(vals, tc.q); got != tc.want {
			t.Fatalf("nearestRank(q=%v)=%v, want %v", tc.q, got, tc.want)
		}
	}
	if got := nearestRank([]float64{42}, 0.5); got != 42 {
		t.Fatalf("single sample=%v, want 42", got)
	}
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{" , ,", nil},
		{"team:data", []string{"team:data"}},
		{" team:data , region:eu ,", []string{"team:data", "region:eu"}},
	}
	for _, tc := range tests {
		if got := ParseTagsCSV(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFlush_SubmitsAggregatedSeries(t *testing.T) {
	t.Setenv("ENV", "test")
	api := &fakeAPI{}
	b, _ := newTestBackend(t, api)
	defer b.Close()

	b.IncCounter(metrics.LinesTotal, 3, metrics.Labels{"kind": "read"})
	b.IncCounter(metrics.LinesTotal, 2, metrics.Labels{"kind": "read"})
	b.IncCounter(metrics.GroupsTotal, 1, metrics.Labels{"kind": "multi"})
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "read", "status": "ok"})
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "store"})
	for _, v := range []float64{0.4, 0.1, 0.3, 0.2} {
		b.ObserveHistogram(metrics.StepDurationSeconds, v, metrics.Labels{"step": "read", "status": "ok"})
	}

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := map[string]float64{
		"linegroup.groups.total|kind:multi":                           1,
		"linegroup.lines.total|kind:read":                             5,
		"linegroup.step.total|status:ok,step:read":                    1,
		"linegroup.step.total|status:unknown,step:store":              1,
		"linegroup.step.duration_seconds.p50|status:ok,step:read":     0.2,
		"linegroup.step.duration_seconds.p90|status:ok,step:read":     0.4,
		"linegroup.step.duration_seconds.p95|status:ok,step:read":     0.4,
		"linegroup.step.duration_seconds.p99|status:ok,step:read":     0.4,
		"linegroup.step.duration_seconds.max|status:ok,step:read":     0.4,
		"linegroup.step.duration_seconds.samples|status:ok,step:read": 4,
	}
	if got := api.values(t); !reflect.DeepEqual(got, want) {
		t.Fatalf("series=%v\nwant %v", got, want)
	}

	api.mu.Lock()
	series := api.payloads[0].Series
	api.mu.Unlock()
	first := series[0]
	if got := first.Tags[:3]; !reflect.DeepEqual(got, []string{"env:test", "job:job1", "team:data"}) {
		t.Fatalf("base tags=%v", got)
	}
	if *first.Type != datadogV2.METRICINTAKETYPE_COUNT || *first.Points[0].Timestamp != 1700000000 {
		t.Fatalf("first series=%+v", first)
	}
	if last := series[len(series)-1]; *last.Type != datadogV2.METRICINTAKETYPE_GAUGE {
		t.Fatalf("histogram series must be gauges: %+v", last)
	}

	// The window was reset.
	if err := b.Flush(); err != nil || api.calls() != 1 {
		t.Fatalf("second flush err=%v calls=%d, want nil and 1", err, api.calls())
	}
}

func TestIgnoredUpdates(t *testing.T) {
	api := &fakeAPI{}
	b, _ := newTestBackend(t, api)
	defer b.Close()

	b.IncCounter("unknown_metric", 1, nil)
	b.IncCounter(metrics.LinesTotal, 0, metrics.Labels{"kind": "read"})
	b.IncCounter(metrics.LinesTotal, -1, metrics.Labels{"kind": "read"})
	b.ObserveHistogram(metrics.StepTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, -0.5, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if api.calls() != 0 {
		t.Fatalf("empty window must not be submitted, calls=%d", api.calls())
	}
}

func TestFlush_SubmitErrorDropsWindow(t *testing.T) {
	boom := errors.New("403 forbidden")
	api := &fakeAPI{err: boom}
	b, _ := newTestBackend(t, api)
	defer b.Close()

	b.IncCounter(metrics.GroupsTotal, 1, metrics.Labels{"kind": "all"})
	if err := b.Flush(); !errors.Is(err, boom) {
		t.Fatalf("Flush err=%v, want wrapped %v", err, boom)
	}

	api.err = nil
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if api.calls() != 1 {
		t.Fatalf("calls=%d, want 1 (failed window is not retried)", api.calls())
	}
}

func TestLoopFlushesOnTickAndCloseFlushesRest(t *testing.T) {
	api := &fakeAPI{sent: make(chan struct{}, 4)}
	b, ticks := newTestBackend(t, api)

	b.IncCounter(metrics.LinesTotal, 1, metrics.Labels{"kind": "read"})
	ticks <- time.Now()
	select {
	case <-api.sent:
	case <-time.After(5 * time.Second):
		t.Fatalf("tick did not flush")
	}

	b.IncCounter(metrics.LinesTotal, 1, metrics.Labels{"kind": "valid"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if api.calls() != 2 {
		t.Fatalf("calls=%d, want 2", api.calls())
	}
	if v := api.values(t); v["linegroup.lines.total|kind:valid"] != 1 {
		t.Fatalf("final flush=%v", v)
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("DD_ENV", "")

	b, err := NewBackend(context.Background(), Options{api: &fakeAPI{}})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	defer b.Close()

	if !reflect.DeepEqual(b.baseTags, []string{"env:unknown", "job:linegroup"}) {
		t.Fatalf("baseTags=%v", b.baseTags)
	}
}

func TestBackend_ConcurrentUpdates(t *testing.T) {
	api := &fakeAPI{}
	b, _ := newTestBackend(t, api)
	defer b.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.IncCounter(metrics.LinesTotal, 1, metrics.Labels{"kind": "read"})
				b.ObserveHistogram(metrics.StepDurationSeconds, 0.01, metrics.Labels{"step": "read", "status": "ok"})
			}
		}()
	}
	wg.Wait()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	v := api.values(t)
	if v["linegroup.lines.total|kind:read"] != 800 || v["linegroup.step.duration_seconds.samples|status:ok,step:read"] != 800 {
		t.Fatalf("values=%v", v)
	}
}
