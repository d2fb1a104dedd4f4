package prometheus

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	authflow "github.com/arnevik/authflow"
)

type fakeSource struct {
	snapshot authflow.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authflow.MetricsSnapshot { return f.snapshot }
func (f *fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderCounters(t *testing.T) {
	source := &fakeSource{
		snapshot: authflow.MetricsSnapshot{
			Counters: map[authflow.MetricID]uint64{
				authflow.MetricFlowAuthenticated: 7,
				authflow.MetricRetryScheduled:    2,
			},
			Histograms: map[authflow.MetricID][]uint64{},
		},
	}

	out := NewPrometheusExporterFromSource(source).Render()

	if !strings.Contains(out, "authflow_flow_authenticated_total 7") {
		t.Errorf("missing authenticated counter:\n%s", out)
	}
	if !strings.Contains(out, "authflow_retry_scheduled_total 2") {
		t.Errorf("missing retry counter:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE authflow_flow_authenticated_total counter") {
		t.Errorf("missing TYPE line:\n%s", out)
	}
}

func TestRenderHistogramCumulative(t *testing.T) {
	source := &fakeSource{
		snapshot: authflow.MetricsSnapshot{
			Counters: map[authflow.MetricID]uint64{},
			Histograms: map[authflow.MetricID][]uint64{
				authflow.MetricDispatchLatency: {3, 1, 0, 0, 0, 0, 0, 2},
			},
		},
	}

	out := NewPrometheusExporterFromSource(source).Render()

	if !strings.Contains(out, `authflow_dispatch_latency_ms_bucket{le="5"} 3`) {
		t.Errorf("wrong first bucket:\n%s", out)
	}
	if !strings.Contains(out, `authflow_dispatch_latency_ms_bucket{le="10"} 4`) {
		t.Errorf("buckets not cumulative:\n%s", out)
	}
	if !strings.Contains(out, `authflow_dispatch_latency_ms_bucket{le="+Inf"} 6`) {
		t.Errorf("wrong +Inf bucket:\n%s", out)
	}
	if !strings.Contains(out, "authflow_dispatch_latency_ms_count 6") {
		t.Errorf("wrong count:\n%s", out)
	}
}

func TestRenderAuditDropped(t *testing.T) {
	source := &fakeSource{
		snapshot: authflow.MetricsSnapshot{
			Counters:   map[authflow.MetricID]uint64{},
			Histograms: map[authflow.MetricID][]uint64{},
		},
		dropped: 5,
	}

	out := NewPrometheusExporterFromSource(source).Render()
	if !strings.Contains(out, "authflow_audit_dropped_total 5") {
		t.Errorf("missing dropped counter:\n%s", out)
	}
}

func TestRenderEmptySnapshot(t *testing.T) {
	source := &fakeSource{
		snapshot: authflow.MetricsSnapshot{
			Counters:   map[authflow.MetricID]uint64{},
			Histograms: map[authflow.MetricID][]uint64{},
		},
	}

	if out := NewPrometheusExporterFromSource(source).Render(); out != "" {
		t.Errorf("expected empty render, got:\n%s", out)
	}
}

func TestHandlerContentType(t *testing.T) {
	source := &fakeSource{
		snapshot: authflow.MetricsSnapshot{
			Counters:   map[authflow.MetricID]uint64{authflow.MetricTokenPersisted: 1},
			Histograms: map[authflow.MetricID][]uint64{},
		},
	}

	srv := httptest.NewServer(NewPrometheusExporterFromSource(source).Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Errorf("unexpected content type %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "authflow_token_persisted_total 1") {
		t.Errorf("missing counter in body:\n%s", body)
	}
}
