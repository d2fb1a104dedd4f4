package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	authflow "github.com/arnevik/authflow"
)

type metricsSource interface {
	MetricsSnapshot() authflow.MetricsSnapshot
	AuditDropped() uint64
}

type counterDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

type histogramDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

var counterDefs = []counterDef{
	{authflow.MetricCallbackAccepted, "authflow_callback_accepted_total", "Provider callbacks that parsed into an actionable result."},
	{authflow.MetricCallbackMalformed, "authflow_callback_malformed_total", "Unrecognized provider callback payloads."},
	{authflow.MetricExchangeSuccess, "authflow_exchange_success_total", "Successful authorization-code exchanges."},
	{authflow.MetricExchangeFailure, "authflow_exchange_failure_total", "Failed authorization-code exchanges."},
	{authflow.MetricChallengeRequired, "authflow_challenge_required_total", "Flows entering the multi-factor step."},
	{authflow.MetricChallengeSuccess, "authflow_challenge_confirmed_total", "Confirmed multi-factor challenges."},
	{authflow.MetricChallengeFailure, "authflow_challenge_failed_total", "Failed multi-factor confirmations."},
	{authflow.MetricChallengeExceeded, "authflow_challenge_exceeded_total", "Challenges abandoned at the attempt cap."},
	{authflow.MetricProviderMismatch, "authflow_provider_mismatch_total", "Terminal provider-mismatch failures."},
	{authflow.MetricRetryScheduled, "authflow_retry_scheduled_total", "Transient failures that scheduled a retry."},
	{authflow.MetricRetryExhausted, "authflow_retry_exhausted_total", "Flows that ran out of retries."},
	{authflow.MetricHandoffForwarded, "authflow_handoff_forwarded_total", "Results delivered to an embedded host."},
	{authflow.MetricFlowAuthenticated, "authflow_flow_authenticated_total", "Flows that reached the authenticated state."},
	{authflow.MetricTokenPersisted, "authflow_token_persisted_total", "Session tokens written to the store."},
	{authflow.MetricTokenCleared, "authflow_token_cleared_total", "Explicit session token clears."},
}

var histogramDefs = []histogramDef{
	{authflow.MetricDispatchLatency, "authflow_dispatch_latency_ms", "Flow dispatch latency in milliseconds."},
}

// histogramBounds are the upper bounds of the core latency buckets, in
// milliseconds. The last bucket is +Inf.
var histogramBounds = [8]string{"5", "10", "25", "50", "100", "250", "500", "+Inf"}

// PrometheusExporter renders authflow metrics in Prometheus text
// exposition format without depending on the Prometheus client library.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates an exporter reading from the given
// [authflow.Engine].
func NewPrometheusExporter(engine *authflow.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates an exporter from a custom
// metrics source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler serving the rendered metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current metrics in Prometheus text exposition format.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)

	for _, def := range counterDefs {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}

	for _, def := range histogramDefs {
		writeHistogram(&b, def.Name, def.Help, cumulativeBuckets(snapshot.Histograms[def.ID]))
	}

	writeCounter(&b, "authflow_audit_dropped_total", "Dropped audit events due to dispatcher backpressure.", dropped)

	return b.String()
}

// cumulativeBuckets converts per-bucket counts into the cumulative form the
// exposition format requires. Missing or short inputs read as zero.
func cumulativeBuckets(buckets []uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(out); i++ {
		if i < len(buckets) {
			running += buckets[i]
		}
		out[i] = running
	}
	return out
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" histogram\n")

	for i, le := range histogramBounds {
		b.WriteString(name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(le)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}

	count := cumulative[len(cumulative)-1]
	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(count, 10))
	b.WriteByte('\n')

	// Sum is not available in core snapshots; keep a stable field for compatibility.
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
