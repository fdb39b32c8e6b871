package prometheus

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrEthical07/tenantauth"
	"github.com/MrEthical07/tenantauth/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() tenantauth.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders engine metrics in the Prometheus text format.
type PrometheusExporter struct {
	source metricsSource
}

func NewPrometheusExporter(engine *tenantauth.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource reads from anything that exposes a
// snapshot and the audit drop count.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render over HTTP.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = io.WriteString(w, p.Render())
	})
}

// Render returns the current metrics, or "" when metrics are disabled.
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
	b.Grow(4096)
	for _, def := range internaldefs.CounterDefs {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		writeHistogram(&b, def.Name, def.Help, buckets)
	}
	writeCounter(&b, "tenantauth_audit_dropped_total", "Audit events dropped because the dispatcher queue was full.", dropped)
	return b.String()
}

func writeHeader(w io.Writer, name, help, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, escapeHelp(help), name, kind)
}

func writeCounter(w io.Writer, name, help string, value uint64) {
	writeHeader(w, name, help, "counter")
	fmt.Fprintf(w, "%s %d\n", name, value)
}

func writeHistogram(w io.Writer, name, help string, cumulative [8]uint64) {
	writeHeader(w, name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		fmt.Fprintf(w, "%s_bucket{le=%q} %d\n", name, le, cumulative[i])
	}
	fmt.Fprintf(w, "%s_count %d\n", name, cumulative[len(cumulative)-1])
	// snapshots carry no sum
	fmt.Fprintf(w, "%s_sum 0\n", name)
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func escapeHelp(help string) string { return helpEscaper.Replace(help) }
