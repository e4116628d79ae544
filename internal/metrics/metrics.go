// Package metrics records dispatch counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// RecordSend counts one delivery attempt. Labels are embedded in the metric
// name.
func RecordSend(kind, outcome string) {
	metrics.GetOrCreateCounter(`dispatch_sends_total{kind="` + kind + `",outcome="` + outcome + `"}`).Inc()
}

func RecordRun(job, result string, started time.Time) {
	metrics.GetOrCreateCounter(`dispatch_runs_total{job="` + job + `",result="` + result + `"}`).Inc()
	metrics.GetOrCreateHistogram(`dispatch_run_duration_seconds{job="` + job + `"}`).UpdateDuration(started)
}

func RecordReclaim(status string) {
	metrics.GetOrCreateCounter(`dispatch_reclaimed_total{status="` + status + `"}`).Inc()
}

func RecordRequest(route string, code int, started time.Time) {
	metrics.GetOrCreateHistogram(`http_request_duration_seconds{route="` + route + `",class="` + statusClass(code) + `"}`).UpdateDuration(started)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Handler serves every registered metric plus process metrics.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		metrics.WritePrometheus(w, true)
	})
}
