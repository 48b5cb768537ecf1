package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

const (
	eventsMetric = "webrtc_rendezvous_events_total"
	gaugeMetric  = "webrtc_rendezvous_state"
)

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// Counters are exported as one metric with an `event` label; registered
// gauges as one metric with a `name` label.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		writeFamily(w, eventsMetric, "counter", "Internal event counters.", "event", m.Snapshot())
		if gauges := m.sampleGauges(); len(gauges) > 0 {
			writeFamily(w, gaugeMetric, "gauge", "Sampled broker state.", "name", gauges)
		}
	})
}

func writeFamily[V uint64 | int64](w io.Writer, metric, typ, help, label string, values map[string]V) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", metric, help)
	_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", metric, typ)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%s{%s=\"%s\"} %d\n", metric, label, labelEscaper.Replace(k), values[k])
	}
}
