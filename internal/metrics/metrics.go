// Package metrics exposes Prometheus metrics for the dashboard engine, the
// request workflow and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "strainboard"

// Recorder owns a registry and the collectors registered on it.
type Recorder struct {
	registry *prometheus.Registry

	datasetRows     prometheus.Gauge
	currentRows     prometheus.Gauge
	selections      prometheus.Counter
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	httpRequests    *prometheus.CounterVec
	workflow        *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

// New registers the collectors on a fresh registry. Process and Go runtime
// collectors are added when withRuntime is set.
func New(withRuntime bool) *Recorder {
	reg := prometheus.NewPedanticRegistry()
	r := &Recorder{
		registry: reg,
		datasetRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "inventory", Name: "rows",
			Help: "Rows in the full strain inventory.",
		}),
		currentRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "inventory", Name: "selected_rows",
			Help: "Rows in the filtered view.",
		}),
		selections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inventory", Name: "selections_total",
			Help: "Selections applied to the inventory.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inventory", Name: "refreshes_total",
			Help: "Inventory loads by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "inventory", Name: "refresh_duration_seconds",
			Help:    "Time spent loading the inventory.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		workflow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "requests", Name: "events_total",
			Help: "Strain request workflow events by action.",
		}, []string{"action"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "messages_total",
			Help: "Notification deliveries by kind and result.",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(
		r.datasetRows, r.currentRows, r.selections, r.refreshes, r.refreshDuration,
		r.httpRequests, r.workflow, r.notifications,
	)
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveLoad records a new full inventory.
func (r *Recorder) ObserveLoad(rows int) {
	r.datasetRows.Set(float64(rows))
	r.currentRows.Set(float64(rows))
}

// ObserveSelection records an applied selection.
func (r *Recorder) ObserveSelection(currentRows int) {
	r.selections.Inc()
	r.currentRows.Set(float64(currentRows))
}

// ObserveRefresh records one load attempt.
func (r *Recorder) ObserveRefresh(d time.Duration, err error) {
	r.refreshDuration.Observe(d.Seconds())
	r.refreshes.WithLabelValues(result(err)).Inc()
}

// ObserveWorkflow counts a request workflow action.
func (r *Recorder) ObserveWorkflow(action string) {
	r.workflow.WithLabelValues(action).Inc()
}

// ObserveNotification counts a delivery attempt.
func (r *Recorder) ObserveNotification(kind string, err error) {
	r.notifications.WithLabelValues(kind, result(err)).Inc()
}

// ObserveHTTP counts a served request.
func (r *Recorder) ObserveHTTP(route string, code int) {
	r.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler(logger *zap.Logger) http.Handler {
	opts := promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError}
	if logger != nil {
		opts.ErrorLog = zap.NewStdLog(logger)
	}
	return promhttp.HandlerFor(r.registry, opts)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
