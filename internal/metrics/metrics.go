// Package metrics holds the Prometheus instruments for the API and serves
// them on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once
	registry     = prometheus.NewRegistry()

	evaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hubo_progression_evaluations_total",
		Help: "Backlog progression evaluations by outcome reason.",
	}, []string{"reason"})

	advancements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hubo_progression_advancements_total",
		Help: "Backlog stage transitions by source and target stage.",
	}, []string{"from", "to"})

	generations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hubo_task_generation_total",
		Help: "Task generation calls by result (ok, failed).",
	}, []string{"result"})

	generationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hubo_task_generation_duration_seconds",
		Help:    "Duration of task generation calls.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hubo_http_requests_total",
		Help: "HTTP requests by method and status code.",
	}, []string{"method", "status"})

	watchers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hubo_progression_watchers",
		Help: "Open progression watch websockets.",
	})
)

// Register adds the instruments to the registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			evaluations,
			advancements,
			generations,
			generationDuration,
			httpRequests,
			watchers,
		)
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	Register()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func ObserveEvaluation(reason string) {
	evaluations.WithLabelValues(reason).Inc()
}

func ObserveAdvance(from, to string) {
	advancements.WithLabelValues(from, to).Inc()
}

func ObserveGeneration(ok bool, elapsed time.Duration) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	generations.WithLabelValues(result).Inc()
	generationDuration.Observe(elapsed.Seconds())
}

func ObserveHTTP(method string, status int) {
	httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func WatcherOpened() { watchers.Inc() }

func WatcherClosed() { watchers.Dec() }
