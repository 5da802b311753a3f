package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"webserver-bench/internal/logging"
	"webserver-bench/internal/results"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const prefix = "webserver_bench_"

var targetTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "target_transitions_total",
		Help: "Number of target state transitions by destination state",
	},
	[]string{"target", "state"},
)

var targetFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "target_failures_total",
		Help: "Number of target failures by stage",
	},
	[]string{"target", "stage"},
)

var requests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "requests_total",
		Help: "Number of measured requests by outcome",
	},
	[]string{"target", "scenario", "outcome"},
)

var scenarioLatency = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: prefix + "scenario_latency_seconds",
		Help: "Latency percentiles of the last completed scenario",
	},
	[]string{"target", "scenario", "quantile"},
)

var scenarioThroughput = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: prefix + "scenario_throughput_rps",
		Help: "Successful requests per second of the last completed scenario",
	},
	[]string{"target", "scenario"},
)

var scenarioDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    prefix + "scenario_duration_seconds",
		Help:    "Wall time of scenario executions",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	},
)

func RecordTransition(target, state string) {
	targetTransitions.WithLabelValues(target, state).Inc()
}

func RecordFailure(failure results.TargetFailure) {
	targetFailures.WithLabelValues(failure.Target, string(failure.Stage)).Inc()
}

func RecordScenario(r *results.ScenarioResult) {
	requests.WithLabelValues(r.Target, r.Scenario, "success").Add(float64(r.SuccessCount))
	requests.WithLabelValues(r.Target, r.Scenario, "http_error").Add(float64(r.HTTPErrors))
	requests.WithLabelValues(r.Target, r.Scenario, "transport_error").Add(float64(r.TransportErrors))
	requests.WithLabelValues(r.Target, r.Scenario, "timeout").Add(float64(r.Timeouts))

	scenarioLatency.WithLabelValues(r.Target, r.Scenario, "0.5").Set(r.Latency.P50.Seconds())
	scenarioLatency.WithLabelValues(r.Target, r.Scenario, "0.9").Set(r.Latency.P90.Seconds())
	scenarioLatency.WithLabelValues(r.Target, r.Scenario, "0.99").Set(r.Latency.P99.Seconds())
	scenarioThroughput.WithLabelValues(r.Target, r.Scenario).Set(r.Throughput)
	scenarioDuration.Observe(r.Elapsed.Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	logger := logging.GetLogger()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", addr).Info("Serving Prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
