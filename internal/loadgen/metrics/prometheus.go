package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wesleyorama2/shiftload/internal/loadgen/outcome"
)

// Collectors mirrors run measurements into Prometheus metrics, labelled by
// scenario.
type Collectors struct {
	registry *prometheus.Registry

	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	slow       *prometheus.CounterVec
	iterations *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	activeVUs  *prometheus.GaugeVec
}

// NewCollectors creates the collectors on a fresh registry.
func NewCollectors() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shiftload_requests_total",
			Help: "Requests sent, by outcome classification",
		}, []string{"scenario", "classification"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shiftload_request_duration_seconds",
			Help:    "Request latency distribution",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"scenario"}),
		slow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shiftload_slow_responses_total",
			Help: "Responses slower than the scenario's slow threshold",
		}, []string{"scenario"}),
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shiftload_iterations_total",
			Help: "Completed iterations",
		}, []string{"scenario"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shiftload_dropped_iterations_total",
			Help: "Iterations not started because no VU was free",
		}, []string{"scenario"}),
		activeVUs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shiftload_active_vus",
			Help: "Virtual users currently running",
		}, []string{"scenario"}),
	}

	c.registry.MustRegister(c.requests, c.duration, c.slow, c.iterations, c.dropped, c.activeVUs)
	return c
}

// Registry returns the registry the collectors are registered on.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetActiveVUs publishes the scenario's VU count.
func (c *Collectors) SetActiveVUs(scenario string, n int) {
	c.activeVUs.WithLabelValues(scenario).Set(float64(n))
}

// ForScenario returns a recorder that labels measurements with scenario.
func (c *Collectors) ForScenario(scenario string) *ScenarioCollector {
	return &ScenarioCollector{c: c, scenario: scenario}
}

// ScenarioCollector records one scenario's measurements into Collectors.
type ScenarioCollector struct {
	c        *Collectors
	scenario string
}

func (s *ScenarioCollector) RecordOutcome(o outcome.Outcome) {
	s.c.requests.WithLabelValues(s.scenario, string(o.Classification)).Inc()
	s.c.duration.WithLabelValues(s.scenario).Observe(o.Duration.Seconds())
	if o.Slow {
		s.c.slow.WithLabelValues(s.scenario).Inc()
	}
}

func (s *ScenarioCollector) RecordIteration(time.Duration) {
	s.c.iterations.WithLabelValues(s.scenario).Inc()
}

func (s *ScenarioCollector) RecordDropped() {
	s.c.dropped.WithLabelValues(s.scenario).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collectors) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
