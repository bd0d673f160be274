// Package metrics owns the prometheus collectors exported by the dashboard.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cortex"

// Failure kinds used as the "kind" label.
const (
	KindDecode     = "decode"
	KindHandler    = "handler"
	KindPanic      = "panic"
	KindValidation = "validation"
	KindDriver     = "driver"
)

// Metrics groups the collectors touched by the core packages. All methods are
// safe on a nil receiver so packages can be used without metrics in tests.
type Metrics struct {
	messagesReceived prometheus.Counter
	relayDropped     prometheus.Counter
	dispatchFailures *prometheus.CounterVec
	commandsSent     *prometheus.CounterVec
	commandFailures  *prometheus.CounterVec
	trackedWindows   prometheus.Gauge
	bufferedSamples  prometheus.Gauge
	busConnected     prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_received_total",
			Help:      "Messages handed from the bus client to the relay.",
		}),
		relayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_dropped_total",
			Help:      "Messages dropped because the consumer relay was full.",
		}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Subscriber handler failures by kind.",
		}, []string{"kind"}),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Set commands accepted and handed to instrument drivers.",
		}, []string{"instrument"}),
		commandFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_failures_total",
			Help:      "Rejected or failed set commands.",
		}, []string{"instrument", "kind"}),
		trackedWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "telemetry_tracked_windows",
			Help:      "Telemetry windows currently tracking a parameter.",
		}),
		bufferedSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "telemetry_buffered_samples",
			Help:      "Samples retained across all telemetry windows after the last prune.",
		}),
		busConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_connected",
			Help:      "1 while the bus client holds a broker connection.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.messagesReceived,
		m.relayDropped,
		m.dispatchFailures,
		m.commandsSent,
		m.commandFailures,
		m.trackedWindows,
		m.bufferedSamples,
		m.busConnected,
	}
}

func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

func (m *Metrics) RelayDropped() {
	if m == nil {
		return
	}
	m.relayDropped.Inc()
}

func (m *Metrics) DispatchFailure(kind string) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) CommandSent(instrument string) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(instrument).Inc()
}

func (m *Metrics) CommandFailed(instrument, kind string) {
	if m == nil {
		return
	}
	m.commandFailures.WithLabelValues(instrument, kind).Inc()
}

func (m *Metrics) SetTelemetry(windows, samples int) {
	if m == nil {
		return
	}
	m.trackedWindows.Set(float64(windows))
	m.bufferedSamples.Set(float64(samples))
}

func (m *Metrics) SetBusConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.busConnected.Set(1)
		return
	}
	m.busConnected.Set(0)
}

// Registry is a private prometheus registry holding the core metrics and the
// Go runtime collectors.
type Registry struct {
	prom    *prometheus.Registry
	metrics *Metrics
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	m := newMetrics()
	reg.MustRegister(m.collectors()...)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{prom: reg, metrics: m}
}

func (r *Registry) Metrics() *Metrics {
	return r.metrics
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.prom
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}

// Serve exposes the registry on addr until ctx is cancelled.
func (r *Registry) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
