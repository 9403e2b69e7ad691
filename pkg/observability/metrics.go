package observability

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aretw0/quill/internal/logging"
	"github.com/aretw0/quill/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the execution collectors.
type Metrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	events     *prometheus.CounterVec
	inFlight   prometheus.Gauge
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
}

// Option configures Metrics.
type Option func(*Metrics)

// WithLogger logs every execution start and finish.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Metrics) {
		m.logger = logger
	}
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg *prometheus.Registry, opts ...Option) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_cell_executions_total",
				Help: "Total number of finished cell executions by status",
			},
			[]string{"status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quill_cell_execution_duration_seconds",
				Help:    "Duration of cell executions",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"status"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quill_execution_events_total",
				Help: "Total number of execution events received by kind",
			},
			[]string{"kind"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quill_cell_executions_in_flight",
			Help: "Number of cell executions currently running",
		}),
		gatherer: reg,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	reg.MustRegister(m.executions, m.duration, m.events, m.inFlight)
	return m
}

// Hooks returns lifecycle hooks that record into the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnExecuteStart: func(ctx context.Context, info *domain.ExecutionInfo) {
			m.inFlight.Inc()
			m.logger.Info("execute_start", "cell_id", info.CellID, "session_id", info.SessionID)
		},
		OnEvent: func(ctx context.Context, info *domain.ExecutionInfo, ev domain.ExecutionEvent) {
			m.events.WithLabelValues(string(ev.Kind())).Inc()
		},
		OnExecuteFinish: func(ctx context.Context, info *domain.ExecutionInfo) {
			m.inFlight.Dec()
			status := string(info.Status)
			m.executions.WithLabelValues(status).Inc()
			m.duration.WithLabelValues(status).Observe(info.Duration.Seconds())
			if info.Err != nil {
				m.logger.Warn("execute_finish", "cell_id", info.CellID, "status", status, "err", info.Err)
				return
			}
			m.logger.Info("execute_finish", "cell_id", info.CellID, "status", status, "duration", info.Duration)
		},
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Combine merges several hook sets; each callback runs in order.
func Combine(all ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range all {
		if h.OnExecuteStart != nil {
			prev := out.OnExecuteStart
			out.OnExecuteStart = func(ctx context.Context, info *domain.ExecutionInfo) {
				if prev != nil {
					prev(ctx, info)
				}
				h.OnExecuteStart(ctx, info)
			}
		}
		if h.OnEvent != nil {
			prev := out.OnEvent
			out.OnEvent = func(ctx context.Context, info *domain.ExecutionInfo, ev domain.ExecutionEvent) {
				if prev != nil {
					prev(ctx, info, ev)
				}
				h.OnEvent(ctx, info, ev)
			}
		}
		if h.OnExecuteFinish != nil {
			prev := out.OnExecuteFinish
			out.OnExecuteFinish = func(ctx context.Context, info *domain.ExecutionInfo) {
				if prev != nil {
					prev(ctx, info)
				}
				h.OnExecuteFinish(ctx, info)
			}
		}
	}
	return out
}
