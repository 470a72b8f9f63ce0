package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "messagecat"

// Metrics groups the server's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	queueDepth    prometheus.Gauge
	busyHandlers  prometheus.Gauge
	accepted      prometheus.Counter
	rejected      *prometheus.CounterVec
	requests      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	snapshotFails *prometheus.CounterVec
	swept         *prometheus.CounterVec
	gatherer      prometheus.Gatherer
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "work_queue_depth",
			Help: "Connections waiting for a handler.",
		}),
		busyHandlers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "handlers_busy",
			Help: "Handlers currently serving a connection.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_accepted_total",
			Help: "Connections admitted to the work queue.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_rejected_total",
			Help: "Connections closed at admission.",
		}, []string{"reason"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total",
			Help: "Requests dispatched, by request type.",
		}, []string{"type"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Listen rule notifications, by delivery result.",
		}, []string{"result"}),
		snapshotFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "snapshot_write_failures_total",
			Help: "Snapshot writes that failed and were rolled back.",
		}, []string{"store"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "swept_records_total",
			Help: "Expired records removed by the sweeper.",
		}, []string{"kind"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.queueDepth, m.busyHandlers, m.accepted, m.rejected,
		m.requests, m.notifications, m.snapshotFails, m.swept,
	)
	return m
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) HandlerBusy(busy bool) {
	if m == nil {
		return
	}
	if busy {
		m.busyHandlers.Inc()
		return
	}
	m.busyHandlers.Dec()
}

func (m *Metrics) RecordAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
}

func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRequest(typ string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(typ).Inc()
}

func (m *Metrics) RecordNotification(delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSnapshotFailure(store string) {
	if m == nil {
		return
	}
	m.snapshotFails.WithLabelValues(store).Inc()
}

func (m *Metrics) RecordSwept(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.swept.WithLabelValues(kind).Add(float64(n))
}

// Serve exposes the collectors on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second} //nolint:mnd
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	zap.S().Named("metrics").Infow("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
