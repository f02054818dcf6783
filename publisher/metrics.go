package publisher

import (
	"context"
	"time"

	accounts "github.com/goliatone/go-accounts"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts published events by kind and result.
type Metrics struct {
	published *prometheus.CounterVec
	latency   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_events_published_total",
			Help: "Account events handed to the publisher, by kind and result.",
		}, []string{"kind", "result"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "accounts_event_publish_seconds",
			Help:    "Latency of event publish calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.published, m.latency)
	return m
}

// Instrument wraps next so each publish is counted and timed.
func (m *Metrics) Instrument(next accounts.EventPublisher) accounts.EventPublisher {
	return accounts.EventPublisherFunc(func(ctx context.Context, topic string, event accounts.Event) error {
		start := time.Now()
		err := next.Publish(ctx, topic, event)
		m.latency.Observe(time.Since(start).Seconds())

		result := "ok"
		if err != nil {
			result = "error"
		}
		m.published.WithLabelValues(string(event.Kind), result).Inc()
		return err
	})
}
