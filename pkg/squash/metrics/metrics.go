// Package metrics provides a squash.Observer backed by Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/strongdm/squash-go/pkg/squash"
)

const namespace = "squash"

// Observer records capture and delivery events as Prometheus metrics.
type Observer struct {
	captures   *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	queueDepth prometheus.Gauge
}

// NewObserver creates an Observer and registers its collectors with reg.
// A nil reg leaves the collectors unregistered.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Occurrences persisted to the local queue, by kind.",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Drain results, by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent posting one occurrence to the notify endpoint.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Occurrences in the local queue after the last drain.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{o.captures, o.deliveries, o.latency, o.queueDepth} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return o, nil
}

// ObserveCapture counts a persisted occurrence.
func (o *Observer) ObserveCapture(occ squash.Occurrence) {
	kind := "exception"
	if _, ok := occ.Kind.(squash.Signal); ok {
		kind = "signal"
	}
	o.captures.WithLabelValues(kind).Inc()
}

// ObserveDelivery counts a drain result. Latency is only recorded for
// results that reached the network.
func (o *Observer) ObserveDelivery(r squash.DeliveryResult) {
	o.deliveries.WithLabelValues(string(r.Outcome)).Inc()
	if r.Outcome == squash.OutcomeAcknowledged || r.Outcome == squash.OutcomeRetryLater {
		o.latency.WithLabelValues(string(r.Outcome)).Observe(r.Duration.Seconds())
	}
}

// ObserveQueueDepth sets the queue depth gauge.
func (o *Observer) ObserveQueueDepth(n int) {
	o.queueDepth.Set(float64(n))
}

var _ squash.Observer = (*Observer)(nil)
