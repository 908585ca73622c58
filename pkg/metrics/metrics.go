// Package metrics defines the Prometheus collectors exported by the hub.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "collab_hub"

var (
	// Evictions counts connections dropped for a full queue or broken stream.
	Evictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evictions_total",
		Help:      "Connections evicted because they could not accept a message.",
	})

	// MessagesRelayed counts relayed client messages by type.
	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_relayed_total",
		Help:      "Client messages relayed to room members.",
	}, []string{"type"})

	// FramesDropped counts inbound frames discarded before dispatch.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Inbound frames dropped, by reason.",
	}, []string{"reason"})
)

// HubStats is the introspection surface sampled at scrape time.
type HubStats interface {
	ConnectionCount() int
	RoomCount() int
}

// RegisterHub registers gauges that sample stats on every scrape.
func RegisterHub(reg prometheus.Registerer, stats HubStats) error {
	connections := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Registered connections.",
	}, func() float64 { return float64(stats.ConnectionCount()) })

	rooms := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Non-empty rooms.",
	}, func() float64 { return float64(stats.RoomCount()) })

	for _, c := range []prometheus.Collector{connections, rooms} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes Prometheus metrics at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
