package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	receivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhookrelay_received_total",
		Help: "Webhooks admitted by the ingestion endpoint",
	})
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhookrelay_delivery_attempts_total",
		Help: "Outbound delivery attempts by outcome",
	}, []string{"outcome"})
	deliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhookrelay_delivery_latency_seconds",
		Help:    "Round-trip time of outbound delivery attempts",
		Buckets: prometheus.DefBuckets,
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveReceived() {
	receivedTotal.Inc()
}

func ObserveDelivery(success bool, latencyMs int64) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	deliveriesTotal.WithLabelValues(outcome).Inc()
	deliveryLatency.Observe(float64(latencyMs) / 1000)
}
