package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leadrelay"

type collectors struct {
	gatewayCalls     *prometheus.CounterVec
	dispatchResults  *prometheus.CounterVec
	drainedMessages  *prometheus.CounterVec
	gatewayAvailable prometheus.Gauge
	queueDepth       *prometheus.GaugeVec
	leads            *prometheus.CounterVec
	sendLatency      prometheus.Histogram
}

var singleton = sync.OnceValue(func() *collectors {
	return &collectors{
		gatewayCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Gateway send calls by classified outcome.",
		}, []string{"outcome"}),
		dispatchResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_results_total",
			Help:      "Dispatch requests by final state (delivered, queued, rejected).",
		}, []string{"state"}),
		drainedMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drained_messages_total",
			Help:      "Queued messages handled by drains, by result.",
		}, []string{"result"}),
		gatewayAvailable: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_available",
			Help:      "Last availability probe result (1 available, 0 unavailable).",
		}),
		queueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_messages",
			Help:      "Queued messages by status as of the last stats read.",
		}, []string{"status"}),
		leads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_total",
			Help:      "Inbound leads by ingestion result.",
		}, []string{"result"}),
		sendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_send_seconds",
			Help:      "Latency of gateway send calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
})

func GatewayCall(outcome string, seconds float64) {
	m := singleton()
	m.gatewayCalls.WithLabelValues(outcome).Inc()
	m.sendLatency.Observe(seconds)
}

func DispatchResult(state string) {
	singleton().dispatchResults.WithLabelValues(state).Inc()
}

func Drained(result string) {
	singleton().drainedMessages.WithLabelValues(result).Inc()
}

func GatewayAvailable(ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	singleton().gatewayAvailable.Set(v)
}

func QueueDepth(pending, sent, failed int) {
	m := singleton()
	m.queueDepth.WithLabelValues("pending").Set(float64(pending))
	m.queueDepth.WithLabelValues("sent").Set(float64(sent))
	m.queueDepth.WithLabelValues("failed").Set(float64(failed))
}

func Lead(result string) {
	singleton().leads.WithLabelValues(result).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
