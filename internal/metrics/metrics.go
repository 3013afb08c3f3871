package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Turns           *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	AuditFailures   prometheus.Counter
	EnqueuedTurns   prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

// New returns unregistered collectors; tests use it to avoid the global registry.
func New() *Metrics {
	return &Metrics{
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aichat",
			Name:      "turns_total",
			Help:      "Chat turns handled, by tool and outcome kind",
		}, []string{"tool", "outcome"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aichat",
			Name:      "provider_request_seconds",
			Help:      "Latency of upstream provider calls",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"tool"}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aichat",
			Name:      "audit_failures_total",
			Help:      "History writes that failed and were absorbed",
		}),
		EnqueuedTurns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aichat",
			Name:      "turns_enqueued_total",
			Help:      "Async turns pushed to the redis stream",
		}),
	}
}

func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(global.Turns, global.ProviderLatency, global.AuditFailures, global.EnqueuedTurns)
	})
	return global
}
