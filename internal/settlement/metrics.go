package settlement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_gateway_polls_total",
		Help: "Gateway status reads by result",
	}, []string{"result"})
	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_outcomes_total",
		Help: "Finished settlements by terminal status and whether this settlement wrote it",
	}, []string{"status", "applied"})
	notificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_notification_failures_total",
		Help: "SMS notifications that could not be sent",
	})
	settleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_duration_seconds",
		Help:    "Time from first poll to terminal outcome or abandonment",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
	})
	inflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_inflight",
		Help: "Background settlements currently running",
	})
)
