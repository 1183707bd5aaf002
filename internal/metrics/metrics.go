// Package metrics defines the Prometheus instruments for the scan pipeline,
// exposed through /metrics on the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rfidattend_checkins_total",
		Help: "Scans that opened a new attendance session.",
	})
	CheckOuts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rfidattend_checkouts_total",
		Help: "Scans that closed an open attendance session.",
	})
	ScansSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rfidattend_scans_suppressed_total",
		Help: "Readings dropped by the same-tag debounce window.",
	})
	ScansMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rfidattend_scans_malformed_total",
		Help: "Reader lines that did not parse as tag readings.",
	})
	ScansFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rfidattend_scans_failed_total",
		Help: "Scans that ended in a classified failure (unknown tag, store error).",
	})
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rfidattend_broadcast_subscribers",
		Help: "Currently connected live observers.",
	})
	SubscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rfidattend_broadcast_dropped_total",
		Help: "Observers disconnected for falling behind.",
	})
)
