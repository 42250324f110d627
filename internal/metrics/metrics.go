// Package metrics exposes the Prometheus collectors of the classification service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cqevent_events_received_total",
			Help: "Total number of raw payloads received",
		},
		[]string{"source"},
	)

	EventBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cqevent_event_bytes_total",
			Help: "Total bytes of raw payload data received",
		},
	)

	// EventsClassified is labelled by resolved shape and match quality.
	EventsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cqevent_events_classified_total",
			Help: "Total number of payloads classified, by shape and match",
		},
		[]string{"shape", "match"},
	)

	ClassificationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cqevent_classification_errors_total",
			Help: "Total number of payloads rejected, by failure kind",
		},
		[]string{"kind"},
	)

	ClassificationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cqevent_classification_duration_seconds",
			Help:    "Duration of decode and classification in seconds",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
		},
	)

	PublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cqevent_publish_errors_total",
			Help: "Total number of classified events that could not be published",
		},
	)

	DuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cqevent_duplicates_dropped_total",
			Help: "Total number of payloads dropped as duplicates",
		},
	)

	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cqevent_dlq_writes_total",
			Help: "Total number of payloads written to the dead letter queue",
		},
		[]string{"reason", "status"},
	)

	QueueWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cqevent_workers_waiting",
			Help: "Number of payloads waiting for a free worker",
		},
	)
)
