package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesApplied 按结果统计跟随更新：ok / failed / released
	UpdatesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "follow_updates_applied_total",
		Help: "View updates applied to mirrors by result",
	}, []string{"result"})

	// ApplyDuration 一次更新从入队到装好选区的耗时，主要是等锚点
	ApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "follow_update_apply_duration_seconds",
		Help:    "Time spent applying one view update, including anchor waits",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	ActiveViews = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "follow_active_views",
		Help: "Leader views currently mirrored",
	})

	BufferOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "follow_buffer_ops_total",
		Help: "Buffer revisions submitted by result",
	}, []string{"result"})

	KafkaSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "follow_kafka_events_sent_total",
		Help: "Audit events published by event type",
	}, []string{"type"})

	KafkaDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "follow_kafka_events_dropped_total",
		Help: "Audit events dropped after exhausting retries",
	})
)
