package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tickTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_pipeline_ticks_total",
		Help: "Pipeline ticks processed, by partition and kind.",
	}, []string{"partition", "kind"})

	tickDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_pipeline_ticks_dropped_total",
		Help: "Ticks dropped because a previous cycle was still in flight and the pending slot was taken.",
	}, []string{"partition", "kind"})

	tickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "traffic_pipeline_tick_duration_seconds",
		Help:    "Duration of one pipeline cycle.",
		Buckets: prometheus.DefBuckets,
	}, []string{"partition", "kind"})

	eventsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_shockwave_events_total",
		Help: "Shockwave events created, by partition and severity.",
	}, []string{"partition", "severity"})

	forecastFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_forecast_failures_total",
		Help: "Forecast cycles that fell back to physical-only output.",
	}, []string{"partition"})

	tickPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_pipeline_panics_total",
		Help: "Panics recovered at the partition boundary.",
	}, []string{"partition"})
)
