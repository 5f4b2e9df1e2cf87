package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what flows through the box. Registered on a private
// registry so the /metrics endpoint only exposes our own series.
type Metrics struct {
	Registry *prometheus.Registry

	Commands *prometheus.CounterVec
	Events   *prometheus.CounterVec
	Gestures *prometheus.CounterVec
	Volume   prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "musicbox_commands_total",
			Help: "Commands consumed by the control loop, by command name.",
		}, []string{"command"}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "musicbox_events_total",
			Help: "Events forwarded to listeners, by event name.",
		}, []string{"event"}),
		Gestures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "musicbox_gestures_total",
			Help: "Button gestures classified from pin activity, by kind.",
		}, []string{"kind"}),
		Volume: factory.NewGauge(prometheus.GaugeOpts{
			Name: "musicbox_volume",
			Help: "Current output volume, 0 to 1.",
		}),
	}
}
