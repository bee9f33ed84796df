// Package metrics has prometheus metrics shared between packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricPanic = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "databyte_panic_total",
		Help: "Number of unhandled panics, by package.",
	},
	[]string{
		"pkg",
	},
)

// Panic is the package a panic was recovered in.
type Panic string

const (
	Usage Panic = "usage"
)

func init() {
	// Make the series show up before the first panic.
	for _, p := range []Panic{Usage} {
		metricPanic.WithLabelValues(string(p)).Add(0)
	}
}

// PanicInc counts a recovered panic in package pkg.
func PanicInc(pkg Panic) {
	metricPanic.WithLabelValues(string(pkg)).Inc()
}
