package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

// writeMetrics writes the metrics gathered during the command, such as
// recompute durations and file errors, in the prometheus text format, e.g. for
// the node exporter textfile collector.
func writeMetrics(path string) {
	err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
	xcheckf(err, "writing metrics")
}
