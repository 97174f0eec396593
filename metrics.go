package singleton

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// instanceMetrics are the counters kept for one singleton name. They are
// registered in the default VictoriaMetrics set, so metrics.WritePrometheus
// exposes them.
type instanceMetrics struct {
	framesSent        *metrics.Counter
	framesReceived    *metrics.Counter
	decodeErrors      *metrics.Counter
	connectionsOpened *metrics.Counter
	connectionsClosed *metrics.Counter
	broadcasts        *metrics.Counter
}

func newInstanceMetrics(name string) *instanceMetrics {
	counter := func(metric string) *metrics.Counter {
		return metrics.GetOrCreateCounter(fmt.Sprintf("singleton_%s{name=%q}", metric, name))
	}
	return &instanceMetrics{
		framesSent:        counter("frames_sent_total"),
		framesReceived:    counter("frames_received_total"),
		decodeErrors:      counter("frame_decode_errors_total"),
		connectionsOpened: counter("connections_opened_total"),
		connectionsClosed: counter("connections_closed_total"),
		broadcasts:        counter("broadcasts_total"),
	}
}
