// Package metrics exposes Prometheus counters for the thermostat client's
// diagnostic surface. A nil *Collector is valid and counts nothing, so
// embedding components never need to guard their instrumentation calls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector aggregates the client's diagnostic counters.
type Collector struct {
	framesDecoded   prometheus.Counter
	decodeErrors    *prometheus.CounterVec
	reconnects      prometheus.Counter
	degradations    prometheus.Counter
	commandsSent    prometheus.Counter
	commandsAcked   prometheus.Counter
	commandsRetried prometheus.Counter
	commandsFailed  prometheus.Counter
}

// NewCollector creates the counter set and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		framesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "easytouch_frames_decoded_total",
			Help: "Status frames successfully decoded.",
		}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "easytouch_decode_errors_total",
			Help: "Frames dropped because they could not be decoded.",
		}, []string{"kind"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "easytouch_reconnects_total",
			Help: "BLE reconnect attempts.",
		}),
		degradations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "easytouch_liveness_degradations_total",
			Help: "Sessions marked degraded after telemetry stopped.",
		}),
		commandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "easytouch_commands_sent_total",
			Help: "Command frames written to the device.",
		}),
		commandsAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "easytouch_commands_acked_total",
			Help: "Commands acknowledged by a status frame.",
		}),
		commandsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "easytouch_commands_retried_total",
			Help: "Command sends that timed out or failed and were retried.",
		}),
		commandsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "easytouch_commands_failed_total",
			Help: "Commands that failed terminally after exhausting retries.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			c.framesDecoded, c.decodeErrors, c.reconnects, c.degradations,
			c.commandsSent, c.commandsAcked, c.commandsRetried, c.commandsFailed,
		)
	}
	return c
}

func (c *Collector) FrameDecoded() {
	if c != nil {
		c.framesDecoded.Inc()
	}
}

func (c *Collector) DecodeError(kind string) {
	if c != nil {
		c.decodeErrors.WithLabelValues(kind).Inc()
	}
}

func (c *Collector) Reconnect() {
	if c != nil {
		c.reconnects.Inc()
	}
}

func (c *Collector) Degraded() {
	if c != nil {
		c.degradations.Inc()
	}
}

func (c *Collector) CommandSent() {
	if c != nil {
		c.commandsSent.Inc()
	}
}

func (c *Collector) CommandAcked() {
	if c != nil {
		c.commandsAcked.Inc()
	}
}

func (c *Collector) CommandRetried() {
	if c != nil {
		c.commandsRetried.Inc()
	}
}

func (c *Collector) CommandFailed() {
	if c != nil {
		c.commandsFailed.Inc()
	}
}
