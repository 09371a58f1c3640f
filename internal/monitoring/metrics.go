package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "uwb_tracker"

// Metrics holds the tracker's Prometheus instruments.
type Metrics struct {
	Frames        prometheus.Counter
	Desyncs       prometheus.Counter
	SkippedBytes  prometheus.Counter
	Malformed     prometheus.Counter
	UnknownDevice prometheus.Counter
	RangeReports  prometheus.Counter
	Collisions    prometheus.Counter

	Commands      *prometheus.CounterVec // by command verb
	CommandErrors prometheus.Counter
	Events        *prometheus.CounterVec // by event kind

	Devices   prometheus.Gauge
	LinkState prometheus.Gauge
}

// NewMetrics creates the instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		Frames:        counter("frames_total", "Frames extracted from the serial stream"),
		Desyncs:       counter("framing_desyncs_total", "Receive buffer drops caused by an invalid frame header or overflow"),
		SkippedBytes:  counter("skipped_bytes_total", "Bytes skipped while searching for a frame marker"),
		Malformed:     counter("malformed_payloads_total", "Frame payloads that could not be decoded"),
		UnknownDevice: counter("unknown_device_reports_total", "Range reports dropped because no device holds the short address"),
		RangeReports:  counter("range_reports_total", "Range reports processed"),
		Collisions:    counter("short_address_collisions_total", "Short addresses taken over from another device"),
		CommandErrors: counter("command_errors_total", "Commands that failed to write"),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands sent to the node",
		}, []string{"command"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events published",
		}, []string{"kind"}),
		Devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Devices in the registry",
		}),
		LinkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "Link state (0=disconnected 1=connecting 2=connected 3=failed)",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.Frames, m.Desyncs, m.SkippedBytes, m.Malformed, m.UnknownDevice,
		m.RangeReports, m.Collisions, m.CommandErrors, m.Commands, m.Events,
		m.Devices, m.LinkState,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
