// Package metrics exposes APDU traffic and authentication outcomes as
// Prometheus counters.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smartcard"

// Collector counts what the client puts on the wire. It is an
// iso7816.Tracer and a service.Observer.
type Collector struct {
	commands        *prometheus.CounterVec
	responses       *prometheus.CounterVec
	authentications *prometheus.CounterVec
}

// New creates the counters and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "apdu_commands_total",
				Help:      "Total number of command APDUs carrying data, by instruction byte",
			},
			[]string{"ins"},
		),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "apdu_responses_total",
				Help:      "Total number of response APDUs carrying data, by status word",
			},
			[]string{"sw"},
		),
		authentications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authentications_total",
				Help:      "Total number of secure channel establishments, by protocol and outcome",
			},
			[]string{"protocol", "outcome"},
		),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{c.commands, c.responses, c.authentications} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return c, nil
}

// TraceCommand counts a command by its INS byte. The client traces only
// commands longer than five bytes: header-only and short Le-only commands
// are not seen.
func (c *Collector) TraceCommand(raw []byte) {
	if len(raw) < 4 {
		return
	}
	c.commands.WithLabelValues(fmt.Sprintf("%02X", raw[1])).Inc()
}

// TraceResponse counts a response by its trailing status word.
func (c *Collector) TraceResponse(raw []byte) {
	if len(raw) < 2 {
		return
	}
	c.responses.WithLabelValues(fmt.Sprintf("%02X%02X", raw[len(raw)-2], raw[len(raw)-1])).Inc()
}

// Authentication records the outcome of a secure channel establishment.
func (c *Collector) Authentication(protocol, outcome string) {
	c.authentications.WithLabelValues(protocol, outcome).Inc()
}
