package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/monitoring"
)

// DefaultSubjectPrefix is prepended to the event kind to form a subject.
const DefaultSubjectPrefix = "uwb.events"

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event as JSON on <prefix>.<kind>. nats.Conn buffers
// publishes, so the sink does not block on the network.
type NATSSink struct {
	pub    Publisher
	prefix string
}

// NewNATSSink wraps pub. An empty prefix selects DefaultSubjectPrefix.
func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: prefix}
}

// Subject returns the subject used for kind.
func (s *NATSSink) Subject(kind Kind) string { return s.prefix + "." + string(kind) }

// Publish implements Sink.
func (s *NATSSink) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		monitoring.Logf("events: marshal %s: %v", e.Kind, err)
		return
	}
	if err := s.pub.Publish(s.Subject(e.Kind), data); err != nil {
		monitoring.Logf("events: nats publish %s: %v", e.Kind, err)
	}
}

// ConnectNATS dials url with reconnect behaviour suited to a long-running
// tracker.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				monitoring.Logf("events: nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			monitoring.Logf("events: nats reconnected to %s", c.ConnectedUrl())
		}),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return conn, nil
}
