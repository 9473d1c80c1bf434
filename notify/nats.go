package notify

import (
	"encoding/json"
	"log"
	"strings"
)

// Publisher is the subset of *nats.Conn used for notifications.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes every notification as JSON to
// <prefix>.<kind>, e.g. sentinel.events.circuit-breaker-tripped.
type NATSPublisher struct {
	conn   Publisher
	prefix string
}

func NewNATSPublisher(conn Publisher, prefix string) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
	}
}

func (p *NATSPublisher) Subject(kind Kind) string {
	if p.prefix == "" {
		return string(kind)
	}
	return p.prefix + "." + string(kind)
}

func (p *NATSPublisher) Notify(n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		log.Printf("error marshalling notification %s: %s", n.Kind, err.Error())
		return
	}

	// publishing only buffers in the nats client, it never blocks on the server
	if err := p.conn.Publish(p.Subject(n.Kind), data); err != nil {
		log.Printf("error publishing notification %s to NATS: %s", n.Kind, err.Error())
	}
}
