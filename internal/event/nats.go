package event

import (
	"encoding/json"
	"strings"

	"github.com/dyet92k/morph/pkg/log"
	"github.com/nats-io/nats.go"
)

type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATS is a Bus that republishes every event to NATS JetStream on
// <subject>.<type> after delivering it to local subscribers.
type NATS struct {
	Bus
	conn    *nats.Conn
	js      jetStream
	subject string
}

// NewNATS connects to the NATS server at url and wraps bus.
func NewNATS(bus Bus, url, subject string, opts ...nats.Option) (*NATS, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	n := newNATS(bus, js, subject)
	n.conn = nc
	return n, nil
}

func newNATS(bus Bus, js jetStream, subject string) *NATS {
	return &NATS{
		Bus:     bus,
		js:      js,
		subject: strings.TrimSuffix(subject, "."),
	}
}

// Publish delivers e locally, then to JetStream. JetStream
// failures are logged and do not affect local delivery.
func (n *NATS) Publish(e Event) {
	n.Bus.Publish(e)

	data, err := json.Marshal(e)
	if err != nil {
		log.Error("marshal event", "type", e.Type, "error", err)
		return
	}

	if _, err := n.js.Publish(n.Subject(e.Type), data); err != nil {
		log.Warn("publish event to nats", "subject", n.Subject(e.Type), "error", err)
	}
}

// Subject is where events of type t are published.
func (n *NATS) Subject(t Type) string {
	return n.subject + "." + string(t)
}

// Close drains the NATS connection.
func (n *NATS) Close() {
	if n == nil || n.conn == nil {
		return
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}
