package natsadapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/georef/internal/core/domain"
)

const subjectPrefix = "georef.session."

// AllSessions matches every session event.
const AllSessions = subjectPrefix + ">"

// Subject returns the subject a session event is published on.
func Subject(sessionID, kind string) string {
	return subjectPrefix + sessionID + "." + kind
}

// SessionWildcard matches every event of one session.
func SessionWildcard(sessionID string) string {
	return subjectPrefix + sessionID + ".>"
}

// Publisher implements ports.EventPublisher using core NATS.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisherFromConn wraps an existing connection.
func NewPublisherFromConn(conn *nats.Conn) *Publisher {
	return &Publisher{conn: conn}
}

func (p *Publisher) PublishSessionEvent(ctx context.Context, event *domain.SessionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.conn.Publish(Subject(event.SessionID, event.Kind), data)
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection that keeps retrying.
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("georef"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
