package natsadapter

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/georef/internal/core/domain"
)

// Subscriber implements ports.EventSubscriber on a shared NATS connection.
type Subscriber struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs map[*nats.Subscription]struct{}
}

// NewSubscriber creates a subscriber sharing conn.
func NewSubscriber(conn *nats.Conn) *Subscriber {
	return &Subscriber{conn: conn, subs: make(map[*nats.Subscription]struct{})}
}

// SubscribeSession delivers every event of sessionID to handler until
// cancel is called.
func (s *Subscriber) SubscribeSession(sessionID string, handler func(event *domain.SessionEvent)) (func(), error) {
	return s.subscribe(SessionWildcard(sessionID), handler)
}

// SubscribeAll delivers the events of every session.
func (s *Subscriber) SubscribeAll(handler func(event *domain.SessionEvent)) (func(), error) {
	return s.subscribe(AllSessions, handler)
}

func (s *Subscriber) subscribe(subject string, handler func(event *domain.SessionEvent)) (func(), error) {
	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		ev, err := DecodeEvent(msg.Data)
		if err != nil {
			slog.Warn("drop malformed session event", "subject", msg.Subject, "error", err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, sub)
			s.mu.Unlock()
			_ = sub.Unsubscribe()
		})
	}, nil
}

// DecodeEvent parses a published session event.
func DecodeEvent(data []byte) (*domain.SessionEvent, error) {
	var ev domain.SessionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Close unsubscribes everything still open.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = map[*nats.Subscription]struct{}{}
}
