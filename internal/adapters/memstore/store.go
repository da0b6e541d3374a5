package memstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samirrijal/georef/internal/core/domain"
	"github.com/samirrijal/georef/internal/pkg/metrics"
)

type session struct {
	mu      sync.Mutex
	raw     *domain.FeatureCollection
	ref     *domain.FeatureCollection
	touched time.Time
	gone    bool
}

// Store implements ports.SessionStore in process memory. Sessions live
// until deleted, evicted by RunJanitor, or the process exits.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	now      func() time.Time
}

// New creates an empty in-memory session store.
func New() *Store {
	return &Store{sessions: make(map[string]*session), now: time.Now}
}

func (s *Store) lookup(key string) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[key]
}

func (s *Store) getOrCreate(key string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		sess = &session{}
		s.sessions[key] = sess
		metrics.ActiveSessions.Inc()
	}
	return sess
}

// Put stores fc in slot. The raw slot creates the session when needed.
func (s *Store) Put(ctx context.Context, key string, slot domain.Slot, fc *domain.FeatureCollection) error {
	switch slot {
	case domain.SlotRaw:
		for {
			sess := s.getOrCreate(key)
			sess.mu.Lock()
			if sess.gone {
				// Deleted between lookup and lock; start a fresh session.
				sess.mu.Unlock()
				continue
			}
			sess.raw = fc
			sess.touched = s.now()
			sess.mu.Unlock()
			return nil
		}
	case domain.SlotReference:
		sess := s.lookup(key)
		if sess == nil {
			return domain.ErrSessionNotFound
		}
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sess.gone {
			return domain.ErrSessionNotFound
		}
		sess.ref = fc
		sess.touched = s.now()
		return nil
	default:
		return domain.ErrInvalidSlot
	}
}

// Get returns the dataset held in slot.
func (s *Store) Get(ctx context.Context, key string, slot domain.Slot) (*domain.FeatureCollection, error) {
	sess := s.lookup(key)
	if sess == nil {
		return nil, domain.ErrSessionNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	var fc *domain.FeatureCollection
	switch slot {
	case domain.SlotRaw:
		fc = sess.raw
	case domain.SlotReference:
		fc = sess.ref
	default:
		return nil, domain.ErrInvalidSlot
	}
	if sess.gone {
		return nil, domain.ErrSessionNotFound
	}
	if fc == nil {
		return nil, domain.ErrDatasetNotFound
	}
	sess.touched = s.now()
	return fc, nil
}

// Info reports which slots are populated.
func (s *Store) Info(ctx context.Context, key string) (domain.SessionInfo, error) {
	sess := s.lookup(key)
	if sess == nil {
		return domain.SessionInfo{}, domain.ErrSessionNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.gone {
		return domain.SessionInfo{}, domain.ErrSessionNotFound
	}

	sess.touched = s.now()
	info := domain.SessionInfo{ID: key}
	if sess.raw != nil {
		info.HasRaw = true
		info.RawCount = sess.raw.Len()
	}
	if sess.ref != nil {
		info.HasReference = true
		info.ReferenceCount = sess.ref.Len()
	}
	return info, nil
}

// Delete removes a session and both datasets.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	sess, ok := s.sessions[key]
	if ok {
		delete(s.sessions, key)
	}
	s.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}

	sess.mu.Lock()
	sess.gone = true
	sess.raw, sess.ref = nil, nil
	sess.mu.Unlock()
	metrics.ActiveSessions.Dec()
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// EvictIdle drops every session untouched for at least ttl and returns
// their keys.
func (s *Store) EvictIdle(ttl time.Duration) []string {
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for key, sess := range s.sessions {
		sess.mu.Lock()
		if sess.touched.After(cutoff) {
			sess.mu.Unlock()
			continue
		}
		sess.gone = true
		sess.raw, sess.ref = nil, nil
		sess.mu.Unlock()

		delete(s.sessions, key)
		metrics.ActiveSessions.Dec()
		evicted = append(evicted, key)
	}
	return evicted
}

// RunJanitor evicts idle sessions every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.EvictIdle(ttl); len(evicted) > 0 {
				slog.Info("evicted idle sessions", "count", len(evicted), "ttl", ttl.String())
			}
		}
	}
}
