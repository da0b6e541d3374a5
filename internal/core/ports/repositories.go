package ports

import (
	"context"

	"github.com/samirrijal/georef/internal/core/domain"
)

// SessionStore holds at most one raw and one reference dataset per session.
// Implementations serialize writes per session key.
type SessionStore interface {
	// Put stores fc in slot. Writing the raw slot creates the session;
	// writing the reference slot of an unknown session fails with
	// domain.ErrSessionNotFound.
	Put(ctx context.Context, key string, slot domain.Slot, fc *domain.FeatureCollection) error
	// Get returns domain.ErrSessionNotFound or domain.ErrDatasetNotFound when
	// there is nothing to return.
	Get(ctx context.Context, key string, slot domain.Slot) (*domain.FeatureCollection, error)
	Info(ctx context.Context, key string) (domain.SessionInfo, error)
	Delete(ctx context.Context, key string) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
