package ports

import (
	"context"
	"io"

	"github.com/samirrijal/georef/internal/core/domain"
)

// EventPublisher publishes session events to a message broker.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event *domain.SessionEvent) error
}

// EventSubscriber delivers the events of one session until the returned
// cancel func is called.
type EventSubscriber interface {
	SubscribeSession(sessionID string, handler func(event *domain.SessionEvent)) (cancel func(), err error)
}

// DatasetCodec decodes uploaded archives and encodes transformed datasets.
type DatasetCodec interface {
	Decode(ctx context.Context, name string, data []byte) (*domain.FeatureCollection, error)
	Encode(ctx context.Context, w io.Writer, fc *domain.FeatureCollection) error
}
