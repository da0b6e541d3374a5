package http

import (
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/georef/internal/core/ports"
	"github.com/samirrijal/georef/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Georef *usecases.GeorefService
	Store  ports.SessionStore
	Events ports.EventSubscriber
	NATS   *nats.Conn
	// OutputName names the transformed archive, without extension.
	OutputName string
}

func (d *Dependencies) outputName() string {
	if d.OutputName == "" {
		return "georef_final"
	}
	return d.OutputName
}
