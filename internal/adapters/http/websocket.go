package http

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/georef/internal/core/domain"
	"github.com/samirrijal/georef/internal/core/ports"
	"github.com/samirrijal/georef/internal/pkg/metrics"
)

// WebSocketHandler relays the events of one session to the client.
// Clients connect to /ws?session_id=<id>; every uploaded, transformed or
// deleted event for that session is written as a JSON text frame.
func WebSocketHandler(events ports.EventSubscriber) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		log := slog.Default().With("remote", c.RemoteAddr().String())
		sessionID := c.Query("session_id")
		if sessionID == "" {
			_ = c.WriteJSON(map[string]string{"error": "session_id query parameter is required"})
			return
		}
		log = log.With("session_id", sessionID)

		metrics.ActiveWebSockets.Inc()
		defer metrics.ActiveWebSockets.Dec()
		log.Info("ws client connected")

		var mu sync.Mutex
		writeJSON := func(v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}

		cancel, err := events.SubscribeSession(sessionID, func(ev *domain.SessionEvent) {
			_ = writeJSON(ev)
		})
		if err != nil {
			log.Warn("ws subscribe failed", "error", err)
			_ = writeJSON(map[string]string{"error": "subscribe failed: " + err.Error()})
			return
		}
		defer cancel()
		_ = writeJSON(map[string]string{"status": "subscribed", "session_id": sessionID})

		// Keep-alive ping
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		// Block until the client goes away; inbound frames are ignored.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}

		close(done)
		log.Info("ws client disconnected")
	}
}
