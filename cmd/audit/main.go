package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	natsadapter "github.com/samirrijal/georef/internal/adapters/nats"
	"github.com/samirrijal/georef/internal/core/domain"
	"github.com/samirrijal/georef/internal/pkg/config"
	"github.com/samirrijal/georef/internal/pkg/logging"
)

// audit writes one log line per session event. An optional argument
// restricts it to a single session.
func main() {
	cfg, err := config.Load("georef-audit")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	conn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer conn.Drain()

	sub := natsadapter.NewSubscriber(conn)
	defer sub.Close()

	record := func(ev *domain.SessionEvent) {
		attrs := []any{"session_id", ev.SessionID, "kind", ev.Kind, "time", ev.Time}
		switch ev.Kind {
		case domain.EventUploaded:
			attrs = append(attrs, "slot", ev.Slot, "features", ev.Count)
		case domain.EventTransformed:
			attrs = append(attrs, "features", ev.Count, "skipped", ev.Skipped,
				"scale", ev.Scale, "rotation_deg", ev.Rotation, "rmse", ev.RMSE)
		}
		slog.Info("session event", attrs...)
	}

	var cancel func()
	if len(os.Args) > 1 {
		cancel, err = sub.SubscribeSession(os.Args[1], record)
		slog.Info("auditing session", "session_id", os.Args[1], "url", cfg.NATS.URL)
	} else {
		cancel, err = sub.SubscribeAll(record)
		slog.Info("auditing all sessions", "subject", natsadapter.AllSessions, "url", cfg.NATS.URL)
	}
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("received signal, shutting down audit", "signal", sig.String())
}
