package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/georef/internal/adapters/http"
	"github.com/samirrijal/georef/internal/adapters/memstore"
	natsadapter "github.com/samirrijal/georef/internal/adapters/nats"
	"github.com/samirrijal/georef/internal/adapters/shapefile"
	"github.com/samirrijal/georef/internal/adapters/valkey"
	"github.com/samirrijal/georef/internal/core/ports"
	"github.com/samirrijal/georef/internal/core/usecases"
	"github.com/samirrijal/georef/internal/pkg/config"
	"github.com/samirrijal/georef/internal/pkg/logging"
	"github.com/samirrijal/georef/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("georef-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Session store
	var store ports.SessionStore
	switch cfg.Session.Backend {
	case config.BackendValkey:
		vs, err := valkey.New(cfg.Valkey.Addr, cfg.Session.TTL())
		if err != nil {
			log.Fatalf("valkey: %v", err)
		}
		defer vs.Close()
		store = vs
		slog.Info("session store ready", "backend", "valkey", "ttl", cfg.Session.TTL().String())
	default:
		ms := memstore.New()
		if ttl := cfg.Session.TTL(); ttl > 0 {
			go ms.RunJanitor(ctx, ttl, time.Minute)
		}
		store = ms
		slog.Info("session store ready", "backend", "memory", "ttl", cfg.Session.TTL().String())
	}

	// NATS
	var publisher ports.EventPublisher
	deps := &http.Dependencies{Store: store, OutputName: cfg.Georef.OutputName}
	if cfg.NATS.Enabled {
		conn, err := natsadapter.RawConn(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable", "error", err)
		} else {
			nc := natsadapter.NewPublisherFromConn(conn)
			defer nc.Close()
			publisher = nc
			deps.Events = natsadapter.NewSubscriber(conn)
			deps.NATS = conn
		}
	}

	// Use cases
	codec := shapefile.NewCodec(cfg.Georef.OutputName)
	deps.Georef = usecases.NewGeorefService(store, codec, publisher, usecases.Frames{
		Raw:       cfg.Georef.RawFrame,
		Reference: cfg.Georef.ReferenceFrame,
		Target:    cfg.Georef.TargetFrame,
	})

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit(),
		AppName:      "Georef API",
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, If-None-Match",
		ExposeHeaders:    "Content-Disposition, X-Georef-Scale, X-Georef-Rotation, X-Georef-RMSE, X-Georef-RMSE-Meters, X-Georef-Skipped",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "raw_frame", cfg.Georef.RawFrame, "target_frame", cfg.Georef.TargetFrame)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
