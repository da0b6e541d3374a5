package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/georef/internal/pkg/metrics"
)

const (
	readTimeout  = 15 * time.Second
	heavyTimeout = 60 * time.Second
)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed, // Balance speed vs compression ratio
	}))

	// Request ID
	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting: 120 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, 429, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(DeprecationMiddleware(legacyRoutes))

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Health & readiness, no timeout
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")
	v1.Post("/fit", timeout.NewWithContext(FitHandler(deps), readTimeout))
	v1.Post("/sessions", timeout.NewWithContext(UploadRawHandler(deps), heavyTimeout))
	v1.Get("/sessions/:id", timeout.NewWithContext(SessionInfoHandler(deps), readTimeout))
	v1.Delete("/sessions/:id", timeout.NewWithContext(DeleteSessionHandler(deps), readTimeout))
	v1.Post("/sessions/:id/reference", timeout.NewWithContext(UploadReferenceHandler(deps), heavyTimeout))
	v1.Post("/sessions/:id/transform", timeout.NewWithContext(TransformHandler(deps), heavyTimeout))
	v1.Get("/sessions/:id/geojson/:slot", timeout.NewWithContext(GeoJSONHandler(deps), readTimeout))
	v1.Get("/sessions/:id/features/:slot", timeout.NewWithContext(ListFeaturesHandler(deps), readTimeout))
	v1.Get("/sessions/:id/features/:slot/:feature_id", timeout.NewWithContext(FeatureHandler(deps), readTimeout))

	// Unversioned routes of the first release
	app.Post("/upload/raw", timeout.NewWithContext(UploadRawHandler(deps), heavyTimeout))
	app.Post("/upload/ref", timeout.NewWithContext(UploadReferenceHandler(deps), heavyTimeout))
	app.Post("/transform", timeout.NewWithContext(TransformHandler(deps), heavyTimeout))
	app.Get("/session/:id/info", timeout.NewWithContext(SessionInfoHandler(deps), readTimeout))
	app.Delete("/session/:id", timeout.NewWithContext(DeleteSessionHandler(deps), readTimeout))
	app.Get("/geojson/:slot/:id", timeout.NewWithContext(GeoJSONHandler(deps), readTimeout))
	app.Get("/feature/:slot/:id", timeout.NewWithContext(FeatureHandler(deps), readTimeout))

	// GraphQL
	app.Post("/graphql", GraphQLHandler(deps))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if deps.Events == nil {
			return newError(c, 503, "unavailable", "event bus not configured")
		}
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	if deps.Events != nil {
		app.Get("/ws", websocket.New(WebSocketHandler(deps.Events)))
	}

	app.Use(func(c *fiber.Ctx) error {
		return errNotFound(c, "no route for "+c.Method()+" "+c.Path())
	})
}
