package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// DeprecatedRoute marks an endpoint as deprecated with sunset date.
type DeprecatedRoute struct {
	Path        string    // Route pattern, ":name" segments match any value
	SunsetDate  time.Time // Date when endpoint will be removed
	Alternative string    // Recommended alternative endpoint (optional)
}

// legacySunset is when the unversioned routes go away.
var legacySunset = time.Date(2027, time.June, 30, 0, 0, 0, 0, time.UTC)

// legacyRoutes are the unversioned paths kept for existing map clients.
var legacyRoutes = []DeprecatedRoute{
	{Path: "/upload/raw", SunsetDate: legacySunset, Alternative: "/v1/sessions"},
	{Path: "/upload/ref", SunsetDate: legacySunset, Alternative: "/v1/sessions/{id}/reference"},
	{Path: "/transform", SunsetDate: legacySunset, Alternative: "/v1/sessions/{id}/transform"},
	{Path: "/session/:id/info", SunsetDate: legacySunset, Alternative: "/v1/sessions/{id}"},
	{Path: "/session/:id", SunsetDate: legacySunset, Alternative: "/v1/sessions/{id}"},
	{Path: "/geojson/:slot/:id", SunsetDate: legacySunset, Alternative: "/v1/sessions/{id}/geojson/{slot}"},
	{Path: "/feature/:slot/:id", SunsetDate: legacySunset, Alternative: "/v1/sessions/{id}/features/{slot}/{feature_id}"},
}

// DeprecationMiddleware adds Deprecation, Sunset, and Link headers to deprecated endpoints.
// This helps clients migrate gracefully to newer API versions.
func DeprecationMiddleware(deprecated []DeprecatedRoute) fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, d := range deprecated {
			if matchPattern(c.Path(), d.Path) {
				// RFC 8594 Deprecation header
				c.Set("Deprecation", "true")

				// RFC 8594 Sunset header (HTTP-Date format)
				c.Set("Sunset", d.SunsetDate.UTC().Format(time.RFC1123))

				// RFC 8288 Link header with deprecation info
				if d.Alternative != "" {
					c.Set("Link", fmt.Sprintf(`<%s>; rel="successor-version"`, d.Alternative))
				}

				days := time.Until(d.SunsetDate).Hours() / 24
				c.Set("Warning", fmt.Sprintf(`299 - "Deprecated API, will sunset in %.0f days"`, days))

				break
			}
		}

		return c.Next()
	}
}

// matchPattern reports whether path matches a route pattern segment by
// segment, e.g. "/session/:id" matches "/session/abc-123".
func matchPattern(path, pattern string) bool {
	if path == pattern {
		return true
	}

	ps := strings.Split(strings.Trim(path, "/"), "/")
	qs := strings.Split(strings.Trim(pattern, "/"), "/")
	if len(ps) != len(qs) {
		return false
	}
	for i := range qs {
		if strings.HasPrefix(qs[i], ":") {
			if ps[i] == "" {
				return false
			}
			continue
		}
		if ps[i] != qs[i] {
			return false
		}
	}
	return true
}
