package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/samirrijal/georef/internal/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("georef-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Session.Backend != config.BackendMemory {
		t.Errorf("expected memory backend, got %s", cfg.Session.Backend)
	}
	if cfg.Georef.RawFrame != "EPSG:3857" || cfg.Georef.TargetFrame != "EPSG:4326" {
		t.Errorf("unexpected frames %+v", cfg.Georef)
	}
	if cfg.Telemetry.ServiceName != "georef-test" {
		t.Errorf("expected service name georef-test, got %s", cfg.Telemetry.ServiceName)
	}
	if cfg.Server.BodyLimit() != 64<<20 {
		t.Errorf("unexpected body limit %d", cfg.Server.BodyLimit())
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("GEOREF_SESSION_BACKEND", "valkey")
	t.Setenv("GEOREF_SESSION_TTL_MINUTES", "15")
	t.Setenv("GEOREF_GEOREF_OUTPUT_NAME", "plots_wgs84")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Load("georef-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.Backend != config.BackendValkey {
		t.Errorf("expected valkey backend, got %s", cfg.Session.Backend)
	}
	if cfg.Session.TTL() != 15*time.Minute {
		t.Errorf("expected 15m TTL, got %s", cfg.Session.TTL())
	}
	if cfg.Georef.OutputName != "plots_wgs84" {
		t.Errorf("expected output name override, got %s", cfg.Georef.OutputName)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug log level, got %s", cfg.Log.Level)
	}
}

func TestLoad_InvalidBackend(t *testing.T) {
	t.Setenv("GEOREF_SESSION_BACKEND", "postgres")

	_, err := config.Load("georef-test")
	if err == nil || !strings.Contains(err.Error(), "session.backend") {
		t.Fatalf("expected session.backend validation error, got %v", err)
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := &config.Config{
		Server:  config.ServerConfig{Port: 0, ReadTimeout: 1, WriteTimeout: 1, BodyLimitMB: 1},
		Session: config.SessionConfig{Backend: config.BackendMemory},
		Georef: config.GeorefConfig{
			RawFrame:       "3857",
			ReferenceFrame: "EPSG:4326",
			TargetFrame:    "EPSG:4326",
			OutputName:     "../out",
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"server.port", "georef.raw_frame", "georef.output_name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}
