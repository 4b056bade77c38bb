package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = abc ,broken, =x,team=core")
	if len(got) != 2 || got["api-key"] != "abc" || got["team"] != "core" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"":                         defaultEndpoint,
		"collector:4318":           "collector:4318",
		"http://collector:4318/":   "collector:4318",
		"https://otel.example.com": "otel.example.com",
	}
	for raw, want := range cases {
		if got := normalizeEndpoint(raw); got != want {
			t.Fatalf("normalizeEndpoint(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-token=1")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	cfg := Config{ServiceName: "stakechaind"}.ApplyEnv()
	if cfg.Endpoint != "http://collector:4318" || !cfg.Insecure || cfg.Headers["x-token"] != "1" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestInitWithoutExporters(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing service name")
	}
	shutdown, err := Init(context.Background(), Config{ServiceName: "stakechaind"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
