package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port: got %q, want 8080", cfg.Port)
	}
	if cfg.SilenceTimeout != 6500*time.Millisecond {
		t.Errorf("SilenceTimeout: got %v", cfg.SilenceTimeout)
	}
	if cfg.SilenceAmplitude != 120 {
		t.Errorf("SilenceAmplitude: got %d", cfg.SilenceAmplitude)
	}
	if cfg.WebhookMaxAttempts != 3 {
		t.Errorf("WebhookMaxAttempts: got %d", cfg.WebhookMaxAttempts)
	}
	if cfg.WebhookTimeout != 30*time.Second {
		t.Errorf("WebhookTimeout: got %v", cfg.WebhookTimeout)
	}
	if cfg.OutboundAudioCapacity != 5 {
		t.Errorf("OutboundAudioCapacity: got %d", cfg.OutboundAudioCapacity)
	}
	if len(cfg.GeminiLiveModels) == 0 {
		t.Fatal("GeminiLiveModels: empty fallback chain")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SILENCE_TIMEOUT", "3s")
	t.Setenv("WEBHOOK_RETRY_ATTEMPTS", "5")
	t.Setenv("GEMINI_LIVE_MODELS", "model-a, model-b")

	cfg := Load()
	if cfg.SilenceTimeout != 3*time.Second {
		t.Errorf("SilenceTimeout: got %v, want 3s", cfg.SilenceTimeout)
	}
	if cfg.WebhookMaxAttempts != 5 {
		t.Errorf("WebhookMaxAttempts: got %d, want 5", cfg.WebhookMaxAttempts)
	}
	if len(cfg.GeminiLiveModels) != 2 || cfg.GeminiLiveModels[0] != "model-a" || cfg.GeminiLiveModels[1] != "model-b" {
		t.Errorf("GeminiLiveModels: got %v", cfg.GeminiLiveModels)
	}
}

func TestGetEnvAsList_IgnoresEmptySegments(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	cfg := Load()
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("got %v", cfg.CORSAllowedOrigins)
	}
}

func TestGetEnvAsDuration_Invalid(t *testing.T) {
	t.Setenv("WEBHOOK_TIMEOUT", "not-a-duration")
	cfg := Load()
	if cfg.WebhookTimeout != 30*time.Second {
		t.Errorf("invalid duration should fall back to default, got %v", cfg.WebhookTimeout)
	}
}
