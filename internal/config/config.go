package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	PublicBaseURL  string
	LogLevel       string
	DatabaseURL    string
	UseMemoryStore bool

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	GeminiAPIKey string
	// GeminiLiveModels is the ordered fallback chain for live audio sessions.
	// The first model that accepts a connection wins.
	GeminiLiveModels []string
	// GeminiTextModel handles post-session field extraction.
	GeminiTextModel string

	// Live session tuning. Thresholds are heuristics, not correctness
	// constraints; keep them configurable.
	SilenceTimeout        time.Duration
	SilenceAmplitude      int
	SilencePollInterval   time.Duration
	BackendQuietWindow    time.Duration
	SummaryGracePeriod    time.Duration
	SessionTTL            time.Duration
	SessionSweepInterval  time.Duration
	OutboundAudioCapacity int

	WebhookTimeout       time.Duration
	WebhookMaxAttempts   int
	WebhookRetryBase     time.Duration
	WebhookPollInterval  time.Duration
	WebhookRetryBatch    int
	WebhookUserAgent     string

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		UseMemoryStore: getEnvAsBool("USE_MEMORY_STORE", false),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiLiveModels: getEnvAsList("GEMINI_LIVE_MODELS",
			"gemini-2.5-flash-native-audio-preview-09-2025",
			"gemini-2.0-flash-live-001",
			"gemini-live-2.5-flash-preview",
		),
		GeminiTextModel: getEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),

		SilenceTimeout:        getEnvAsDuration("SILENCE_TIMEOUT", 6500*time.Millisecond),
		SilenceAmplitude:      getEnvAsInt("SILENCE_AMPLITUDE_THRESHOLD", 120),
		SilencePollInterval:   getEnvAsDuration("SILENCE_POLL_INTERVAL", 250*time.Millisecond),
		BackendQuietWindow:    getEnvAsDuration("BACKEND_QUIET_WINDOW", 1500*time.Millisecond),
		SummaryGracePeriod:    getEnvAsDuration("SUMMARY_GRACE_PERIOD", 2*time.Second),
		SessionTTL:            getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		SessionSweepInterval:  getEnvAsDuration("SESSION_SWEEP_INTERVAL", 15*time.Minute),
		OutboundAudioCapacity: getEnvAsInt("OUTBOUND_AUDIO_CAPACITY", 5),

		WebhookTimeout:      getEnvAsDuration("WEBHOOK_TIMEOUT", 30*time.Second),
		WebhookMaxAttempts:  getEnvAsInt("WEBHOOK_RETRY_ATTEMPTS", 3),
		WebhookRetryBase:    getEnvAsDuration("WEBHOOK_RETRY_BASE_DELAY", 5*time.Minute),
		WebhookPollInterval: getEnvAsDuration("WEBHOOK_POLL_INTERVAL", 30*time.Second),
		WebhookRetryBatch:   getEnvAsInt("WEBHOOK_RETRY_BATCH", 25),
		WebhookUserAgent:    getEnv("WEBHOOK_USER_AGENT", "VoiceForms-Webhook/1.0"),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", "*"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable, falling back to
// the provided defaults when unset.
func getEnvAsList(key string, defaults ...string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaults
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaults
	}
	return out
}
