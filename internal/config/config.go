package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	// Environment
	Environment string
	Port        string

	// Storage
	// DatabaseURL empty means canonical state lives in memory and credits are off
	DatabaseURL string
	// BadgerPath empty means variations are kept in memory only
	BadgerPath string

	// Generator
	GeneratorProvider string // "arranger", "openai" or "gemini"
	GeneratorModel    string
	ReasoningMode     string
	OpenAIAPIKey      string // OpenAI API key for GPT models
	GeminiAPIKey      string // Google Gemini API key

	// Observability
	SentryDSN         string // Sentry DSN for error tracking
	LangfusePublicKey string // Langfuse public key
	LangfuseSecretKey string // Langfuse secret key
	LangfuseHost      string // Langfuse host URL (cloud or self-hosted)
	LangfuseEnabled   bool   // Feature flag for Langfuse

	// Auth mode
	// - "none": No auth (self-hosted, local dev)
	// - "gateway": Trust X-User-* headers from an upstream gateway
	// - "jwt": Verify HS256 bearer tokens signed with JWTSecret
	AuthMode  string
	JWTSecret string

	// Browser origins allowed to call the API with credentials; "*" allows any origin without them
	CORSAllowedOrigins []string

	// Diff and grouping defaults, overridable per proposal
	PhraseBars          int
	BeatsPerBar         int
	MatchToleranceBeats float64

	// Streaming and task lifecycle
	HeartbeatInterval        time.Duration
	MaxConcurrentGenerations int64
	GenerationTimeout        time.Duration
	DiscardTimeout           time.Duration
	VariationTTL             time.Duration
	VariationRetention       time.Duration
	JanitorInterval          time.Duration

	// Budget and rate limiting
	BudgetEnabled        bool
	CreditsPerProposal   int
	ProposeRatePerMinute int
}

func Load() *Config {
	return &Config{
		Environment:              getEnv("ENVIRONMENT", "development"),
		Port:                     getEnv("PORT", "8080"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		BadgerPath:               getEnv("BADGER_PATH", ""),
		GeneratorProvider:        getEnv("GENERATOR_PROVIDER", "arranger"),
		GeneratorModel:           getEnv("GENERATOR_MODEL", "gpt-5-mini"),
		ReasoningMode:            getEnv("REASONING_MODE", "low"),
		OpenAIAPIKey:             getEnv("OPENAI_API_KEY", ""),
		GeminiAPIKey:             getEnv("GEMINI_API_KEY", ""),
		SentryDSN:                getEnv("SENTRY_DSN", ""),
		LangfusePublicKey:        getEnv("LANGFUSE_PUBLIC_KEY", ""),
		LangfuseSecretKey:        getEnv("LANGFUSE_SECRET_KEY", ""),
		LangfuseHost:             getEnv("LANGFUSE_HOST", "https://cloud.langfuse.com"),
		LangfuseEnabled:          getEnv("LANGFUSE_ENABLED", "false") == "true",
		AuthMode:                 getEnv("AUTH_MODE", "none"), // Default to no auth for self-hosted
		JWTSecret:                getEnv("JWT_SECRET", ""),
		CORSAllowedOrigins:       getEnvList("CORS_ALLOWED_ORIGINS"),
		PhraseBars:               getEnvInt("PHRASE_BARS", 4),
		BeatsPerBar:              getEnvInt("BEATS_PER_BAR", 4),
		MatchToleranceBeats:      getEnvFloat("MATCH_TOLERANCE_BEATS", 0.25),
		HeartbeatInterval:        getEnvDuration("HEARTBEAT_INTERVAL", 15*time.Second),
		MaxConcurrentGenerations: int64(getEnvInt("MAX_CONCURRENT_GENERATIONS", 8)),
		GenerationTimeout:        getEnvDuration("GENERATION_TIMEOUT", 120*time.Second),
		DiscardTimeout:           getEnvDuration("DISCARD_TIMEOUT", 10*time.Second),
		VariationTTL:             getEnvDuration("VARIATION_TTL", time.Hour),
		VariationRetention:       getEnvDuration("VARIATION_RETENTION", 24*time.Hour),
		JanitorInterval:          getEnvDuration("JANITOR_INTERVAL", time.Minute),
		BudgetEnabled:            getEnv("BUDGET_ENABLED", "false") == "true",
		CreditsPerProposal:       getEnvInt("CREDITS_PER_PROPOSAL", 1),
		ProposeRatePerMinute:     getEnvInt("PROPOSE_RATE_PER_MINUTE", 30),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %d", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %g", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %s", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

// IsGatewayMode returns true if running behind an authenticating gateway
func (c *Config) IsGatewayMode() bool {
	return c.AuthMode == "gateway"
}

// IsJWTMode returns true if bearer tokens are verified locally
func (c *Config) IsJWTMode() bool {
	return c.AuthMode == "jwt"
}

// IsProduction reports whether production-only integrations should start
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
