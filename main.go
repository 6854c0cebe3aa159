package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/api"
	"github.com/Conceptual-Machines/magda-variations/internal/canonical"
	"github.com/Conceptual-Machines/magda-variations/internal/config"
	"github.com/Conceptual-Machines/magda-variations/internal/database"
	"github.com/Conceptual-Machines/magda-variations/internal/generator"
	"github.com/Conceptual-Machines/magda-variations/internal/llm"
	"github.com/Conceptual-Machines/magda-variations/internal/logger"
	"github.com/Conceptual-Machines/magda-variations/internal/metrics"
	"github.com/Conceptual-Machines/magda-variations/internal/observability"
	"github.com/Conceptual-Machines/magda-variations/internal/services"
	"github.com/Conceptual-Machines/magda-variations/internal/stream"
	"github.com/Conceptual-Machines/magda-variations/internal/variation"
	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	sentryFlushTimeout    = 2 * time.Second
	shutdownTimeout       = 30 * time.Second
	readHeaderTimeout     = 10 * time.Second
	environmentProduction = "production"
)

// releaseVersion is set via ldflags during build
var releaseVersion = "dev"

// GetVersion returns the current release version
func GetVersion() string {
	return releaseVersion
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := config.Load()

	// Initialize Sentry
	sentryEnabled := false
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			Release:          "magda-variations@" + releaseVersion,
			EnableTracing:    true,
			TracesSampleRate: 1.0,
			EnableLogs:       true,
			Debug:            cfg.Environment != environmentProduction,
			BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
				// Filter out sensitive data
				if event.Request != nil {
					event.Request.Headers = filterSensitiveHeaders(event.Request.Headers)
				}
				return event
			},
		}); err != nil {
			log.Printf("Failed to initialize Sentry: %v", err)
		} else {
			sentryEnabled = true
			log.Printf("✅ Sentry initialized (environment: %s, release: %s)", cfg.Environment, releaseVersion)
			defer sentry.Flush(sentryFlushTimeout)
		}
	} else {
		log.Println("⚠️  Sentry not configured (SENTRY_DSN not set)")
	}

	ctx := context.Background()

	// Canonical state and credits ledger
	var (
		db      *gorm.DB
		canon   canonical.Store = canonical.NewMemoryStore()
		budget  services.Budget = services.Unlimited{}
		credits *services.CreditsService
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.Connect(cfg.DatabaseURL)
		if err != nil {
			sentry.CaptureException(err)
			log.Fatal("Failed to connect to database:", err)
		}
		if err := database.Migrate(db); err != nil {
			sentry.CaptureException(err)
			log.Fatal("Failed to run migrations:", err)
		}
		canon = canonical.NewGormStore(db)
		log.Println("✅ Canonical state in postgres")

		if cfg.BudgetEnabled {
			credits = services.NewCreditsService(db)
			budget = credits
			log.Printf("✅ Credits ledger enabled (%d per proposal)", cfg.CreditsPerProposal)
		}
	} else {
		log.Println("⚠️  DATABASE_URL not set, canonical state is in memory")
		if cfg.BudgetEnabled {
			log.Println("⚠️  BUDGET_ENABLED needs DATABASE_URL, proposals are not charged")
		}
	}

	// Variation store
	var (
		store  variation.Store = variation.NewMemoryStore()
		badger *variation.BadgerStore
	)
	if cfg.BadgerPath != "" {
		var err error
		badger, err = variation.OpenBadgerStore(variation.BadgerOptions{Path: cfg.BadgerPath})
		if err != nil {
			sentry.CaptureException(err)
			log.Fatal("Failed to open variation store:", err)
		}
		store = badger
		log.Printf("✅ Variations persisted in badger (%s)", cfg.BadgerPath)
	}

	// Metrics
	cloudwatch, err := metrics.NewClient(ctx, cfg.Environment)
	if err != nil {
		log.Printf("⚠️  CloudWatch metrics unavailable: %v", err)
	}
	recorder := metrics.Multi{
		metrics.NewSentryMetrics(sentryEnabled),
		metrics.NewPrometheusMetrics(prometheus.DefaultRegisterer),
	}
	if cloudwatch != nil {
		recorder = append(recorder, cloudwatch)
	}

	// Generator
	tracer := observability.NewLangfuse(ctx, cfg)
	gen := newGenerator(cfg, tracer)
	log.Printf("🎵 Generator: %s", gen.Name())

	svc := services.NewVariationService(services.Deps{
		Store:     store,
		Canonical: canon,
		Events:    stream.NewBroadcaster(cfg.HeartbeatInterval),
		Generator: gen,
		Budget:    budget,
		Metrics:   recorder,
	}, services.SettingsFromConfig(cfg))

	if restored := svc.RestoreLogs(); restored > 0 {
		log.Printf("♻️  Restored event logs for %d variations", restored)
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	go svc.RunJanitor(janitorCtx)

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.SetupRouter(api.Dependencies{
		Config:     cfg,
		Variations: svc,
		Canonical:  canon,
		Credits:    credits,
		DB:         db,
		Metrics:    recorder,
		Gatherer:   prometheus.DefaultGatherer,
		Version:    GetVersion(),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Printf("🚀 Starting server on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.CaptureException(err)
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("🛑 Received %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	// Running generations end with done(failed) so open streams drain before the server closes them
	stopJanitor()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Generation tasks did not stop in time: %v", err)
		logger.LogToSentry(sentry.LevelWarning, "Generation tasks did not stop before shutdown", logger.Fields{
			"error": err.Error(),
		})
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  HTTP server shutdown: %v", err)
	}
	if badger != nil {
		if err := badger.Close(); err != nil {
			log.Printf("⚠️  Failed to close badger: %v", err)
		}
	}
	tracer.Flush(shutdownCtx)

	log.Println("✅ Shutdown complete")
}

// newGenerator picks the LLM generator when a provider is configured and
// falls back to the local arranger otherwise.
func newGenerator(cfg *config.Config, tracer *observability.LangfuseClient) generator.Generator {
	switch cfg.GeneratorProvider {
	case "openai", "gemini":
		providers := llm.NewProviderFactory(cfg.OpenAIAPIKey, cfg.GeminiAPIKey)
		if !providers.Configured() {
			log.Printf("⚠️  GENERATOR_PROVIDER=%s but no API key is set, using the arranger", cfg.GeneratorProvider)
			return generator.NewArranger()
		}
		return generator.NewLLMGenerator(providers, cfg.GeneratorModel, cfg.GeneratorProvider, cfg.ReasoningMode, tracer)
	default:
		return generator.NewArranger()
	}
}

func filterSensitiveHeaders(headers map[string]string) map[string]string {
	filtered := make(map[string]string)
	sensitiveKeys := map[string]bool{
		"authorization": true,
		"cookie":        true,
		"x-api-key":     true,
	}

	for k, v := range headers {
		if sensitiveKeys[strings.ToLower(k)] {
			filtered[k] = "[REDACTED]"
		} else {
			filtered[k] = v
		}
	}
	return filtered
}
