package api

import (
	"github.com/Conceptual-Machines/magda-variations/internal/api/handlers"
	apimiddleware "github.com/Conceptual-Machines/magda-variations/internal/api/middleware"
	"github.com/Conceptual-Machines/magda-variations/internal/canonical"
	"github.com/Conceptual-Machines/magda-variations/internal/config"
	"github.com/Conceptual-Machines/magda-variations/internal/metrics"
	"github.com/Conceptual-Machines/magda-variations/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Dependencies are the services the router exposes.
type Dependencies struct {
	Config     *config.Config
	Variations *services.VariationService
	Canonical  canonical.Store
	// Credits is nil when the credits ledger is disabled
	Credits *services.CreditsService
	// DB is nil when canonical state lives in memory
	DB       *gorm.DB
	Metrics  metrics.Recorder
	Gatherer prometheus.Gatherer
	Version  string
}

func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New()

	// Recovery middleware (must be first)
	router.Use(apimiddleware.RecoverWithSentry())

	// Sentry middleware for error tracking
	router.Use(apimiddleware.SentryMiddleware())

	// Request tracking and structured logging
	router.Use(apimiddleware.RequestTracking(deps.Metrics))

	// CORS middleware
	router.Use(apimiddleware.CORS(deps.Config.CORSAllowedOrigins))

	// Health check
	healthHandler := handlers.NewHealthHandler(deps.DB)
	router.GET("/health", healthHandler.HealthCheck)

	// Metrics endpoints
	metricsHandler := handlers.NewMetricsHandler(deps.Version, deps.Variations)
	router.GET("/api/metrics", metricsHandler.GetMetrics)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	auth := apimiddleware.Auth(deps.Config)

	// Variation protocol
	variationHandler := handlers.NewVariationHandler(deps.Variations)
	variations := router.Group("/variation")
	variations.Use(auth)
	{
		variations.POST("/propose", variationHandler.Propose)
		variations.GET("/stream", variationHandler.Stream)
		variations.POST("/commit", variationHandler.Commit)
		variations.POST("/discard", variationHandler.Discard)
		variations.GET("/:id", variationHandler.Get)
	}

	// Canonical projects
	projectHandler := handlers.NewProjectHandler(deps.Canonical)
	projects := router.Group("/projects")
	projects.Use(auth)
	{
		projects.POST("", projectHandler.Create)
		projects.GET("/:id", projectHandler.Get)
	}

	// Credits ledger
	if deps.Credits != nil {
		creditsHandler := handlers.NewCreditsHandler(deps.Credits)
		router.GET("/api/credits", auth, creditsHandler.GetCredits)
	}

	// Admin API routes (admin only)
	admin := router.Group("/api/admin")
	admin.Use(auth, apimiddleware.AdminRequired())
	{
		adminHandler := handlers.NewAdminHandler(deps.Variations)
		admin.GET("/variations", adminHandler.ListVariations)
		admin.POST("/sweep", adminHandler.Sweep)
	}

	return router
}
