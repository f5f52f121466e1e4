// Package server wires the engines, handlers and middleware into a gin router.
package server

import (
	"slices"

	config "nexus-ai-engine/configs"
	"nexus-ai-engine/pkg/azure"
	"nexus-ai-engine/pkg/handlers"
	"nexus-ai-engine/pkg/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// App holds every long-lived component built from the config.
type App struct {
	forecasts       *services.ForecastEngine
	recommendations *services.RecommendationEngine
	registry        *services.TableRegistry
	importer        *services.SalesImportService
	monitoring      *services.MonitoringService
	Sweeper         *services.CacheSweeper
	responder       services.ConversationalResponder
	extractor       services.InvoiceExtractor
}

// NewApp wires the engines. responder and extractor may be nil.
func NewApp(cfg *config.Config, log zerolog.Logger, responder services.ConversationalResponder, extractor services.InvoiceExtractor) *App {
	forecastSettings := services.DefaultForecastSettings()
	forecastSettings.MinPoints = cfg.ForecastMinPoints
	forecastSettings.SeasonalMinPoints = cfg.ForecastSeasonalMinPoints
	forecastSettings.TrendThreshold = cfg.ForecastTrendThreshold

	recommendSettings := services.RecommendationSettings{
		TopN:             cfg.RecommendTopN,
		TransitiveWeight: cfg.RecommendTransitiveWeight,
	}

	cacheSettings := func(name string) services.CacheSettings {
		return services.CacheSettings{Name: name, TTL: cfg.ModelCacheTTL, FitTimeout: cfg.ForecastFitTimeout}
	}

	registry := services.NewTableRegistry()
	forecasts := services.NewForecastEngine(forecastSettings, cacheSettings("forecast"), log)
	recommendations := services.NewRecommendationEngine(recommendSettings, registry, cacheSettings("cooccurrence"), log)

	return &App{
		forecasts:       forecasts,
		recommendations: recommendations,
		registry:        registry,
		importer:        services.NewSalesImportService(log),
		monitoring:      services.NewMonitoringService(log, forecasts.Cache(), recommendations.Cache()),
		Sweeper:         services.NewCacheSweeper(log, forecasts.Cache(), recommendations.Cache()),
		responder:       responder,
		extractor:       extractor,
	}
}

// NewRouter registers middleware and routes.
func NewRouter(cfg *config.Config, a *App, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(a.monitoring.LoggingMiddleware())

	corsConfig := cors.DefaultConfig()
	if slices.Contains(cfg.AllowedOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AddAllowHeaders("X-API-KEY", services.RequestIDHeader)
	r.Use(cors.New(corsConfig))

	adminHandler := handlers.NewAdminHandler(cfg)
	monitoringHandler := handlers.NewMonitoringHandler(a.monitoring)
	forecastHandler := handlers.NewForecastHandler(a.forecasts, a.importer, log)
	recommendationHandler := handlers.NewRecommendationHandler(
		a.recommendations, a.forecasts, a.registry, a.registry, a.importer, cfg.RecommendTopN, log)
	assistantHandler := handlers.NewAssistantHandler(a.responder, a.extractor, log)

	// サービス情報・ヘルスチェック・メトリクス
	r.GET("/", adminHandler.Root)
	r.GET("/health", adminHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// APIバージョン1のルートグループ
	v1 := r.Group("/api/v1")
	v1.Use(handlers.APIKeyAuth(cfg.APIKey), adminHandler.MaintenanceGuard())
	{
		v1.POST("/predict-demand", forecastHandler.PredictDemand)
		v1.POST("/recommend-upsell", recommendationHandler.RecommendUpsell)
		v1.POST("/chat", assistantHandler.Chat)
		v1.POST("/parse-invoice", assistantHandler.ParseInvoice)
		v1.GET("/model-metrics", monitoringHandler.GetModelMetrics)

		// テナント単位のデータ管理
		tenants := v1.Group("/tenants/:tenant_id")
		{
			tenants.PUT("/cooccurrence", recommendationHandler.PutTable)
			tenants.POST("/cooccurrence/import", recommendationHandler.ImportOrders)
			tenants.POST("/sales/import", forecastHandler.ImportAndForecast)
			tenants.DELETE("/cache", recommendationHandler.InvalidateTenant)
		}

		// 管理者向けAPI
		admin := v1.Group("/admin")
		{
			admin.GET("/health-status", adminHandler.GetHealthStatus)
			admin.POST("/maintenance/start", adminHandler.StartMaintenance)
			admin.POST("/maintenance/stop", adminHandler.StopMaintenance)
		}

		// モニタリングAPI
		monitoring := v1.Group("/monitoring")
		{
			monitoring.GET("/logs", monitoringHandler.GetLogs)
		}
	}

	return r
}

// Assistant builds the LLM capabilities from the config. Both are nil when
// Azure OpenAI is not configured.
func Assistant(cfg *config.Config, log zerolog.Logger) (services.ConversationalResponder, services.InvoiceExtractor) {
	if !cfg.OpenAIConfigured() {
		log.Warn().Msg("Azure OpenAI is not configured; /chat and /parse-invoice will return 503")
		return nil, nil
	}
	prompt, err := config.LoadAssistantPrompt(cfg.AssistantPromptFile)
	if err != nil {
		log.Warn().Err(err).Str("file", cfg.AssistantPromptFile).Msg("Falling back to the built-in assistant prompt")
		prompt = config.DefaultAssistantPrompt()
	}

	client, err := azure.NewOpenAIClient(
		cfg.AzureOpenAIEndpoint,
		cfg.AzureOpenAIAPIKey,
		cfg.AzureOpenAIAPIVersion,
		cfg.AzureOpenAIDeploymentName,
		cfg.AzureOpenAIVisionDeployment,
		cfg.AzureOpenAIProxyURL,
	)
	if err != nil {
		log.Error().Err(err).Msg("Azure OpenAI client could not be built; /chat and /parse-invoice will return 503")
		return nil, nil
	}
	if cfg.AzureOpenAIProxyURL != "" {
		log.Info().Str("proxy", cfg.AzureOpenAIProxyURL).Msg("Azure OpenAI requests go through the configured proxy")
	}
	client = client.WithPrompt(prompt)
	return client, client
}
