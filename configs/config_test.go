package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	// t.Setenv restores the previous values after the test
	testCases := map[string]string{
		"PORT":                           "9090",
		"ENVIRONMENT":                    "test",
		"API_KEY":                        "secret",
		"ALLOWED_ORIGINS":                "https://a.example, https://b.example,",
		"AZURE_OPENAI_ENDPOINT":          "https://test.openai.azure.com/",
		"AZURE_OPENAI_API_KEY":           "test-key",
		"AZURE_OPENAI_API_VERSION":       "2023-12-01-preview",
		"AZURE_OPENAI_DEPLOYMENT_NAME":   "test-deployment",
		"AZURE_OPENAI_VISION_DEPLOYMENT": "test-vision",
		"AZURE_OPENAI_PROXY_URL":         "http://proxy.internal:3128",
		"FORECAST_MIN_POINTS":            "4",
		"FORECAST_SEASONAL_MIN_POINTS":   "24",
		"FORECAST_TREND_THRESHOLD":       "0.1",
		"FORECAST_FIT_TIMEOUT":           "750ms",
		"MODEL_CACHE_TTL":                "10m",
		"CACHE_SWEEP_SCHEDULE":           "@every 30s",
		"RECOMMEND_TOP_N":                "3",
		"RECOMMEND_TRANSITIVE_WEIGHT":    "0",
	}
	for key, value := range testCases {
		t.Setenv(key, value)
	}

	cfg := LoadConfig()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "https://test.openai.azure.com/", cfg.AzureOpenAIEndpoint)
	assert.Equal(t, "test-deployment", cfg.AzureOpenAIDeploymentName)
	assert.Equal(t, "test-vision", cfg.AzureOpenAIVisionDeployment)
	assert.Equal(t, "http://proxy.internal:3128", cfg.AzureOpenAIProxyURL)
	assert.True(t, cfg.OpenAIConfigured())

	assert.Equal(t, 4, cfg.ForecastMinPoints)
	assert.Equal(t, 24, cfg.ForecastSeasonalMinPoints)
	assert.InDelta(t, 0.1, cfg.ForecastTrendThreshold, 1e-12)
	assert.Equal(t, 750*time.Millisecond, cfg.ForecastFitTimeout)
	assert.Equal(t, 10*time.Minute, cfg.ModelCacheTTL)
	assert.Equal(t, "@every 30s", cfg.CacheSweepSchedule)
	assert.Equal(t, 3, cfg.RecommendTopN)
	assert.Zero(t, cfg.RecommendTransitiveWeight)
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENVIRONMENT", "API_KEY", "ALLOWED_ORIGINS",
		"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_PROXY_URL",
		"FORECAST_MIN_POINTS", "FORECAST_SEASONAL_MIN_POINTS", "FORECAST_TREND_THRESHOLD", "FORECAST_FIT_TIMEOUT",
		"MODEL_CACHE_TTL", "RECOMMEND_TOP_N", "RECOMMEND_TRANSITIVE_WEIGHT",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.False(t, cfg.OpenAIConfigured())
	assert.Equal(t, 2, cfg.ForecastMinPoints)
	assert.Equal(t, 12, cfg.ForecastSeasonalMinPoints)
	assert.Empty(t, cfg.AzureOpenAIProxyURL)
	assert.InDelta(t, 0.05, cfg.ForecastTrendThreshold, 1e-12)
	assert.Equal(t, 5*time.Second, cfg.ForecastFitTimeout)
	assert.Equal(t, time.Hour, cfg.ModelCacheTTL)
	assert.Equal(t, 5, cfg.RecommendTopN)
	assert.InDelta(t, 0.25, cfg.RecommendTransitiveWeight, 1e-12)
}

func TestGetEnvFallsBackOnGarbage(t *testing.T) {
	t.Setenv("FORECAST_FIT_TIMEOUT", "soon")
	t.Setenv("RECOMMEND_TOP_N", "five")
	t.Setenv("FORECAST_TREND_THRESHOLD", "high")

	assert.Equal(t, 5*time.Second, getEnvDuration("FORECAST_FIT_TIMEOUT", 5*time.Second))
	assert.Equal(t, 5, getEnvInt("RECOMMEND_TOP_N", 5))
	assert.InDelta(t, 0.05, getEnvFloat("FORECAST_TREND_THRESHOLD", 0.05), 1e-12)
}
