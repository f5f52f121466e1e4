package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Port           string
	Environment    string
	LogLevel       string
	APIKey         string
	AllowedOrigins []string
	AdminUsername  string
	AdminPassword  string

	AzureOpenAIEndpoint         string
	AzureOpenAIAPIKey           string
	AzureOpenAIAPIVersion       string
	AzureOpenAIDeploymentName   string
	AzureOpenAIVisionDeployment string
	AzureOpenAIProxyURL         string
	AssistantPromptFile         string

	ForecastMinPoints         int
	ForecastSeasonalMinPoints int
	ForecastTrendThreshold    float64
	ForecastFitTimeout        time.Duration
	ModelCacheTTL             time.Duration
	CacheSweepSchedule        string
	RecommendTopN             int
	RecommendTransitiveWeight float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		APIKey:         getEnv("API_KEY", ""),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		AdminUsername:  getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:  getEnv("ADMIN_PASSWORD", ""),

		AzureOpenAIEndpoint:         getEnv("AZURE_OPENAI_ENDPOINT", ""),
		AzureOpenAIAPIKey:           getEnv("AZURE_OPENAI_API_KEY", ""),
		AzureOpenAIAPIVersion:       getEnv("AZURE_OPENAI_API_VERSION", "2024-06-01"),
		AzureOpenAIDeploymentName:   getEnv("AZURE_OPENAI_DEPLOYMENT_NAME", "gpt-4o-mini"),
		AzureOpenAIVisionDeployment: getEnv("AZURE_OPENAI_VISION_DEPLOYMENT", "gpt-4o"),
		AzureOpenAIProxyURL:         getEnv("AZURE_OPENAI_PROXY_URL", ""),
		AssistantPromptFile:         getEnv("ASSISTANT_PROMPT_FILE", ""),

		ForecastMinPoints:         getEnvInt("FORECAST_MIN_POINTS", 2),
		ForecastSeasonalMinPoints: getEnvInt("FORECAST_SEASONAL_MIN_POINTS", 12),
		ForecastTrendThreshold:    getEnvFloat("FORECAST_TREND_THRESHOLD", 0.05),
		ForecastFitTimeout:        getEnvDuration("FORECAST_FIT_TIMEOUT", 5*time.Second),
		ModelCacheTTL:             getEnvDuration("MODEL_CACHE_TTL", time.Hour),
		CacheSweepSchedule:        getEnv("CACHE_SWEEP_SCHEDULE", "@every 5m"),
		RecommendTopN:             getEnvInt("RECOMMEND_TOP_N", 5),
		RecommendTransitiveWeight: getEnvFloat("RECOMMEND_TRANSITIVE_WEIGHT", 0.25),
	}
}

// OpenAIConfigured reports whether the assistant endpoints can be served.
func (c *Config) OpenAIConfigured() bool {
	return c.AzureOpenAIEndpoint != "" && c.AzureOpenAIAPIKey != ""
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
