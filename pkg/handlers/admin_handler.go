package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync/atomic"

	config "nexus-ai-engine/configs"

	"github.com/gin-gonic/gin"
)

// ServiceName and ServiceVersion are reported by the root endpoint.
const (
	ServiceName    = "NEXUS AI Engine"
	ServiceVersion = "1.0.0"
)

// AdminHandler は管理者向け操作とヘルスチェックのハンドラです。
// メンテナンスモードは atomic.Bool でスレッドセーフに保持します。
type AdminHandler struct {
	AdminUsername    string
	AdminPassword    string
	environment      string
	openAIConfigured bool
	maintenance      atomic.Bool
}

// NewAdminHandler は新しいAdminHandlerを生成します。
func NewAdminHandler(cfg *config.Config) *AdminHandler {
	return &AdminHandler{
		AdminUsername:    cfg.AdminUsername,
		AdminPassword:    cfg.AdminPassword,
		environment:      cfg.Environment,
		openAIConfigured: cfg.OpenAIConfigured(),
	}
}

// AdminCredentials は管理者認証のためのリクエストボディです。
type AdminCredentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// authorize binds credentials and writes the error response when they are wrong.
func (h *AdminHandler) authorize(c *gin.Context) bool {
	var input AdminCredentials
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return false
	}
	// パスワード未設定の場合は常に拒否
	if h.AdminPassword == "" ||
		subtle.ConstantTimeCompare([]byte(input.Username), []byte(h.AdminUsername)) != 1 ||
		subtle.ConstantTimeCompare([]byte(input.Password), []byte(h.AdminPassword)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return false
	}
	return true
}

// StartMaintenance はメンテナンスモードを開始します。
func (h *AdminHandler) StartMaintenance(c *gin.Context) {
	if !h.authorize(c) {
		return
	}
	h.maintenance.Store(true)
	c.JSON(http.StatusOK, gin.H{"message": "Maintenance mode started"})
}

// StopMaintenance はメンテナンスモードを停止します。
func (h *AdminHandler) StopMaintenance(c *gin.Context) {
	if !h.authorize(c) {
		return
	}
	h.maintenance.Store(false)
	c.JSON(http.StatusOK, gin.H{"message": "Maintenance mode stopped"})
}

// GetHealthStatus は現在のサーバーの状態を返します。
func (h *AdminHandler) GetHealthStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"isMaintenanceMode": h.maintenance.Load()})
}

// MaintenanceGuard rejects API calls with 503 while maintenance mode is on.
// Admin routes stay reachable so the mode can be switched off again.
func (h *AdminHandler) MaintenanceGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.maintenance.Load() && !strings.HasPrefix(c.Request.URL.Path, "/api/v1/admin") {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Server is in maintenance mode"})
			return
		}
		c.Next()
	}
}

// Root はサービスのバナーを返します。
func (h *AdminHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     ServiceName,
		"status":      "running",
		"version":     ServiceVersion,
		"environment": h.environment,
	})
}

// HealthCheck は外部のヘルスチェッカー（例: ロードバランサー）からのリクエストに応答します。
func (h *AdminHandler) HealthCheck(c *gin.Context) {
	if h.maintenance.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "message": "Server is in maintenance mode"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "openai_configured": h.openAIConfigured})
}

// APIKeyAuth は X-API-KEY ヘッダーを検証するミドルウェアです。キー未設定時は認証しません。
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if subtle.ConstantTimeCompare([]byte(c.GetHeader("X-API-KEY")), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
