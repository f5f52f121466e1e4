package handlers

import (
	"fmt"
	"net/http"

	"nexus-ai-engine/pkg/services"

	"github.com/gin-gonic/gin"
)

// MonitoringHandler はモニタリング関連の操作のハンドラです。
type MonitoringHandler struct {
	Service *services.MonitoringService
}

// NewMonitoringHandler は新しいMonitoringHandlerを生成します。
func NewMonitoringHandler(service *services.MonitoringService) *MonitoringHandler {
	return &MonitoringHandler{
		Service: service,
	}
}

// dashboardPeriods は period クエリで指定できる集計期間（時間）。
var dashboardPeriods = map[string]int{
	"1h":  1,
	"24h": 24,
	"7d":  24 * 7,
}

// GetLogs は集計されたログデータを返します。
// 集計範囲と保持件数は window に入り、保持上限で欠けた期間は truncated になる。
func (h *MonitoringHandler) GetLogs(c *gin.Context) {
	period := c.DefaultQuery("period", "24h")
	hours, ok := dashboardPeriods[period]
	if !ok {
		badRequest(c, fmt.Sprintf("unknown period %q (use 1h, 24h or 7d)", period))
		return
	}

	c.JSON(http.StatusOK, h.Service.GetDashboardData(hours))
}

// GetModelMetrics はモデルキャッシュの統計を返します。
func (h *MonitoringHandler) GetModelMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"caches": h.Service.ModelCacheSummaries()})
}
