package handlers

import (
	"net/http"

	"nexus-ai-engine/pkg/models"
	"nexus-ai-engine/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// TableStore receives replacement co-occurrence data for a tenant.
type TableStore interface {
	Put(tenantID string, table models.CooccurrenceTable) error
	PutPopularity(tenantID string, counts map[string]int)
}

// RecommendationHandler アップセル推薦と併売テーブル管理のハンドラー
type RecommendationHandler struct {
	engine     *services.RecommendationEngine
	forecasts  *services.ForecastEngine
	store      TableStore
	popularity services.PopularityRanker
	importer   *services.SalesImportService
	topN       int
	log        zerolog.Logger
}

// NewRecommendationHandler creates the handler. popularity may be nil, in
// which case empty results are returned as-is.
func NewRecommendationHandler(
	engine *services.RecommendationEngine,
	forecasts *services.ForecastEngine,
	store TableStore,
	popularity services.PopularityRanker,
	importer *services.SalesImportService,
	topN int,
	log zerolog.Logger,
) *RecommendationHandler {
	if topN < 1 {
		topN = services.DefaultRecommendationSettings().TopN
	}
	return &RecommendationHandler{
		engine:     engine,
		forecasts:  forecasts,
		store:      store,
		popularity: popularity,
		importer:   importer,
		topN:       topN,
		log:        log.With().Str("component", "recommendation_handler").Logger(),
	}
}

// RecommendUpsell カートの内容からアップセル候補を返す
func (h *RecommendationHandler) RecommendUpsell(c *gin.Context) {
	var request models.RecommendUpsellRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	result, err := h.engine.Recommend(c.Request.Context(), models.RecommendationRequest{
		TenantID:    request.TenantID,
		BasketItems: request.CurrentCartItems,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	items := result.Items
	if result.FallbackSuggested && h.popularity != nil {
		trending, err := h.popularity.TopProducts(c.Request.Context(), request.TenantID, h.topN, request.CurrentCartItems)
		if err != nil {
			// 人気度は補助情報なので失敗してもコア結果を返す
			h.log.Warn().Err(err).Str("tenant_id", request.TenantID).Msg("popularity fallback failed")
		} else {
			items = trending
		}
	}

	c.JSON(http.StatusOK, models.RecommendUpsellResponse{
		Recommendations:   items,
		FallbackSuggested: result.FallbackSuggested,
	})
}

// PutTable テナントの併売テーブルを置き換える
func (h *RecommendationHandler) PutTable(c *gin.Context) {
	tenantID := c.Param("tenant_id")

	var request models.CooccurrenceTableRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	table := make(models.CooccurrenceTable)
	for _, p := range request.Pairs {
		if p.AnchorID == "" {
			badRequest(c, "every pair needs an anchor_id")
			return
		}
		table[p.AnchorID] = append(table[p.AnchorID], p)
	}
	if err := h.store.Put(tenantID, table); err != nil {
		badRequest(c, err.Error())
		return
	}
	h.engine.InvalidateTenant(tenantID)

	h.log.Info().Str("tenant_id", tenantID).Int("pairs", len(request.Pairs)).Msg("Cooccurrence table replaced")
	c.JSON(http.StatusOK, gin.H{"success": true, "tenant_id": tenantID, "anchors": len(table)})
}

// ImportOrders 注文明細ファイル（xlsx/csv）から併売テーブルと人気度を作り直す
func (h *RecommendationHandler) ImportOrders(c *gin.Context) {
	tenantID := c.Param("tenant_id")

	file, fileHeader, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	defer file.Close()

	rows, err := h.importer.ReadRows(file, fileHeader.Filename)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	lines, err := h.importer.ParseOrderLines(rows)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	table, popularity := services.BuildCooccurrenceTable(lines)
	if err := h.store.Put(tenantID, table); err != nil {
		respondError(c, h.log, err)
		return
	}
	h.store.PutPopularity(tenantID, popularity)
	h.engine.InvalidateTenant(tenantID)

	pairs := 0
	for _, row := range table {
		pairs += len(row)
	}
	h.log.Info().Str("tenant_id", tenantID).Int("order_lines", len(lines)).Int("pairs", pairs).Msg("Imported order history")
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"tenant_id":   tenantID,
		"order_lines": len(lines),
		"products":    len(popularity),
		"pairs":       pairs,
	})
}

// InvalidateTenant テナントのキャッシュ済みモデルをすべて破棄する
func (h *RecommendationHandler) InvalidateTenant(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	forecasts := h.forecasts.InvalidateTenant(tenantID)
	table := h.engine.InvalidateTenant(tenantID)

	c.JSON(http.StatusOK, gin.H{
		"success":              true,
		"tenant_id":            tenantID,
		"forecasts_evicted":    forecasts,
		"cooccurrence_evicted": table,
	})
}
