package handlers

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"nexus-ai-engine/pkg/models"
	"nexus-ai-engine/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ForecastHandler 需要予測ハンドラー
type ForecastHandler struct {
	engine   *services.ForecastEngine
	importer *services.SalesImportService
	log      zerolog.Logger
}

// NewForecastHandler 新しい需要予測ハンドラーを作成
func NewForecastHandler(engine *services.ForecastEngine, importer *services.SalesImportService, log zerolog.Logger) *ForecastHandler {
	return &ForecastHandler{
		engine:   engine,
		importer: importer,
		log:      log.With().Str("component", "forecast_handler").Logger(),
	}
}

// PredictDemand 翌月の需要を予測
func (h *ForecastHandler) PredictDemand(c *gin.Context) {
	var request models.PredictDemandRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if len(request.HistoricalSales) != len(request.Dates) {
		badRequest(c, fmt.Sprintf("historical_sales and dates must have the same length (%d != %d)",
			len(request.HistoricalSales), len(request.Dates)))
		return
	}

	series := make([]models.TimeSeriesPoint, len(request.Dates))
	for i, raw := range request.Dates {
		date, err := time.Parse("2006-01-02", raw)
		if err != nil {
			badRequest(c, fmt.Sprintf("dates[%d]: expected YYYY-MM-DD, got %q", i, raw))
			return
		}
		series[i] = models.TimeSeriesPoint{Date: date, Value: request.HistoricalSales[i]}
	}

	result, err := h.engine.Forecast(c.Request.Context(), models.ForecastRequest{
		TenantID:  request.TenantID,
		ProductID: request.ProductID,
		Series:    series,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, toPredictDemandResponse(result))
}

// ImportAndForecast 販売実績ファイル（xlsx/csv）を取り込み、製品ごとに翌月を予測
func (h *ForecastHandler) ImportAndForecast(c *gin.Context) {
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
	records, err := h.importer.ParseSalesRecords(rows)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	monthly := services.MonthlySeries(records)
	products := make([]string, 0, len(monthly))
	for id := range monthly {
		products = append(products, id)
	}
	sort.Strings(products)

	forecasts := make([]models.ProductForecast, 0, len(products))
	for _, productID := range products {
		result, err := h.engine.Forecast(c.Request.Context(), models.ForecastRequest{
			TenantID:  tenantID,
			ProductID: productID,
			Series:    monthly[productID],
		})
		if err != nil {
			if statusFor(err) >= http.StatusInternalServerError {
				respondError(c, h.log, err)
				return
			}
			forecasts = append(forecasts, models.ProductForecast{ProductID: productID, Error: err.Error()})
			continue
		}
		response := toPredictDemandResponse(result)
		forecasts = append(forecasts, models.ProductForecast{ProductID: productID, Result: &response})
	}

	h.log.Info().Str("tenant_id", tenantID).Int("products", len(products)).Int("records", len(records)).Msg("Imported sales history")
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"tenant_id": tenantID,
		"forecasts": forecasts,
	})
}

func toPredictDemandResponse(result models.ForecastResult) models.PredictDemandResponse {
	return models.PredictDemandResponse{
		NextMonthForecast: int(math.Round(result.Forecast)),
		Confidence:        round2(result.Confidence),
		Trend:             result.Trend,
	}
}
