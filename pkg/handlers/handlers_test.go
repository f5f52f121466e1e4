package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	config "nexus-ai-engine/configs"
	"nexus-ai-engine/pkg/models"
	"nexus-ai-engine/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router    *gin.Engine
	forecasts *services.ForecastEngine
	registry  *services.TableRegistry
}

func newFixture(responder services.ConversationalResponder, extractor services.InvoiceExtractor) *fixture {
	log := zerolog.Nop()
	cacheSettings := services.CacheSettings{TTL: time.Hour, FitTimeout: time.Second}
	registry := services.NewTableRegistry()
	forecasts := services.NewForecastEngine(services.DefaultForecastSettings(), cacheSettings, log)
	recommendations := services.NewRecommendationEngine(services.DefaultRecommendationSettings(), registry, cacheSettings, log)
	importer := services.NewSalesImportService(log)

	fh := NewForecastHandler(forecasts, importer, log)
	rh := NewRecommendationHandler(recommendations, forecasts, registry, registry, importer, 5, log)
	ah := NewAssistantHandler(responder, extractor, log)

	r := gin.New()
	r.POST("/predict-demand", fh.PredictDemand)
	r.POST("/recommend-upsell", rh.RecommendUpsell)
	r.POST("/tenants/:tenant_id/sales/import", fh.ImportAndForecast)
	r.POST("/tenants/:tenant_id/cooccurrence/import", rh.ImportOrders)
	r.PUT("/tenants/:tenant_id/cooccurrence", rh.PutTable)
	r.DELETE("/tenants/:tenant_id/cache", rh.InvalidateTenant)
	r.POST("/chat", ah.Chat)
	r.POST("/parse-invoice", ah.ParseInvoice)

	return &fixture{router: r, forecasts: forecasts, registry: registry}
}

func (f *fixture) json(method, path string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) upload(path, fileName, content string) *httptest.ResponseRecorder {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", fileName)
	_, _ = part.Write([]byte(content))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&services.InvalidSeriesError{Index: 1, Reason: "x"}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", &services.InsufficientDataError{Have: 1, Need: 2}), http.StatusUnprocessableEntity},
		{&services.FitTimeoutError{Timeout: time.Second}, http.StatusServiceUnavailable},
		{&services.CacheCorruptionError{Reason: "x"}, http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestRespondErrorHidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	respondError(c, zerolog.Nop(), &services.CacheCorruptionError{Reason: "secret detail"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret detail")
}

func TestPredictDemandRoundsResponse(t *testing.T) {
	f := newFixture(nil, nil)

	w := f.json(http.MethodPost, "/predict-demand", models.PredictDemandRequest{
		TenantID:        "t1",
		ProductID:       "p1",
		HistoricalSales: []float64{10.2, 20.1, 29.9, 40.3},
		Dates:           []string{"2024-01-01", "2024-02-01", "2024-03-01", "2024-04-01"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	forecast, ok := raw["next_month_forecast"].(float64)
	require.True(t, ok)
	assert.Equal(t, forecast, float64(int(forecast)), "forecast is an integer")
	confidence := raw["confidence"].(float64)
	assert.InDelta(t, confidence, float64(int(confidence*100+0.5))/100, 1e-9)
	assert.Less(t, confidence, 0.5, "four points only support the linear fallback")
	assert.Equal(t, "increasing", raw["trend"])
}

func TestPredictDemandMissingFields(t *testing.T) {
	f := newFixture(nil, nil)

	w := f.json(http.MethodPost, "/predict-demand", map[string]interface{}{"tenant_id": "t1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.json(http.MethodPost, "/predict-demand", models.PredictDemandRequest{
		TenantID: "t1", ProductID: "p1", HistoricalSales: []float64{}, Dates: []string{},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestImportAndForecast(t *testing.T) {
	f := newFixture(nil, nil)
	csv := "date,product_id,quantity\n" +
		"2024-01-05,A,10\n2024-01-20,A,5\n2024-02-03,A,20\n2024-03-09,A,30\n" +
		"2024-01-05,B,7\n"

	w := f.upload("/tenants/t1/sales/import", "sales.csv", csv)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Forecasts []models.ProductForecast `json:"forecasts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Forecasts, 2)

	assert.Equal(t, "A", resp.Forecasts[0].ProductID)
	require.NotNil(t, resp.Forecasts[0].Result)
	assert.Equal(t, models.TrendIncreasing, resp.Forecasts[0].Result.Trend)

	assert.Equal(t, "B", resp.Forecasts[1].ProductID)
	assert.Nil(t, resp.Forecasts[1].Result)
	assert.Contains(t, resp.Forecasts[1].Error, "insufficient data")

	w = f.upload("/tenants/t1/sales/import", "sales.pdf", csv)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportOrdersThenRecommend(t *testing.T) {
	f := newFixture(nil, nil)
	orders := "order_id,product_id\nO1,A\nO1,B\nO2,A\nO2,B\nO3,A\nO3,C\nO4,D\n"

	w := f.upload("/tenants/t1/cooccurrence/import", "orders.csv", orders)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.json(http.MethodPost, "/recommend-upsell", models.RecommendUpsellRequest{TenantID: "t1", CurrentCartItems: []string{"A"}})
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.RecommendUpsellResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Recommendations, 2)
	assert.Equal(t, "B", resp.Recommendations[0].ProductID)
	assert.Equal(t, "C", resp.Recommendations[1].ProductID)

	// empty cart: the popularity ranking fills in
	w = f.json(http.MethodPost, "/recommend-upsell", models.RecommendUpsellRequest{TenantID: "t1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.FallbackSuggested)
	require.NotEmpty(t, resp.Recommendations)
	assert.Equal(t, "A", resp.Recommendations[0].ProductID)
	assert.Equal(t, models.ReasonTrendingProduct, resp.Recommendations[0].Reason)
}

func TestPutTableValidation(t *testing.T) {
	f := newFixture(nil, nil)

	w := f.json(http.MethodPut, "/tenants/t1/cooccurrence", models.CooccurrenceTableRequest{
		Pairs: []models.CooccurrencePair{{RelatedID: "B", Strength: 1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.json(http.MethodPut, "/tenants/t1/cooccurrence", models.CooccurrenceTableRequest{
		Pairs: []models.CooccurrencePair{{AnchorID: "A", RelatedID: "B", Strength: -1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidateTenantCache(t *testing.T) {
	f := newFixture(nil, nil)
	series := []models.TimeSeriesPoint{
		{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Value: 1},
		{Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Value: 2},
	}
	_, err := f.forecasts.Forecast(context.Background(), models.ForecastRequest{TenantID: "t1", ProductID: "p1", Series: series})
	require.NoError(t, err)

	w := f.json(http.MethodDelete, "/tenants/t1/cache", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["forecasts_evicted"])
	assert.Equal(t, 0, f.forecasts.Cache().Len())
}

type stubResponder struct {
	got   models.ChatRequest
	reply string
	err   error
}

func (s *stubResponder) Respond(_ context.Context, req models.ChatRequest) (string, error) {
	s.got = req
	return s.reply, s.err
}

type stubExtractor struct {
	invoice models.ParsedInvoice
	err     error
}

func (s *stubExtractor) ExtractInvoice(context.Context, string) (models.ParsedInvoice, error) {
	return s.invoice, s.err
}

func TestChat(t *testing.T) {
	responder := &stubResponder{reply: "Check the Low Stock Alerts page"}
	f := newFixture(responder, nil)

	history := make([]models.ChatMessage, 7)
	for i := range history {
		history[i] = models.ChatMessage{Role: "user", Content: fmt.Sprintf("m%d", i)}
	}
	w := f.json(http.MethodPost, "/chat", models.ChatRequest{
		TenantID:    "t1",
		UserMessage: "what is low?",
		Context:     models.ChatContext{CurrentPage: "/crm/deals", ConversationHistory: history},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Check the Low Stock Alerts page", resp.Response)
	assert.Equal(t, "View deal pipeline", resp.Suggestions[0])
	require.Len(t, responder.got.Context.ConversationHistory, services.ChatHistoryLimit)
	assert.Equal(t, "m2", responder.got.Context.ConversationHistory[0].Content)

	w = f.json(http.MethodPost, "/chat", map[string]string{"tenant_id": "t1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	responder.err = errors.New("upstream down")
	w = f.json(http.MethodPost, "/chat", models.ChatRequest{TenantID: "t1", UserMessage: "hi"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestParseInvoice(t *testing.T) {
	extractor := &stubExtractor{invoice: models.ParsedInvoice{
		VendorName:  "Acme Supplies Inc.",
		InvoiceDate: "2026-01-15",
		TotalAmount: 1250,
		LineItems:   []models.InvoiceLineItem{{Description: "Widget A", Quantity: 10, UnitPrice: 50, Total: 500}},
	}}
	f := newFixture(nil, extractor)

	w := f.json(http.MethodPost, "/parse-invoice", models.ParseInvoiceRequest{ImageURL: "https://example.com/invoice.jpg"})
	require.Equal(t, http.StatusOK, w.Code)
	var invoice models.ParsedInvoice
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &invoice))
	assert.Equal(t, extractor.invoice, invoice)

	w = f.json(http.MethodPost, "/chat", models.ChatRequest{TenantID: "t1", UserMessage: "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no responder configured")

	extractor.err = errors.New("bad image")
	w = f.json(http.MethodPost, "/parse-invoice", models.ParseInvoiceRequest{ImageURL: "https://example.com/invoice.jpg"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestAdminHandler(t *testing.T) {
	h := NewAdminHandler(&config.Config{AdminUsername: "admin", AdminPassword: "", Environment: "test"})
	r := gin.New()
	r.POST("/start", h.StartMaintenance)

	payload := []byte(`{"username":"admin","password":"anything"}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/start", bytes.NewReader(payload)))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "an unset admin password never authorizes")
}

func TestMonitoringLogsPeriod(t *testing.T) {
	h := NewMonitoringHandler(services.NewMonitoringService(zerolog.Nop()))
	r := gin.New()
	r.GET("/monitoring/logs", h.GetLogs)

	tests := []struct {
		query string
		code  int
		hours int
	}{
		{"", http.StatusOK, 24},
		{"?period=1h", http.StatusOK, 1},
		{"?period=24h", http.StatusOK, 24},
		{"?period=7d", http.StatusOK, 24 * 7},
		{"?period=30d", http.StatusBadRequest, 0},
		{"?period=", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/monitoring/logs"+tt.query, nil))
			require.Equal(t, tt.code, w.Code)
			if tt.code != http.StatusOK {
				assert.Contains(t, w.Body.String(), "unknown period")
				return
			}
			var body struct {
				Window struct {
					PeriodHours int  `json:"periodHours"`
					Retention   int  `json:"retention"`
					Truncated   bool `json:"truncated"`
				} `json:"window"`
				RequestsOverTime []interface{} `json:"requestsOverTime"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.hours, body.Window.PeriodHours)
			assert.Len(t, body.RequestsOverTime, tt.hours)
			assert.Positive(t, body.Window.Retention)
			assert.False(t, body.Window.Truncated)
		})
	}
}
