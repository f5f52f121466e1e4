package models

// PredictDemandRequest is the body of POST /api/v1/predict-demand.
type PredictDemandRequest struct {
	TenantID        string    `json:"tenant_id" binding:"required"`
	ProductID       string    `json:"product_id" binding:"required"`
	HistoricalSales []float64 `json:"historical_sales" binding:"required"`
	Dates           []string  `json:"dates" binding:"required"` // YYYY-MM-DD
}

// PredictDemandResponse is the wire form of a ForecastResult.
type PredictDemandResponse struct {
	NextMonthForecast int     `json:"next_month_forecast"`
	Confidence        float64 `json:"confidence"`
	Trend             Trend   `json:"trend"`
}

// ProductForecast is one row of a bulk forecast built from an imported file.
type ProductForecast struct {
	ProductID string                 `json:"product_id"`
	Result    *PredictDemandResponse `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// RecommendUpsellRequest is the body of POST /api/v1/recommend-upsell.
type RecommendUpsellRequest struct {
	TenantID         string   `json:"tenant_id" binding:"required"`
	CurrentCartItems []string `json:"current_cart_items"`
}

// RecommendUpsellResponse is the wire form of a RecommendationResult.
type RecommendUpsellResponse struct {
	Recommendations   []Recommendation `json:"recommendations"`
	FallbackSuggested bool             `json:"fallback_suggested"`
}

// CooccurrenceTableRequest replaces a tenant's co-occurrence table.
type CooccurrenceTableRequest struct {
	Pairs []CooccurrencePair `json:"pairs" binding:"required"`
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// ChatContext is what the client knows about where the user is.
type ChatContext struct {
	CurrentPage         string                 `json:"current_page,omitempty"`
	ConversationHistory []ChatMessage          `json:"conversation_history,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	TenantID    string      `json:"tenant_id" binding:"required"`
	UserMessage string      `json:"user_message" binding:"required"`
	Context     ChatContext `json:"context"`
}

// ChatResponse is the assistant's reply plus suggested next actions.
type ChatResponse struct {
	Response    string   `json:"response"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ParseInvoiceRequest is the body of POST /api/v1/parse-invoice.
type ParseInvoiceRequest struct {
	ImageURL string `json:"image_url" binding:"required"`
}
