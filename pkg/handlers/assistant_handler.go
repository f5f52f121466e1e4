package handlers

import (
	"net/http"

	"nexus-ai-engine/pkg/models"
	"nexus-ai-engine/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AssistantHandler serves the LLM-backed endpoints. Either capability may be
// nil when no model endpoint is configured.
type AssistantHandler struct {
	responder services.ConversationalResponder
	extractor services.InvoiceExtractor
	log       zerolog.Logger
}

// NewAssistantHandler 新しいアシスタントハンドラーを作成
func NewAssistantHandler(responder services.ConversationalResponder, extractor services.InvoiceExtractor, log zerolog.Logger) *AssistantHandler {
	return &AssistantHandler{
		responder: responder,
		extractor: extractor,
		log:       log.With().Str("component", "assistant_handler").Logger(),
	}
}

// Chat ページの文脈を踏まえてユーザーの質問に回答する
func (h *AssistantHandler) Chat(c *gin.Context) {
	if h.responder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "chat assistant is not configured"})
		return
	}

	var request models.ChatRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	request.Context.ConversationHistory = services.TrimHistory(request.Context.ConversationHistory)

	reply, err := h.responder.Respond(c.Request.Context(), request)
	if err != nil {
		h.log.Error().Err(err).Str("tenant_id", request.TenantID).Str("request_id", c.GetString("request_id")).Msg("chat failed")
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "chat assistant request failed"})
		return
	}

	c.JSON(http.StatusOK, models.ChatResponse{
		Response:    reply,
		Suggestions: services.SuggestActions(request.Context.CurrentPage),
	})
}

// ParseInvoice 請求書画像から構造化データを抽出する
func (h *AssistantHandler) ParseInvoice(c *gin.Context) {
	if h.extractor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "invoice extraction is not configured"})
		return
	}

	var request models.ParseInvoiceRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	invoice, err := h.extractor.ExtractInvoice(c.Request.Context(), request.ImageURL)
	if err != nil {
		h.log.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg("invoice extraction failed")
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "invoice extraction failed"})
		return
	}

	c.JSON(http.StatusOK, invoice)
}
