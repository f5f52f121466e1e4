package services

import (
	"context"
	"strings"

	"nexus-ai-engine/pkg/models"
)

// InvoiceExtractor turns an invoice image into structured data.
// The analytics engines never depend on it.
type InvoiceExtractor interface {
	ExtractInvoice(ctx context.Context, imageURL string) (models.ParsedInvoice, error)
}

// ConversationalResponder answers a user message in the context of a tenant.
type ConversationalResponder interface {
	Respond(ctx context.Context, req models.ChatRequest) (string, error)
}

// ChatHistoryLimit is how many past messages are forwarded to the responder.
const ChatHistoryLimit = 5

var pageSuggestions = []struct {
	prefix  string
	actions []string
}{
	{"/inventory", []string{"View low stock alerts", "Check product details", "Create purchase order"}},
	{"/crm/leads", []string{"Create new lead", "View pipeline", "Export leads to CSV"}},
	{"/crm/deals", []string{"View deal pipeline", "Move deal to next stage", "Generate sales report"}},
	{"/sales", []string{"Create new order", "View recent orders", "Generate invoice"}},
	{"/purchasing", []string{"Create purchase order", "Receive goods", "View vendor list"}},
}

var defaultSuggestions = []string{"View dashboard", "Check notifications", "Browse help docs"}

// SuggestActions 現在のページから次のアクション候補を返す（決定的）。
func SuggestActions(currentPage string) []string {
	for _, s := range pageSuggestions {
		if strings.Contains(currentPage, s.prefix) {
			return append([]string(nil), s.actions...)
		}
	}
	return append([]string(nil), defaultSuggestions...)
}

// TrimHistory keeps the most recent ChatHistoryLimit messages.
func TrimHistory(history []models.ChatMessage) []models.ChatMessage {
	if len(history) <= ChatHistoryLimit {
		return history
	}
	return history[len(history)-ChatHistoryLimit:]
}
