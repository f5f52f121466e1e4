package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	config "nexus-ai-engine/configs"
	"nexus-ai-engine/pkg/models"
	"nexus-ai-engine/pkg/services"
)

const invoicePrompt = `Extract the following information from this invoice image:

1. Vendor name (company that issued the invoice)
2. Invoice date (format: YYYY-MM-DD)
3. Total amount
4. Line items (description, quantity, unit price, total for each item)

Return ONLY valid JSON matching this exact schema:
{
  "vendor_name": "string",
  "invoice_date": "YYYY-MM-DD",
  "total_amount": number,
  "line_items": [
    {
      "description": "string",
      "quantity": number,
      "unit_price": number,
      "total": number
    }
  ]
}

Important:
- Extract all line items you can see
- Use numbers without currency symbols
- Date must be YYYY-MM-DD format
- Return ONLY the JSON, no markdown or explanation
`

// WithPrompt replaces the built-in system prompt.
func (c *OpenAIClient) WithPrompt(prompt *config.AssistantPrompt) *OpenAIClient {
	if prompt != nil {
		c.prompt = prompt
	}
	return c
}

// Respond implements services.ConversationalResponder.
// 定型コマンドに一致するメッセージはモデルを呼ばずに応答する。
func (c *OpenAIClient) Respond(ctx context.Context, req models.ChatRequest) (string, error) {
	if ok, reply := c.prompt.CheckSpecialCommand(req.UserMessage); ok {
		return reply, nil
	}

	page := req.Context.CurrentPage
	if page == "" {
		page = "unknown"
	}

	messages := []ChatMessage{{Role: "system", Content: c.prompt.Build(page, req.TenantID)}}
	for _, m := range services.TrimHistory(req.Context.ConversationHistory) {
		messages = append(messages, ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: req.UserMessage})

	return c.ChatCompletion(ctx, c.chatDeploymentName, messages, 300, 0.7)
}

// ExtractInvoice implements services.InvoiceExtractor.
func (c *OpenAIClient) ExtractInvoice(ctx context.Context, imageURL string) (models.ParsedInvoice, error) {
	messages := []ChatMessage{{
		Role: "user",
		Content: []ContentPart{
			{Type: "text", Text: invoicePrompt},
			{Type: "image_url", ImageURL: &ImageURL{URL: imageURL}},
		},
	}}

	content, err := c.ChatCompletion(ctx, c.visionDeploymentName, messages, 1500, 0.1)
	if err != nil {
		return models.ParsedInvoice{}, err
	}
	return decodeInvoice(content)
}

// decodeInvoice はモデル出力からMarkdownのコードフェンスを除去してJSONを解析する
func decodeInvoice(content string) (models.ParsedInvoice, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.ReplaceAll(content, "```", "")
		content = strings.TrimSpace(content)
	}

	var invoice models.ParsedInvoice
	if err := json.Unmarshal([]byte(content), &invoice); err != nil {
		return models.ParsedInvoice{}, fmt.Errorf("failed to parse model response as JSON: %w", err)
	}
	if invoice.LineItems == nil {
		invoice.LineItems = []models.InvoiceLineItem{}
	}
	return invoice, nil
}

var (
	_ services.ConversationalResponder = (*OpenAIClient)(nil)
	_ services.InvoiceExtractor        = (*OpenAIClient)(nil)
)
