package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	config "nexus-ai-engine/configs"
	"nexus-ai-engine/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordedRequest is the decoded body of a chat completion call.
type recordedRequest struct {
	Path        string
	APIKey      string
	APIVersion  string
	Messages    []map[string]interface{} `json:"messages"`
	MaxTokens   int                      `json:"max_tokens"`
	Temperature float32                  `json:"temperature"`
}

func newTestServer(t *testing.T, status int, reply string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	got := &recordedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Path = r.URL.Path
		got.APIKey = r.Header.Get("api-key")
		got.APIVersion = r.URL.Query().Get("api-version")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			fmt.Fprintf(w, `{"error":{"code":"429","message":%q}}`, reply)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": reply}},
			},
		})
	}))
	t.Cleanup(server.Close)
	return server, got
}

func newTestClient(t *testing.T, endpoint, apiKey, vision string) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClient(endpoint, apiKey, "2024-06-01", "gpt-4o-mini", vision, "")
	require.NoError(t, err)
	return client
}

func TestRespond(t *testing.T) {
	server, got := newTestServer(t, http.StatusOK, "Open the Low Stock Alerts page.")
	client := newTestClient(t, server.URL+"/", "secret", "")

	history := make([]models.ChatMessage, 7)
	for i := range history {
		history[i] = models.ChatMessage{Role: "user", Content: fmt.Sprintf("m%d", i)}
	}
	reply, err := client.Respond(context.Background(), models.ChatRequest{
		TenantID:    "tenant-1",
		UserMessage: "Which items are low?",
		Context:     models.ChatContext{CurrentPage: "/inventory", ConversationHistory: history},
	})
	require.NoError(t, err)
	assert.Equal(t, "Open the Low Stock Alerts page.", reply)

	assert.Equal(t, "/openai/deployments/gpt-4o-mini/chat/completions", got.Path)
	assert.Equal(t, "secret", got.APIKey)
	assert.Equal(t, "2024-06-01", got.APIVersion)
	assert.Equal(t, 300, got.MaxTokens)

	// system prompt + last five history turns + the question
	require.Len(t, got.Messages, 7)
	assert.Equal(t, "system", got.Messages[0]["role"])
	assert.Contains(t, got.Messages[0]["content"], "User is viewing: /inventory")
	assert.Contains(t, got.Messages[0]["content"], "Tenant: tenant-1")
	assert.Equal(t, "m2", got.Messages[1]["content"])
	assert.Equal(t, "Which items are low?", got.Messages[6]["content"])
}

func TestExtractInvoice(t *testing.T) {
	reply := "```json\n" + `{"vendor_name":"Acme Supplies Inc.","invoice_date":"2026-01-15","total_amount":1250,` +
		`"line_items":[{"description":"Widget A","quantity":10,"unit_price":50,"total":500}]}` + "\n```"
	server, got := newTestServer(t, http.StatusOK, reply)
	client := newTestClient(t, server.URL, "secret", "gpt-4o")

	invoice, err := client.ExtractInvoice(context.Background(), "https://example.com/invoice.jpg")
	require.NoError(t, err)

	assert.Equal(t, "/openai/deployments/gpt-4o/chat/completions", got.Path)
	assert.Equal(t, 1500, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	parts, ok := got.Messages[0]["content"].([]interface{})
	require.True(t, ok)
	require.Len(t, parts, 2)
	image := parts[1].(map[string]interface{})
	assert.Equal(t, "image_url", image["type"])
	assert.Equal(t, map[string]interface{}{"url": "https://example.com/invoice.jpg"}, image["image_url"])

	assert.Equal(t, models.ParsedInvoice{
		VendorName:  "Acme Supplies Inc.",
		InvoiceDate: "2026-01-15",
		TotalAmount: 1250,
		LineItems:   []models.InvoiceLineItem{{Description: "Widget A", Quantity: 10, UnitPrice: 50, Total: 500}},
	}, invoice)
}

func TestChatCompletionSurfacesAPIErrors(t *testing.T) {
	server, _ := newTestServer(t, http.StatusTooManyRequests, "rate limit exceeded")
	client := newTestClient(t, server.URL, "secret", "")

	_, err := client.Respond(context.Background(), models.ChatRequest{TenantID: "t", UserMessage: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
	assert.Contains(t, err.Error(), "429")

	_, err = newTestClient(t, server.URL, "", "").
		Respond(context.Background(), models.ChatRequest{TenantID: "t", UserMessage: "hi"})
	assert.Error(t, err)
}

func TestDecodeInvoice(t *testing.T) {
	invoice, err := decodeInvoice(`{"vendor_name":"Acme","invoice_date":"2026-02-01","total_amount":10}`)
	require.NoError(t, err)
	assert.Equal(t, "Acme", invoice.VendorName)
	assert.NotNil(t, invoice.LineItems)
	assert.Empty(t, invoice.LineItems)

	_, err = decodeInvoice("I could not read this invoice.")
	assert.Error(t, err)
}

func TestConfigured(t *testing.T) {
	assert.True(t, newTestClient(t, "https://example.openai.azure.com", "k", "").Configured())
	assert.False(t, newTestClient(t, "", "k", "").Configured())

	var nilClient *OpenAIClient
	assert.False(t, nilClient.Configured())
}

func TestNewOpenAIClientProxy(t *testing.T) {
	client, err := NewOpenAIClient("https://example.openai.azure.com", "k", "v", "d", "", "http://proxy.internal:3128")
	require.NoError(t, err)
	transport, ok := client.httpClient.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, transport.Proxy)

	req := httptest.NewRequest(http.MethodPost, "https://example.openai.azure.com/openai", nil)
	proxy, err := transport.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.internal:3128", proxy.String())

	// the process-wide transport is left alone
	assert.NotSame(t, http.DefaultTransport, client.httpClient.Transport)

	for _, bad := range []string{"://missing-scheme", "proxy-without-scheme"} {
		_, err := NewOpenAIClient("https://example.openai.azure.com", "k", "v", "d", "", bad)
		assert.Error(t, err, bad)
	}
}

func TestRespondAnswersSpecialCommandsLocally(t *testing.T) {
	server, got := newTestServer(t, http.StatusOK, "from the model")
	prompt := config.DefaultAssistantPrompt()
	prompt.SpecialCommands = []config.SpecialCommand{{Trigger: []string{"help"}, Response: "Ask me about any NEXUS module."}}

	client := newTestClient(t, server.URL, "secret", "").WithPrompt(prompt)

	reply, err := client.Respond(context.Background(), models.ChatRequest{TenantID: "t", UserMessage: "Help!"})
	require.NoError(t, err)
	assert.Equal(t, "Ask me about any NEXUS module.", reply)
	assert.Empty(t, got.Path, "the model was not called")

	reply, err = client.Respond(context.Background(), models.ChatRequest{TenantID: "t", UserMessage: "What is a lead?"})
	require.NoError(t, err)
	assert.Equal(t, "from the model", reply)
}
