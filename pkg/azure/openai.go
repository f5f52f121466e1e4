package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "nexus-ai-engine/configs"
)

// OpenAIClient はAzure OpenAI REST APIへのリクエストを管理します。
// endpoint にはAzureのエンドポイント、または転送用プロキシのURLを設定します。
type OpenAIClient struct {
	endpoint             string
	apiKey               string
	apiVersion           string
	chatDeploymentName   string
	visionDeploymentName string
	prompt               *config.AssistantPrompt
	httpClient           *http.Client
}

// NewOpenAIClient は新しいAzure OpenAIクライアントを作成します。
// visionDeploymentName が空の場合はチャット用デプロイを画像解析にも使います。
// proxyURL を指定するとこのクライアントのTransportだけがプロキシを経由します。
func NewOpenAIClient(endpoint, apiKey, apiVersion, chatDeploymentName, visionDeploymentName, proxyURL string) (*OpenAIClient, error) {
	if visionDeploymentName == "" {
		visionDeploymentName = chatDeploymentName
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("無効なプロキシURLです: %w", err)
		}
		if proxy.Scheme == "" || proxy.Host == "" {
			return nil, fmt.Errorf("無効なプロキシURLです: %q", proxyURL)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &OpenAIClient{
		endpoint:             endpoint,
		apiKey:               apiKey,
		apiVersion:           apiVersion,
		chatDeploymentName:   chatDeploymentName,
		visionDeploymentName: visionDeploymentName,
		prompt:               config.DefaultAssistantPrompt(),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   60 * time.Second,
		},
	}, nil
}

// Configured reports whether requests can be sent at all.
func (c *OpenAIClient) Configured() bool {
	return c != nil && c.endpoint != "" && c.apiKey != ""
}

// --- データ構造定義 ---

// ChatMessage チャットメッセージ。Content は文字列か []ContentPart。
type ChatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL points the vision model at an image.
type ImageURL struct {
	URL string `json:"url"`
}

// ChatCompletionRequest チャット補完リクエスト
type ChatCompletionRequest struct {
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

// ChatCompletionResponse チャット補完レスポンス
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ErrorResponse エラーレスポンス
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// --- メソッド定義 ---

// ChatCompletion チャット補完を実行し、最初の選択肢の本文を返す
func (c *OpenAIClient) ChatCompletion(ctx context.Context, deployment string, messages []ChatMessage, maxTokens int, temperature float32) (string, error) {
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimSuffix(c.endpoint, "/"), deployment, c.apiVersion)

	request := ChatCompletionRequest{
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	var response ChatCompletionResponse
	if err := c.doRequest(ctx, url, request, &response); err != nil {
		return "", fmt.Errorf("Azure OpenAI API 呼び出しに失敗: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("Azure OpenAI からの応答が空です")
	}
	return response.Choices[0].Message.Content, nil
}

// doRequest はHTTPリクエストの実行と基本的なレスポンス処理を行う共通メソッドです。
func (c *OpenAIClient) doRequest(ctx context.Context, url string, requestData interface{}, responseData interface{}) error {
	if c.apiKey == "" {
		return fmt.Errorf("API key が設定されていません")
	}

	requestBody, err := json.Marshal(requestData)
	if err != nil {
		return fmt.Errorf("リクエストのJSON化に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの実行に失敗: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンスの読み取りに失敗: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp ErrorResponse
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
			return fmt.Errorf("Azure OpenAI API エラー (status: %d): %s", resp.StatusCode, errorResp.Error.Message)
		}
		return fmt.Errorf("Azure OpenAI API エラー (status: %d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, responseData); err != nil {
		return fmt.Errorf("レスポンスのJSON解析に失敗: %w", err)
	}
	return nil
}
