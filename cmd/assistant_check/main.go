// assistant_check は設定済みのAzure OpenAIデプロイに疎通確認のメッセージを送る。
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	config "nexus-ai-engine/configs"
	"nexus-ai-engine/pkg/azure"
	"nexus-ai-engine/pkg/logger"
	"nexus-ai-engine/pkg/models"

	"github.com/joho/godotenv"
)

func main() {
	message := flag.String("message", "Hello!", "message sent to the assistant")
	page := flag.String("page", "/inventory", "current_page sent as context")
	flag.Parse()

	// .envファイルを読み込み
	envErr := godotenv.Load()
	cfg := config.LoadConfig()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	if envErr != nil {
		log.Warn().Err(envErr).Msg(".env file not loaded")
	}

	if !cfg.OpenAIConfigured() {
		log.Fatal().Msg("必要な環境変数 (AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_KEY) が設定されていません")
	}

	prompt, err := config.LoadAssistantPrompt(cfg.AssistantPromptFile)
	if err != nil {
		log.Fatal().Err(err).Msg("プロンプト設定の読み込みに失敗")
	}

	// プロキシ経由の環境では AZURE_OPENAI_PROXY_URL を指定する
	client, err := azure.NewOpenAIClient(
		cfg.AzureOpenAIEndpoint,
		cfg.AzureOpenAIAPIKey,
		cfg.AzureOpenAIAPIVersion,
		cfg.AzureOpenAIDeploymentName,
		cfg.AzureOpenAIVisionDeployment,
		cfg.AzureOpenAIProxyURL,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("クライアントの作成に失敗")
	}
	if cfg.AzureOpenAIProxyURL != "" {
		log.Info().Str("proxy", cfg.AzureOpenAIProxyURL).Msg("プロキシを設定しました")
	}
	client = client.WithPrompt(prompt)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	log.Info().Str("deployment", cfg.AzureOpenAIDeploymentName).Str("message", *message).Msg("リクエストを送信します")
	start := time.Now()
	reply, err := client.Respond(ctx, models.ChatRequest{
		TenantID:    "assistant-check",
		UserMessage: *message,
		Context:     models.ChatContext{CurrentPage: *page},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("サーバーからエラーが返されました")
	}

	log.Info().Dur("elapsed", time.Since(start)).Msg("正常に応答が返ってきました")
	fmt.Println(reply)
}
