package handler

import (
	"net/http"
	"sync"

	config "nexus-ai-engine/configs"
	"nexus-ai-engine/pkg/handlers"
	"nexus-ai-engine/pkg/logger"
	"nexus-ai-engine/pkg/server"

	"github.com/gin-gonic/gin"
)

var (
	app  *gin.Engine
	once sync.Once
)

// setupApp はGinアプリケーションを初期化します。
// サーバーレス環境では、リクエストごとに初期化が走らないようsync.Onceで一度だけ実行します。
func setupApp() *gin.Engine {
	once.Do(func() {
		// .envファイルはVercelの環境変数設定から読み込まれるため、ここではgodotenvを呼び出しません。
		cfg := config.LoadConfig()
		log := logger.New(logger.Config{Level: cfg.LogLevel})
		gin.SetMode(gin.ReleaseMode)

		responder, extractor := server.Assistant(cfg, log)
		a := server.NewApp(cfg, log, responder, extractor)
		// 関数インスタンスはリクエスト間で凍結されるため定期スイープは行わず、
		// 期限切れエントリは参照時に再フィットされる
		app = server.NewRouter(cfg, a, log)

		log.Info().Str("environment", cfg.Environment).Msg("Serverless handler initialized")
	})
	return app
}

// Handler はVercelからのすべてのリクエストを処理するエントリーポイントです。
func Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Backend-Version", handlers.ServiceVersion)
	setupApp().ServeHTTP(w, r)
}
