//go:build ignore

// seed_tenant は注文明細と販売実績のファイルを稼働中のエンジンに取り込む。
//
//	go run scripts/seed_tenant.go -tenant demo -orders orders.xlsx -sales sales.csv
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"nexus-ai-engine/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "engine base URL")
	tenant := flag.String("tenant", "", "tenant id")
	orders := flag.String("orders", "", "order lines file (xlsx/csv) for the co-occurrence table")
	sales := flag.String("sales", "", "sales history file (xlsx/csv) to forecast")
	reset := flag.Bool("reset", false, "drop the tenant's cached models first")
	flag.Parse()

	// .envファイルを読み込み
	_ = godotenv.Load()
	log := logger.New(logger.Config{Level: "info", Pretty: true})

	if *tenant == "" || (*orders == "" && *sales == "" && !*reset) {
		flag.Usage()
		os.Exit(2)
	}

	c := &client{base: *baseURL, apiKey: os.Getenv("API_KEY"), http: &http.Client{Timeout: 2 * time.Minute}}
	prefix := fmt.Sprintf("/api/v1/tenants/%s", *tenant)

	if *reset {
		body, err := c.do(http.MethodDelete, prefix+"/cache", nil, "")
		if err != nil {
			log.Fatal().Err(err).Msg("キャッシュの削除に失敗")
		}
		log.Info().RawJSON("response", body).Msg("🗑️ キャッシュを削除しました")
	}

	for _, upload := range []struct{ path, file string }{
		{prefix + "/cooccurrence/import", *orders},
		{prefix + "/sales/import", *sales},
	} {
		if upload.file == "" {
			continue
		}
		body, err := c.upload(upload.path, upload.file)
		if err != nil {
			log.Fatal().Err(err).Str("file", upload.file).Msg("取り込みに失敗")
		}
		log.Info().Str("file", upload.file).RawJSON("response", body).Msg("✅ 取り込み完了")
	}
}

type client struct {
	base   string
	apiKey string
	http   *http.Client
}

func (c *client) upload(path, file string) ([]byte, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(file))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return c.do(http.MethodPost, path, &buf, mw.FormDataContentType())
}

func (c *client) do(method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	return data, nil
}
