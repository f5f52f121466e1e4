package services

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// defaultLogRetention bounds how many request logs are kept in memory.
const defaultLogRetention = 10000

// LogEntry は単一のリクエストログを表します。
type LogEntry struct {
	RequestID    string        `json:"requestId"`
	Timestamp    time.Time     `json:"timestamp"`
	Path         string        `json:"path"`
	Method       string        `json:"method"`
	TenantID     string        `json:"tenantId,omitempty"`
	StatusCode   int           `json:"statusCode"`
	ResponseTime time.Duration `json:"responseTime"`
}

// MonitoringService はAPIのモニタリング機能を提供します。
type MonitoringService struct {
	logs      []LogEntry
	retention int
	caches    []ManagedCache
	log       zerolog.Logger
	now       func() time.Time
	mu        sync.RWMutex
}

// NewMonitoringService は新しいMonitoringServiceを生成します。
// caches are reported in the dashboard's model section.
func NewMonitoringService(log zerolog.Logger, caches ...ManagedCache) *MonitoringService {
	return &MonitoringService{
		logs:      make([]LogEntry, 0),
		retention: defaultLogRetention,
		caches:    caches,
		log:       log.With().Str("component", "http").Logger(),
		now:       time.Now,
	}
}

// LogRequest はリクエストを記録します。古いログは retention を超えると破棄。
func (s *MonitoringService) LogRequest(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	if over := len(s.logs) - s.retention; over > 0 {
		s.logs = append(s.logs[:0:0], s.logs[over:]...)
	}
}

// LoggingMiddleware はリクエストIDを付与し、アクセスログを記録するGinミドルウェアです。
func (s *MonitoringService) LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		path := c.Request.URL.Path
		entry := LogEntry{
			RequestID:    requestID,
			Timestamp:    start,
			Path:         path,
			Method:       c.Request.Method,
			TenantID:     c.Param("tenant_id"),
			StatusCode:   c.Writer.Status(),
			ResponseTime: s.now().Sub(start),
		}

		event := s.log.Info()
		if entry.StatusCode >= 500 {
			event = s.log.Error()
		} else if entry.StatusCode >= 400 {
			event = s.log.Warn()
		}
		event.Str("request_id", requestID).
			Str("method", entry.Method).
			Str("path", path).
			Int("status", entry.StatusCode).
			Dur("latency", entry.ResponseTime).
			Msg("request")

		// 管理系・監視系のパスは集計対象外
		if strings.HasPrefix(path, "/api/v1/admin") || strings.HasPrefix(path, "/api/v1/monitoring") || path == "/metrics" {
			return
		}
		s.LogRequest(entry)
	}
}

// ModelCacheSummary is one cache's counters as shown on the dashboard.
type ModelCacheSummary struct {
	Name  string     `json:"name"`
	Stats CacheStats `json:"stats"`
}

// DashboardData はダッシュボードに表示するための集計済みデータです。
type DashboardData struct {
	Window           LogWindow                `json:"window"`
	RequestsOverTime []map[string]interface{} `json:"requestsOverTime"`
	Endpoints        map[string]int           `json:"endpoints"`
	StatusCodes      []map[string]interface{} `json:"statusCodes"`
	AvgResponseTimes []map[string]interface{} `json:"avgResponseTimes"`
	RecentErrors     []LogEntry               `json:"recentErrors"`
	ModelCaches      []ModelCacheSummary      `json:"modelCaches"`
}

// LogWindow はダッシュボードが集計した範囲。ログはメモリ上に retention 件までしか
// 残らないため、Truncated が true なら期間の前半は既に破棄されている。
type LogWindow struct {
	PeriodHours    int        `json:"periodHours"`
	Since          time.Time  `json:"since"`
	Retention      int        `json:"retention"`
	Retained       int        `json:"retained"`
	OldestRetained *time.Time `json:"oldestRetained,omitempty"`
	Truncated      bool       `json:"truncated"`
}

// ModelCacheSummaries returns the counters of every registered cache.
func (s *MonitoringService) ModelCacheSummaries() []ModelCacheSummary {
	out := make([]ModelCacheSummary, 0, len(s.caches))
	for _, c := range s.caches {
		out = append(out, ModelCacheSummary{Name: c.Name(), Stats: c.Stats()})
	}
	return out
}

// GetDashboardData は指定された期間のログを集計してダッシュボード用データを返します。
func (s *MonitoringService) GetDashboardData(periodHours int) DashboardData {
	if periodHours < 1 {
		periodHours = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// JSTが取得できない場合はUTC
	jst, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		jst = time.UTC
	}

	now := s.now().In(jst)
	since := now.Add(-time.Duration(periodHours) * time.Hour)

	filteredLogs := make([]LogEntry, 0)
	for _, entry := range s.logs {
		if entry.Timestamp.After(since) {
			filteredLogs = append(filteredLogs, entry)
		}
	}

	// 時間バケット（過去 → 現在）
	requestsOverTime := make([]map[string]interface{}, periodHours)
	bucketIndex := make(map[int64]int, periodHours)
	for i := 0; i < periodHours; i++ {
		target := now.Add(-time.Duration(periodHours-1-i) * time.Hour)
		bucketIndex[target.Truncate(time.Hour).Unix()] = i
		requestsOverTime[i] = map[string]interface{}{"time": target.Format("15:00"), "requests": 0}
	}

	endpoints := make(map[string]int)
	statusCodes := map[string]int{"2xx Success": 0, "4xx Client Error": 0, "5xx Server Error": 0}
	responseTimeSum := make(map[string]time.Duration)

	for _, entry := range filteredLogs {
		if i, ok := bucketIndex[entry.Timestamp.In(jst).Truncate(time.Hour).Unix()]; ok {
			requestsOverTime[i]["requests"] = requestsOverTime[i]["requests"].(int) + 1
		}
		endpoints[entry.Path]++
		responseTimeSum[entry.Path] += entry.ResponseTime

		switch {
		case entry.StatusCode >= 500:
			statusCodes["5xx Server Error"]++
		case entry.StatusCode >= 400:
			statusCodes["4xx Client Error"]++
		case entry.StatusCode >= 200 && entry.StatusCode < 300:
			statusCodes["2xx Success"]++
		}
	}

	statusCodesSlice := make([]map[string]interface{}, 0, len(statusCodes))
	for _, name := range []string{"2xx Success", "4xx Client Error", "5xx Server Error"} {
		statusCodesSlice = append(statusCodesSlice, map[string]interface{}{"name": name, "value": statusCodes[name]})
	}

	paths := make([]string, 0, len(responseTimeSum))
	for path := range responseTimeSum {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	avgResponseTimes := make([]map[string]interface{}, 0, len(paths))
	for _, path := range paths {
		avg := responseTimeSum[path].Milliseconds() / int64(endpoints[path])
		avgResponseTimes = append(avgResponseTimes, map[string]interface{}{"endpoint": path, "responseTime": avg})
	}

	recentErrors := make([]LogEntry, 0)
	for i := len(filteredLogs) - 1; i >= 0 && len(recentErrors) < 10; i-- {
		if filteredLogs[i].StatusCode >= 500 {
			recentErrors = append(recentErrors, filteredLogs[i])
		}
	}

	window := LogWindow{
		PeriodHours: periodHours,
		Since:       since,
		Retention:   s.retention,
		Retained:    len(s.logs),
	}
	if len(s.logs) > 0 {
		oldest := s.logs[0].Timestamp
		for _, entry := range s.logs[1:] {
			if entry.Timestamp.Before(oldest) {
				oldest = entry.Timestamp
			}
		}
		window.OldestRetained = &oldest
		// 上限まで溜まっていて最古のログが期間内なら、それより前は破棄済み
		window.Truncated = len(s.logs) >= s.retention && oldest.After(since)
	}

	return DashboardData{
		Window:           window,
		RequestsOverTime: requestsOverTime,
		Endpoints:        endpoints,
		StatusCodes:      statusCodesSlice,
		AvgResponseTimes: avgResponseTimes,
		RecentErrors:     recentErrors,
		ModelCaches:      s.ModelCacheSummaries(),
	}
}
