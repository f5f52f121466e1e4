package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"nexus-ai-engine/pkg/models"
)

// PopularityRanker supplies the fallback ranking used when a basket gives no signal.
type PopularityRanker interface {
	TopProducts(ctx context.Context, tenantID string, n int, exclude []string) ([]models.Recommendation, error)
}

// TableRegistry はテナントごとの併売テーブルと人気度を保持するインメモリのストア。
// CooccurrenceSource と PopularityRanker の両方を実装する。
type TableRegistry struct {
	mu         sync.RWMutex
	tables     map[string]models.CooccurrenceTable
	popularity map[string]map[string]int
}

// NewTableRegistry 空のレジストリを作成
func NewTableRegistry() *TableRegistry {
	return &TableRegistry{
		tables:     make(map[string]models.CooccurrenceTable),
		popularity: make(map[string]map[string]int),
	}
}

// Put replaces a tenant's table with a normalized copy.
func (r *TableRegistry) Put(tenantID string, table models.CooccurrenceTable) error {
	if tenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if err := table.Validate(); err != nil {
		return err
	}
	normalized := table.Normalize()

	r.mu.Lock()
	r.tables[tenantID] = normalized
	r.mu.Unlock()
	return nil
}

// PutPopularity replaces a tenant's per-product order counts.
func (r *TableRegistry) PutPopularity(tenantID string, counts map[string]int) {
	copied := make(map[string]int, len(counts))
	for id, n := range counts {
		if n > 0 {
			copied[id] = n
		}
	}

	r.mu.Lock()
	r.popularity[tenantID] = copied
	r.mu.Unlock()
}

// CooccurrenceTable returns the tenant's table. Unknown tenants get an empty table.
func (r *TableRegistry) CooccurrenceTable(_ context.Context, tenantID string) (models.CooccurrenceTable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tables[tenantID]; ok {
		return t, nil
	}
	return models.CooccurrenceTable{}, nil
}

// TopProducts ranks the tenant's products by order count, ties by id.
func (r *TableRegistry) TopProducts(_ context.Context, tenantID string, n int, exclude []string) ([]models.Recommendation, error) {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	r.mu.RLock()
	counts := r.popularity[tenantID]
	type ranked struct {
		id    string
		count int
	}
	list := make([]ranked, 0, len(counts))
	total := 0
	for id, c := range counts {
		total += c
		if !skip[id] {
			list = append(list, ranked{id: id, count: c})
		}
	}
	r.mu.RUnlock()

	if len(list) == 0 {
		return []models.Recommendation{}, nil
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].id < list[j].id
	})
	if n > 0 && len(list) > n {
		list = list[:n]
	}

	scale := float64(total) / float64(len(counts))
	out := make([]models.Recommendation, 0, len(list))
	for _, item := range list {
		out = append(out, models.Recommendation{
			ProductID:  item.id,
			Confidence: strengthConfidence(float64(item.count), scale),
			Reason:     models.ReasonTrendingProduct,
		})
	}
	return out, nil
}
