package services

import (
	"context"
	"fmt"
	"math"
	"sort"

	"nexus-ai-engine/pkg/models"

	"github.com/rs/zerolog"
)

// CooccurrenceSource supplies a tenant's co-occurrence table, already resolved.
// Implementations own storage; the engine only reads.
type CooccurrenceSource interface {
	CooccurrenceTable(ctx context.Context, tenantID string) (models.CooccurrenceTable, error)
}

// RecommendationSettings はレコメンドエンジンの調整パラメータ。
type RecommendationSettings struct {
	// TopN bounds the number of recommendations returned.
	TopN int
	// TransitiveWeight damps second-hop signal (basket → c → e). Zero disables it.
	TransitiveWeight float64
}

// DefaultRecommendationSettings returns the documented defaults.
func DefaultRecommendationSettings() RecommendationSettings {
	return RecommendationSettings{TopN: 5, TransitiveWeight: 0.25}
}

func (s RecommendationSettings) withDefaults() RecommendationSettings {
	if s.TopN < 1 {
		s.TopN = DefaultRecommendationSettings().TopN
	}
	if s.TransitiveWeight < 0 || math.IsNaN(s.TransitiveWeight) {
		s.TransitiveWeight = 0
	}
	return s
}

// indexedTable is a normalized table plus the scale used for confidence.
type indexedTable struct {
	rows  models.CooccurrenceTable
	scale float64 // mean pair strength
	pairs int
}

func newIndexedTable(table models.CooccurrenceTable) (*indexedTable, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	rows := table.Normalize()
	total, pairs := 0.0, 0
	for _, row := range rows {
		for _, p := range row {
			total += p.Strength
			pairs++
		}
	}
	scale := 1.0
	if pairs > 0 {
		scale = total / float64(pairs)
	}
	return &indexedTable{rows: rows, scale: scale, pairs: pairs}, nil
}

func validateIndexedTable(t *indexedTable) error {
	if t == nil || t.rows == nil {
		return fmt.Errorf("nil cooccurrence table")
	}
	if t.scale <= 0 || math.IsNaN(t.scale) || math.IsInf(t.scale, 0) {
		return fmt.Errorf("invalid strength scale %v", t.scale)
	}
	return nil
}

// candidate accumulates signal for one recommended product.
type candidate struct {
	id         string
	total      float64
	best       float64
	bestDirect bool
}

func (c *candidate) add(strength float64, direct bool) {
	c.total += strength
	// direct wins ties so a pair of equal strength is reported as bought together
	if strength > c.best || (strength == c.best && direct && !c.bestDirect) {
		c.best = strength
		c.bestDirect = direct
	}
}

func (c *candidate) reason() string {
	if c.bestDirect && 2*c.best >= c.total {
		return models.ReasonBoughtTogether
	}
	return models.ReasonSimilarCustomers
}

// RecommendationEngine 併売（co-occurrence）に基づくアップセル推薦エンジン
type RecommendationEngine struct {
	settings RecommendationSettings
	source   CooccurrenceSource
	cache    *ModelCache[*indexedTable]
	log      zerolog.Logger
}

// NewRecommendationEngine 新しいレコメンドエンジンを作成
func NewRecommendationEngine(settings RecommendationSettings, source CooccurrenceSource, cacheSettings CacheSettings, log zerolog.Logger) *RecommendationEngine {
	if cacheSettings.Name == "" {
		cacheSettings.Name = "cooccurrence"
	}
	return &RecommendationEngine{
		settings: settings.withDefaults(),
		source:   source,
		cache:    NewModelCache(cacheSettings, validateIndexedTable, log),
		log:      log.With().Str("component", "recommendation_engine").Logger(),
	}
}

// Cache exposes the engine's table cache for sweeping and metrics.
func (e *RecommendationEngine) Cache() ManagedCache {
	return e.cache
}

// InvalidateTenant drops the cached table of a tenant. The data owner calls
// this whenever the tenant's order history changes.
func (e *RecommendationEngine) InvalidateTenant(tenantID string) bool {
	return e.cache.Invalidate(CacheKey{TenantID: tenantID})
}

// Recommend バスケットの内容から併売候補をランキングして返す。
// 空のバスケットはエラーにせず、空の結果と FallbackSuggested を返す。
func (e *RecommendationEngine) Recommend(ctx context.Context, req models.RecommendationRequest) (models.RecommendationResult, error) {
	basket := uniqueSorted(req.BasketItems)
	if len(basket) == 0 {
		recommendationsTotal.WithLabelValues("empty_basket").Inc()
		return models.RecommendationResult{Items: []models.Recommendation{}, FallbackSuggested: true}, nil
	}

	table, err := e.table(ctx, req.TenantID)
	if err != nil {
		return models.RecommendationResult{}, err
	}

	items := e.rank(table, basket)
	if len(items) == 0 {
		recommendationsTotal.WithLabelValues("no_signal").Inc()
		return models.RecommendationResult{Items: items, FallbackSuggested: true}, nil
	}

	recommendationsTotal.WithLabelValues("ranked").Inc()
	e.log.Debug().
		Str("tenant_id", req.TenantID).
		Int("basket_size", len(basket)).
		Int("results", len(items)).
		Msg("Recommendations ranked")
	return models.RecommendationResult{Items: items}, nil
}

// table resolves the tenant's indexed table, building it at most once per TTL.
// Tables carry no fingerprint: they stay valid until TTL expiry or invalidation.
func (e *RecommendationEngine) table(ctx context.Context, tenantID string) (*indexedTable, error) {
	key := CacheKey{TenantID: tenantID}
	table, _, err := e.cache.GetOrFit(ctx, key, 0, func(ctx context.Context) (*indexedTable, error) {
		raw, err := e.source.CooccurrenceTable(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("cooccurrence table for tenant %s: %w", tenantID, err)
		}
		return newIndexedTable(raw)
	})
	return table, err
}

// rank scores candidates against a sorted, de-duplicated basket.
func (e *RecommendationEngine) rank(table *indexedTable, basket []string) []models.Recommendation {
	inBasket := make(map[string]bool, len(basket))
	for _, id := range basket {
		inBasket[id] = true
	}

	candidates := make(map[string]*candidate)
	get := func(id string) *candidate {
		c, ok := candidates[id]
		if !ok {
			c = &candidate{id: id}
			candidates[id] = c
		}
		return c
	}

	// direct pairs
	for _, anchor := range basket {
		for _, p := range table.rows[anchor] {
			if inBasket[p.RelatedID] {
				continue
			}
			get(p.RelatedID).add(p.Strength, true)
		}
	}

	// second hop through each direct candidate's own row
	if w := e.settings.TransitiveWeight; w > 0 {
		for _, anchor := range basket {
			for _, p := range table.rows[anchor] {
				if inBasket[p.RelatedID] {
					continue
				}
				for _, q := range table.rows[p.RelatedID] {
					if inBasket[q.RelatedID] || q.RelatedID == anchor {
						continue
					}
					get(q.RelatedID).add(w*math.Min(p.Strength, q.Strength), false)
				}
			}
		}
	}

	// 順位は累積強度で決める。confidence は飽和するので表示専用
	ranked := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].total != ranked[j].total {
			return ranked[i].total > ranked[j].total
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > e.settings.TopN {
		ranked = ranked[:e.settings.TopN]
	}

	items := make([]models.Recommendation, 0, len(ranked))
	for _, c := range ranked {
		items = append(items, models.Recommendation{
			ProductID:  c.id,
			Confidence: strengthConfidence(c.total, table.scale),
			Reason:     c.reason(),
		})
	}
	return items
}

// strengthConfidence squashes accumulated strength into [0,1), relative to
// the tenant's mean pair strength. It is monotone in total but saturates in
// float64, so it is never used for ordering.
func strengthConfidence(total, scale float64) float64 {
	if total <= 0 || scale <= 0 {
		return 0
	}
	return 1 - math.Exp(-total/scale)
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
