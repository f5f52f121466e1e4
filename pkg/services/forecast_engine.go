package services

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"nexus-ai-engine/pkg/models"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// ForecastSettings は需要予測エンジンの調整パラメータ。ゼロ値の項目は既定値になる。
type ForecastSettings struct {
	// MinPoints is the shortest series that can be forecast at all.
	MinPoints int
	// SeasonalMinPoints is the shortest series for which seasonal candidates are
	// tried. Below it the fit is linear_fallback and confidence stays capped.
	SeasonalMinPoints int
	// SeasonalPeriods are the candidate cycle lengths in months. Every candidate
	// with two full cycles is fitted and the lowest residual variance wins.
	SeasonalPeriods []int
	// TrendThreshold is the relative distance from the historical mean beyond
	// which a forecast is labelled increasing or decreasing. Exactly at the
	// threshold the label is stable.
	TrendThreshold float64
	// FallbackConfidenceCap bounds confidence when the series is too short for
	// seasonal decomposition. It must stay below 0.5.
	FallbackConfidenceCap float64
	// Sensitivity scales how fast confidence decays with relative residual spread.
	Sensitivity float64
	// BackfitIterations alternates trend and seasonal estimation this many times.
	BackfitIterations int
}

// DefaultForecastSettings returns the documented defaults.
func DefaultForecastSettings() ForecastSettings {
	return ForecastSettings{
		MinPoints:             2,
		SeasonalMinPoints:     12,
		SeasonalPeriods:       []int{12, 6, 4, 3},
		TrendThreshold:        0.05,
		FallbackConfidenceCap: 0.45,
		Sensitivity:           4,
		BackfitIterations:     2,
	}
}

func (s ForecastSettings) withDefaults() ForecastSettings {
	d := DefaultForecastSettings()
	if s.MinPoints < 1 {
		s.MinPoints = d.MinPoints
	}
	if s.SeasonalMinPoints < 1 {
		s.SeasonalMinPoints = d.SeasonalMinPoints
	}
	if len(s.SeasonalPeriods) == 0 {
		s.SeasonalPeriods = d.SeasonalPeriods
	}
	if s.TrendThreshold < 0 {
		s.TrendThreshold = d.TrendThreshold
	}
	if s.FallbackConfidenceCap <= 0 || s.FallbackConfidenceCap >= 0.5 {
		s.FallbackConfidenceCap = d.FallbackConfidenceCap
	}
	if s.Sensitivity <= 0 {
		s.Sensitivity = d.Sensitivity
	}
	if s.BackfitIterations < 1 {
		s.BackfitIterations = d.BackfitIterations
	}
	return s
}

// fittedForecast is what the cache keeps per (tenant, product).
type fittedForecast struct {
	result    models.ForecastResult
	intercept float64
	slope     float64
	seasonal  []float64 // nil for linear fits
	residual  float64   // dof-adjusted residual standard deviation
}

func validateFittedForecast(f *fittedForecast) error {
	switch {
	case f == nil:
		return fmt.Errorf("nil forecast model")
	case math.IsNaN(f.result.Confidence) || f.result.Confidence < 0 || f.result.Confidence > 1:
		return fmt.Errorf("confidence %v outside [0,1]", f.result.Confidence)
	case math.IsNaN(f.result.Forecast) || math.IsInf(f.result.Forecast, 0) || f.result.Forecast < 0:
		return fmt.Errorf("forecast %v is not a non-negative number", f.result.Forecast)
	}
	switch f.result.Trend {
	case models.TrendIncreasing, models.TrendDecreasing, models.TrendStable:
		return nil
	}
	return fmt.Errorf("unknown trend %q", f.result.Trend)
}

// ForecastEngine 需要予測エンジン
type ForecastEngine struct {
	settings ForecastSettings
	cache    *ModelCache[*fittedForecast]
	log      zerolog.Logger
}

// NewForecastEngine 新しい需要予測エンジンを作成
func NewForecastEngine(settings ForecastSettings, cacheSettings CacheSettings, log zerolog.Logger) *ForecastEngine {
	if cacheSettings.Name == "" {
		cacheSettings.Name = "forecast"
	}
	return &ForecastEngine{
		settings: settings.withDefaults(),
		cache:    NewModelCache(cacheSettings, validateFittedForecast, log),
		log:      log.With().Str("component", "forecast_engine").Logger(),
	}
}

// Cache exposes the engine's model cache for sweeping and metrics.
func (e *ForecastEngine) Cache() ManagedCache {
	return e.cache
}

// Invalidate drops the cached fit of one product.
func (e *ForecastEngine) Invalidate(tenantID, productID string) bool {
	return e.cache.Invalidate(CacheKey{TenantID: tenantID, ProductID: productID})
}

// InvalidateTenant drops every cached fit of a tenant.
func (e *ForecastEngine) InvalidateTenant(tenantID string) int {
	return e.cache.InvalidateTenant(tenantID)
}

// Forecast 翌月の需要を予測する。
// 同じ系列での再呼び出しはTTL内であればキャッシュ済みのフィットを再利用する。
func (e *ForecastEngine) Forecast(ctx context.Context, req models.ForecastRequest) (models.ForecastResult, error) {
	if err := validateSeries(req.Series); err != nil {
		return models.ForecastResult{}, err
	}
	if len(req.Series) < e.settings.MinPoints {
		return models.ForecastResult{}, &InsufficientDataError{Have: len(req.Series), Need: e.settings.MinPoints}
	}

	series := append([]models.TimeSeriesPoint(nil), req.Series...)
	key := CacheKey{TenantID: req.TenantID, ProductID: req.ProductID}

	fitted, cached, err := e.cache.GetOrFit(ctx, key, seriesFingerprint(series), func(ctx context.Context) (*fittedForecast, error) {
		return e.fit(ctx, series)
	})
	if err != nil {
		return models.ForecastResult{}, err
	}

	forecastsTotal.WithLabelValues(string(fitted.result.Method)).Inc()
	e.log.Debug().
		Str("tenant_id", req.TenantID).
		Str("product_id", req.ProductID).
		Bool("cached", cached).
		Str("method", string(fitted.result.Method)).
		Float64("forecast", fitted.result.Forecast).
		Float64("confidence", fitted.result.Confidence).
		Msg("Forecast served")
	return fitted.result, nil
}

// validateSeries checks month ordering and value sanity. An empty series is
// left to the minimum-length check.
func validateSeries(series []models.TimeSeriesPoint) error {
	for i, p := range series {
		if p.Date.IsZero() {
			return &InvalidSeriesError{Index: i, Reason: "missing date"}
		}
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return &InvalidSeriesError{Index: i, Reason: "value is not a finite number"}
		}
		if p.Value < 0 {
			return &InvalidSeriesError{Index: i, Reason: fmt.Sprintf("negative value %v", p.Value)}
		}
		if i == 0 {
			continue
		}
		prev, cur := series[i-1].MonthIndex(), p.MonthIndex()
		if cur == prev {
			return &InvalidSeriesError{Index: i, Reason: fmt.Sprintf("duplicate month %s", p.Date.Format("2006-01"))}
		}
		if cur < prev {
			return &InvalidSeriesError{Index: i, Reason: "dates are not strictly increasing"}
		}
	}
	return nil
}

// seriesFingerprint hashes month positions and exact values.
func seriesFingerprint(series []models.TimeSeriesPoint) uint64 {
	d := xxhash.New()
	var buf [16]byte
	for _, p := range series {
		binary.LittleEndian.PutUint64(buf[:8], uint64(p.MonthIndex()))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(p.Value))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// fit chooses between seasonal decomposition and a linear trend and builds the result.
func (e *ForecastEngine) fit(ctx context.Context, series []models.TimeSeriesPoint) (*fittedForecast, error) {
	n := len(series)
	xs := make([]float64, n)
	ys := make([]float64, n)
	origin := series[0].MonthIndex()
	for i, p := range series {
		xs[i] = float64(p.MonthIndex() - origin)
		ys[i] = p.Value
	}
	mean := stat.Mean(ys, nil)
	next := xs[n-1] + 1

	intercept, slope := linearTrend(xs, ys)
	linRSS := 0.0
	for i := range xs {
		r := ys[i] - (intercept + slope*xs[i])
		linRSS += r * r
	}
	linVar := adjustedVariance(linRSS, n, 2)

	model := &fittedForecast{intercept: intercept, slope: slope}
	method := models.MethodLinearFallback
	ceiling := e.settings.FallbackConfidenceCap
	variance := linVar
	period := 0

	// 季節分解できる周期をすべて試し、残差分散が最小のモデルを採用する。
	// SeasonalMinPoints 未満の系列は周期が取れても季節性を判断せず、上限付きのまま
	var periods []int
	if n >= e.settings.SeasonalMinPoints {
		periods = e.eligiblePeriods(xs)
	}
	for _, p := range periods {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, b, seasonal, seasVar, err := e.decompose(ctx, xs, ys, p)
		if err != nil {
			return nil, err
		}
		if method == models.MethodLinearFallback {
			ceiling = 1
			method = models.MethodLinear
		}
		if seasVar < variance {
			method = models.MethodSeasonal
			model.intercept, model.slope, model.seasonal = a, b, seasonal
			variance = seasVar
			period = p
		}
	}

	forecast := model.intercept + model.slope*next
	if model.seasonal != nil {
		forecast += model.seasonal[int(next)%period]
	}
	forecast = math.Max(0, forecast)

	model.residual = math.Sqrt(variance)
	model.result = models.ForecastResult{
		Forecast:   forecast,
		Confidence: confidenceFromResidual(model.residual, mean, ceiling, e.settings.Sensitivity),
		Trend:      classifyTrend(forecast, mean, e.settings.TrendThreshold),
		Method:     method,
		Period:     period,
		MeanValue:  mean,
	}
	return model, nil
}

// eligiblePeriods returns the candidate periods, in configured order, where
// every phase has at least two observations and the fit keeps two residual
// degrees of freedom.
func (e *ForecastEngine) eligiblePeriods(xs []float64) []int {
	n := len(xs)
	var out []int
	for _, p := range e.settings.SeasonalPeriods {
		if p < 2 || n < 2*p || n-(p+1) < 2 {
			continue
		}
		counts := make([]int, p)
		for _, x := range xs {
			counts[int(x)%p]++
		}
		full := true
		for _, c := range counts {
			if c < 2 {
				full = false
				break
			}
		}
		if full {
			out = append(out, p)
		}
	}
	return out
}

// decompose fits y = a + b*x + s[x mod p] by backfitting. The seasonal
// component is centred so it sums to zero across phases.
func (e *ForecastEngine) decompose(ctx context.Context, xs, ys []float64, p int) (float64, float64, []float64, float64, error) {
	n := len(xs)
	a, b := linearTrend(xs, ys)
	seasonal := make([]float64, p)
	adjusted := make([]float64, n)

	for iter := 0; iter < e.settings.BackfitIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return 0, 0, nil, 0, err
		}

		sums := make([]float64, p)
		counts := make([]float64, p)
		for i, x := range xs {
			phase := int(x) % p
			sums[phase] += ys[i] - (a + b*x)
			counts[phase]++
		}
		for ph := range seasonal {
			seasonal[ph] = sums[ph] / counts[ph]
		}
		centre := stat.Mean(seasonal, nil)
		for ph := range seasonal {
			seasonal[ph] -= centre
		}

		for i, x := range xs {
			adjusted[i] = ys[i] - seasonal[int(x)%p]
		}
		a, b = linearTrend(xs, adjusted)
	}

	rss := 0.0
	for i, x := range xs {
		r := ys[i] - (a + b*x + seasonal[int(x)%p])
		rss += r * r
	}
	return a, b, seasonal, adjustedVariance(rss, n, p+1), nil
}

// linearTrend is an OLS line through (xs, ys); a single point gives a flat line.
func linearTrend(xs, ys []float64) (intercept, slope float64) {
	if len(xs) < 2 {
		return ys[0], 0
	}
	return stat.LinearRegression(xs, ys, nil, false)
}

// adjustedVariance divides by residual degrees of freedom when there are any.
func adjustedVariance(rss float64, n, params int) float64 {
	dof := n - params
	if dof < 1 {
		dof = n
	}
	return rss / float64(dof)
}

// confidenceFromResidual decays with the residual spread relative to the
// historical mean and is clamped to [0, ceiling].
func confidenceFromResidual(residualStdDev, mean, ceiling, sensitivity float64) float64 {
	relative := 0.0
	if mean > 0 {
		relative = residualStdDev / mean
	}
	c := ceiling * math.Exp(-sensitivity*relative)
	return math.Min(1, math.Max(0, c))
}

// classifyTrend compares the forecast with the historical mean.
func classifyTrend(forecast, mean, threshold float64) models.Trend {
	if mean == 0 {
		if forecast > 0 {
			return models.TrendIncreasing
		}
		return models.TrendStable
	}
	rel := (forecast - mean) / mean
	switch {
	case rel > threshold:
		return models.TrendIncreasing
	case rel < -threshold:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}
