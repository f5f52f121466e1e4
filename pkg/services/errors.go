package services

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is checks. The concrete error types below carry details.
var (
	ErrInvalidSeries    = errors.New("invalid series")
	ErrInsufficientData = errors.New("insufficient data")
	ErrFitTimeout       = errors.New("fit timeout")
	ErrCacheCorruption  = errors.New("cache corruption")
)

// InvalidSeriesError は入力系列の不正（日付の逆順・重複、負値など）を表す。
// 呼び出し側の検証漏れなので再試行しない。
type InvalidSeriesError struct {
	Index  int
	Reason string
}

func (e *InvalidSeriesError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid series: %s", e.Reason)
	}
	return fmt.Sprintf("invalid series at point %d: %s", e.Index, e.Reason)
}

func (e *InvalidSeriesError) Is(target error) bool { return target == ErrInvalidSeries }

// InsufficientDataError は予測に必要な点数が不足していることを表す。
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have %d points, need at least %d", e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// FitTimeoutError はモデルのフィットが時間予算を超えたことを表す。
type FitTimeoutError struct {
	Key     CacheKey
	Timeout time.Duration
}

func (e *FitTimeoutError) Error() string {
	return fmt.Sprintf("model fit for %s exceeded %s", e.Key, e.Timeout)
}

func (e *FitTimeoutError) Is(target error) bool { return target == ErrFitTimeout }

// CacheCorruptionError は共有キャッシュの不変条件違反。致命的なので古い値は返さない。
type CacheCorruptionError struct {
	Key    CacheKey
	Reason string
}

func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("cache entry %s is corrupted: %s", e.Key, e.Reason)
}

func (e *CacheCorruptionError) Is(target error) bool { return target == ErrCacheCorruption }
