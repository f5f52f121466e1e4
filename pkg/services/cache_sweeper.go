package services

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// CacheSweeper periodically evicts expired model cache entries.
type CacheSweeper struct {
	cron   *cron.Cron
	caches []ManagedCache
	log    zerolog.Logger
}

// NewCacheSweeper creates a sweeper for the given caches.
func NewCacheSweeper(log zerolog.Logger, caches ...ManagedCache) *CacheSweeper {
	return &CacheSweeper{
		cron:   cron.New(),
		caches: caches,
		log:    log.With().Str("component", "cache_sweeper").Logger(),
	}
}

// Start registers the sweep on schedule and starts the scheduler.
// Schedule examples:
//   - "@every 1m"    - Every minute
//   - "*/5 * * * *"  - Every 5 minutes
func (s *CacheSweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() { s.SweepNow() }); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Str("schedule", schedule).Int("caches", len(s.caches)).Msg("Cache sweeper started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *CacheSweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Cache sweeper stopped")
}

// SweepNow sweeps every cache immediately and returns the total evicted.
func (s *CacheSweeper) SweepNow() int {
	total := 0
	for _, c := range s.caches {
		removed := c.Sweep()
		total += removed
		if removed > 0 {
			s.log.Debug().Str("cache", c.Name()).Int("evicted", removed).Int("remaining", c.Len()).Msg("Swept expired entries")
		}
	}
	return total
}
