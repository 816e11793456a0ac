package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/taxroll/lead-reconciler/internal/adapter"
	"github.com/taxroll/lead-reconciler/internal/geocode"
	"github.com/taxroll/lead-reconciler/internal/logger"
	"github.com/taxroll/lead-reconciler/internal/score"
	"github.com/taxroll/lead-reconciler/internal/store"
)

// lastRunKey records the last completed sweep in the key-value store
const lastRunKey = "sweeper:last_run"

// scorePageSize bounds how many properties one rescore pass loads at a time
const scorePageSize = 500

// Config holds the sweeper's schedule and thresholds
type Config struct {
	// Schedule is a cron expression
	Schedule string
	// StaleAfter retires active leads unseen in any upload for this long;
	// zero disables the stale pass
	StaleAfter time.Duration
	// GeocodeBatchSize bounds each geocoding backfill pass
	GeocodeBatchSize int
}

// Sweeper runs periodic maintenance: re-deriving day counts into fresh
// motivation scores, retiring stale leads, and backfilling coordinates.
// Uploads stay correct without it; the sweeper only keeps read-side data
// from drifting between uploads.
type Sweeper struct {
	config   Config
	store    store.Store
	geocoder *geocode.Geocoder
	scorer   *score.Scorer
	clock    adapter.Clock
	cron     *cron.Cron
}

// New creates a sweeper. geocoder may be nil when no endpoint is configured.
func New(cfg Config, s store.Store, geocoder *geocode.Geocoder, scorer *score.Scorer, clock adapter.Clock) *Sweeper {
	if cfg.GeocodeBatchSize <= 0 {
		cfg.GeocodeBatchSize = 100
	}
	return &Sweeper{
		config:   cfg,
		store:    s,
		geocoder: geocoder,
		scorer:   scorer,
		clock:    clock,
		cron:     cron.New(),
	}
}

// Start schedules the sweep and begins the cron loop
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		if err := s.Sweep(ctx); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("sweep failed: %w", err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweeper schedule %q: %w", s.config.Schedule, err)
	}

	s.cron.Start()
	logger.Info("Sweeper started", zap.String("schedule", s.config.Schedule))
	return nil
}

// Stop stops the cron loop and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	logger.Info("Sweeper stopped")
}

// Sweep runs one full maintenance pass
func (s *Sweeper) Sweep(ctx context.Context) error {
	started := s.clock.Now()
	logger.InfoCtx(ctx, "Sweep starting")

	if s.config.StaleAfter > 0 {
		cutoff := started.Add(-s.config.StaleAfter)
		retired, err := s.store.DeactivateNotSeenSince(ctx, cutoff)
		if err != nil {
			return err
		}
		if retired > 0 {
			logger.InfoCtx(ctx, "Retired stale leads",
				zap.Int64("count", retired),
				zap.Time("cutoff", cutoff))
		}
	}

	rescored, err := s.rescore(ctx, started)
	if err != nil {
		return err
	}

	geocoded := 0
	if s.geocoder != nil {
		geocoded, err = s.geocoder.Backfill(ctx, s.store, s.config.GeocodeBatchSize)
		if err != nil {
			return err
		}
	}

	if err := s.store.SetValue(ctx, lastRunKey, started.UTC().Format(time.RFC3339)); err != nil {
		logger.WarnCtx(ctx, "failed to record sweep time", zap.Error(err))
	}

	logger.InfoCtx(ctx, "Sweep finished",
		zap.Int("rescored", rescored),
		zap.Int("geocoded", geocoded),
		zap.Duration("took", s.clock.Since(started)))

	return nil
}

// rescore recomputes motivation scores for the active set. Scores depend on
// days-since-change, so they drift daily even without uploads.
func (s *Sweeper) rescore(ctx context.Context, now time.Time) (int, error) {
	active := true
	updated := 0

	for offset := 0; ; offset += scorePageSize {
		properties, _, err := s.store.ListProperties(ctx, store.PropertyFilter{
			Active: &active,
			Offset: offset,
			Limit:  scorePageSize,
		})
		if err != nil {
			return updated, fmt.Errorf("failed to list active properties: %w", err)
		}
		if len(properties) == 0 {
			return updated, nil
		}

		for i := range properties {
			fresh := s.scorer.Compute(&properties[i], now)
			if properties[i].MotivationScore != nil && *properties[i].MotivationScore == fresh {
				continue
			}
			if err := s.store.SetMotivationScore(ctx, properties[i].ID, fresh); err != nil {
				logger.WarnCtx(ctx, "failed to update motivation score",
					zap.String("property_id", properties[i].ID),
					zap.Error(err))
				continue
			}
			updated++
		}

		if len(properties) < scorePageSize {
			return updated, nil
		}
	}
}
