package processor

import (
	"context"
	"errors"
	"time"

	"foodmarket/pkg/logger"
	"foodmarket/pkg/metrics"
	"foodmarket/reviews-service/internal/app/reviews/service"

	"github.com/robfig/cron/v3"
)

// CronScheduler периодически сверяет агрегаты продавцов, помеченных на ремонт
type CronScheduler struct {
	cron     *cron.Cron
	repairer service.RatingRepairer
	batch    int
}

func NewCronScheduler(repairer service.RatingRepairer, batch int) *CronScheduler {
	cronLogger := logger.With().Str("component", "rating-repair").Logger()

	c := cron.New(
		cron.WithLogger(cron.PrintfLogger(&cronLogger)),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&cronLogger))),
	)

	if batch <= 0 {
		batch = 100
	}

	return &CronScheduler{
		cron:     c,
		repairer: repairer,
		batch:    batch,
	}
}

func (s *CronScheduler) Start(ctx context.Context, schedule string) error {
	logger.Info().Str("schedule", schedule).Msg("Starting seller rating repair scheduler")

	_, err := s.cron.AddFunc(schedule, func() {
		s.sweep(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()

	// помеченные до рестарта продавцы чинятся сразу
	s.sweep(ctx)

	return nil
}

func (s *CronScheduler) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	stats, err := s.RunOnce(ctx)
	metrics.SellerRatingRepairDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Error().Err(err).Msg("Seller rating repair sweep failed")
		return
	}
	if stats.total() > 0 {
		logger.Info().
			Int("repaired", stats.Repaired).
			Int("consistent", stats.Consistent).
			Int("requeued", stats.Requeued).
			Dur("duration", time.Since(start)).
			Msg("Seller rating repair sweep completed")
	}
}

// SweepStats - итоги одного прохода
type SweepStats struct {
	Repaired   int
	Consistent int
	Requeued   int
}

func (s SweepStats) total() int {
	return s.Repaired + s.Consistent + s.Requeued
}

// RunOnce забирает пачку помеченных продавцов и чинит каждого.
// Отложенные, конфликтные и упавшие ремонты возвращаются в очередь.
func (s *CronScheduler) RunOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	sellers, err := s.repairer.PendingRepairs(ctx, s.batch)
	if err != nil {
		return stats, err
	}

	for _, sellerID := range sellers {
		result, err := s.repairer.Repair(ctx, sellerID)
		metrics.SellerRatingRepairs.WithLabelValues(string(result)).Inc()

		switch result {
		case service.RepairApplied:
			stats.Repaired++
			continue
		case service.RepairConsistent:
			stats.Consistent++
			continue
		case service.RepairFailed:
			logger.Error().Err(err).Str("seller_id", sellerID).Msg("Seller rating repair failed")
		default:
			if !errors.Is(err, service.ErrRepairDeferred) {
				logger.Warn().Err(err).Str("seller_id", sellerID).Str("result", string(result)).Msg("Seller rating repair postponed")
			}
		}

		stats.Requeued++
		if flagErr := s.repairer.FlagForRepair(ctx, sellerID); flagErr != nil {
			logger.Error().Err(flagErr).Str("seller_id", sellerID).Msg("Failed to requeue seller rating repair")
		}
	}

	return stats, nil
}

func (s *CronScheduler) Stop() {
	logger.Info().Msg("Stopping seller rating repair scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info().Msg("Seller rating repair scheduler stopped")
}

func (s *CronScheduler) GetEntries() []cron.Entry {
	return s.cron.Entries()
}
