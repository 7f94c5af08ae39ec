package scheduler

import (
	"context"
	"time"

	"github.com/lamergameryt/entrypoint/internal/domain"
	"github.com/lamergameryt/entrypoint/internal/metrics"
	"github.com/sirupsen/logrus"
)

type expirer interface {
	ExpireDue(ctx context.Context, limit int) ([]domain.Hold, error)
	PurgeIdempotency(ctx context.Context) (int64, error)
}

// maxBatchesPerSweep bounds how long one sweep may keep draining a backlog.
const maxBatchesPerSweep = 10

// Sweeper periodically expires holds past their deadline and purges
// idempotency records past retention.
type Sweeper struct {
	target    expirer
	interval  time.Duration
	batchSize int
	log       logrus.FieldLogger
}

func New(target expirer, interval time.Duration, batchSize int, log logrus.FieldLogger) *Sweeper {
	return &Sweeper{
		target:    target,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
}

// Start blocks, sweeping every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval.String()).Info("sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one cycle and returns the number of holds expired.
func (s *Sweeper) Sweep(ctx context.Context) int {
	total := 0
	result := "ok"

	for i := 0; i < maxBatchesPerSweep; i++ {
		expired, err := s.target.ExpireDue(ctx, s.batchSize)
		total += len(expired)
		if err != nil {
			result = "error"
			s.log.WithError(err).Error("expire due holds")
			break
		}
		if len(expired) < s.batchSize {
			break
		}
	}

	purged, err := s.target.PurgeIdempotency(ctx)
	if err != nil {
		result = "error"
		s.log.WithError(err).Error("purge idempotency records")
	}

	metrics.SweeperRuns.WithLabelValues(result).Inc()
	if total > 0 || purged > 0 {
		s.log.WithFields(logrus.Fields{
			"expired": total,
			"purged":  purged,
		}).Info("sweep finished")
	}
	return total
}
