package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper deletes published rows older than the retention window on a cron schedule.
type Sweeper struct {
	store     Store
	logger    *slog.Logger
	retention time.Duration
	schedule  string
	now       func() time.Time
}

func NewSweeper(store Store, logger *slog.Logger, schedule string, retention time.Duration) *Sweeper {
	if schedule == "" {
		schedule = "@hourly"
	}
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	return &Sweeper{store: store, logger: logger, retention: retention, schedule: schedule, now: time.Now}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.SweepOnce(ctx) }); err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	n, err := s.store.PurgePublished(ctx, s.now().Add(-s.retention))
	if err != nil {
		s.logger.Error("outbox sweep failed", "err", err)
		return 0
	}
	if n > 0 {
		s.logger.Info("outbox sweep", "deleted", n)
	}
	return n
}
