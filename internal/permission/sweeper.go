package permission

import (
	"context"
	"time"

	"github.com/fimai/fimai-chat/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultSweepInterval = 15 * time.Minute

// ResetSweeper periodically resets counters whose period has elapsed so
// reports stay current for users who have not chatted since the rollover.
type ResetSweeper struct {
	db       *gorm.DB
	interval time.Duration
	now      func() time.Time
}

// NewResetSweeper constructs a sweeper. A negative interval disables it.
func NewResetSweeper(db *gorm.DB, interval time.Duration) *ResetSweeper {
	if db == nil || interval < 0 {
		return nil
	}
	if interval == 0 {
		interval = defaultSweepInterval
	}
	return &ResetSweeper{db: db, interval: interval, now: func() time.Time { return time.Now().UTC() }}
}

// Start launches the sweep loop in a background goroutine.
func (s *ResetSweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("permission reset sweeper started (interval=%s)", s.interval)
}

func (s *ResetSweeper) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.SweepOnce(ctx)
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// SweepOnce resets every permission whose period has elapsed and returns the
// number of rows reset.
func (s *ResetSweeper) SweepOnce(ctx context.Context) int64 {
	if s == nil {
		return 0
	}
	now := s.now()
	var total int64
	for _, period := range []string{models.LimitPeriodDaily, models.LimitPeriodWeekly, models.LimitPeriodMonthly} {
		start, _ := PeriodStart(period, now)
		res := s.db.WithContext(ctx).
			Model(&models.UserPermission{}).
			Where("limit_period = ? AND last_reset_at < ?", period, start).
			Updates(map[string]any{
				"token_used":    0,
				"cost_used":     0,
				"last_reset_at": now,
				"updated_at":    now,
			})
		if res.Error != nil {
			log.WithError(res.Error).Warnf("permission reset sweeper: %s sweep failed", period)
			continue
		}
		total += res.RowsAffected
	}
	if total > 0 {
		log.Infof("permission reset sweeper: reset %d counters", total)
	}
	return total
}
