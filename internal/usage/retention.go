package usage

import (
	"context"
	"time"

	internalsettings "github.com/fimai/fimai-chat/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultRetentionInterval = 6 * time.Hour
	defaultDeleteBatchSize   = 5000
	maxDeleteBatchesPerRun   = 2000
)

// RetentionCleaner periodically deletes old token usage rows. The
// usage_retention_days system setting overrides the configured days; zero
// disables deletion.
type RetentionCleaner struct {
	db        *gorm.DB
	days      int
	interval  time.Duration
	batchSize int
}

// NewRetentionCleaner builds a cleaner keeping days of history.
func NewRetentionCleaner(db *gorm.DB, days int, interval time.Duration) *RetentionCleaner {
	if db == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultRetentionInterval
	}
	return &RetentionCleaner{
		db:        db,
		days:      days,
		interval:  interval,
		batchSize: defaultDeleteBatchSize,
	}
}

// Start launches the cleanup loop in a background goroutine.
func (c *RetentionCleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go c.run(ctx)
	log.Infof("usage retention cleaner started (interval=%s)", c.interval)
}

func (c *RetentionCleaner) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.CleanupOnce(ctx)
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// retentionDays resolves the effective retention. A negative setting defers
// to the configured value.
func (c *RetentionCleaner) retentionDays() int {
	days := internalsettings.Int(internalsettings.UsageRetentionDaysKey, c.days)
	if days < 0 {
		days = c.days
	}
	if days < 0 {
		return 0
	}
	return days
}

// CleanupOnce deletes rows older than the retention window and returns how many were removed.
func (c *RetentionCleaner) CleanupOnce(ctx context.Context) int64 {
	if c == nil || c.db == nil {
		return 0
	}
	days := c.retentionDays()
	if days <= 0 {
		return 0
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	var deleted int64
	for i := 0; i < maxDeleteBatchesPerRun; i++ {
		if ctx.Err() != nil {
			break
		}
		n, err := c.deleteBatch(ctx, cutoff)
		if err != nil {
			log.WithError(err).Warn("usage retention cleaner: delete batch failed")
			break
		}
		if n <= 0 {
			break
		}
		deleted += n
	}
	if deleted > 0 {
		log.Infof("usage retention cleaner: deleted %d rows (cutoff=%s retention_days=%d)", deleted, cutoff.Format(time.RFC3339), days)
	}
	return deleted
}

func (c *RetentionCleaner) deleteBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	// A bounded subquery keeps each delete short.
	res := c.db.WithContext(ctx).Exec(`
		DELETE FROM token_usages
		WHERE id IN (
			SELECT id FROM token_usages
			WHERE created_at < ?
			ORDER BY created_at ASC
			LIMIT ?
		)
	`, cutoff, c.batchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
