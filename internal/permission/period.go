package permission

import (
	"context"
	"time"

	"github.com/fimai/fimai-chat/internal/models"
	"gorm.io/gorm"
)

// PeriodStart returns the UTC start of the period containing now. The second
// result is false for the total period, which never resets.
func PeriodStart(period string, now time.Time) (time.Time, bool) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case models.LimitPeriodDaily:
		return day, true
	case models.LimitPeriodWeekly:
		// Weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset), true
	case models.LimitPeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), true
	default:
		return time.Time{}, false
	}
}

// resetIfElapsed zeroes perm's counters when its period has rolled over. The
// update is guarded on last_reset_at so concurrent checks reset only once.
func resetIfElapsed(ctx context.Context, db *gorm.DB, perm *models.UserPermission, now time.Time) (bool, error) {
	start, ok := PeriodStart(perm.LimitPeriod, now)
	if !ok || !perm.LastResetAt.Before(start) {
		return false, nil
	}
	res := db.WithContext(ctx).
		Model(&models.UserPermission{}).
		Where("id = ? AND last_reset_at < ?", perm.ID, start).
		Updates(map[string]any{
			"token_used":    0,
			"cost_used":     0,
			"last_reset_at": now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Another check won the race; reload the current counters.
		return false, db.WithContext(ctx).First(perm, perm.ID).Error
	}
	perm.TokenUsed = 0
	perm.CostUsed = 0
	perm.LastResetAt = now
	return true, nil
}
