package permission

import (
	"context"
	"testing"
	"time"

	"github.com/fimai/fimai-chat/internal/db/dbtest"
	"github.com/fimai/fimai-chat/internal/models"
)

func TestPeriodStart(t *testing.T) {
	// Wednesday.
	now := time.Date(2026, 4, 15, 18, 30, 0, 0, time.UTC)
	cases := []struct {
		period string
		want   time.Time
		ok     bool
	}{
		{models.LimitPeriodDaily, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), true},
		{models.LimitPeriodWeekly, time.Date(2026, 4, 13, 0, 0, 0, 0, time.UTC), true},
		{models.LimitPeriodMonthly, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), true},
		{models.LimitPeriodTotal, time.Time{}, false},
	}
	for _, tc := range cases {
		got, ok := PeriodStart(tc.period, now)
		if ok != tc.ok || !got.Equal(tc.want) {
			t.Fatalf("%s: expected %v/%v, got %v/%v", tc.period, tc.want, tc.ok, got, ok)
		}
	}

	sunday := time.Date(2026, 4, 19, 23, 0, 0, 0, time.UTC)
	if got, _ := PeriodStart(models.LimitPeriodWeekly, sunday); !got.Equal(time.Date(2026, 4, 13, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("sunday belongs to the week starting monday, got %v", got)
	}
}

func TestSweepOnceResetsElapsedPeriods(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)
	stale := createUser(t, conn, "stale", models.RoleUser, true, &models.UserPermission{
		LimitType: models.LimitTypeToken, LimitPeriod: models.LimitPeriodMonthly,
		TokenLimit: 10, TokenUsed: 10, LastResetAt: time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC),
	})
	current := createUser(t, conn, "current", models.RoleUser, true, &models.UserPermission{
		LimitType: models.LimitTypeToken, LimitPeriod: models.LimitPeriodMonthly,
		TokenLimit: 10, TokenUsed: 7, LastResetAt: time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
	})
	forever := createUser(t, conn, "forever", models.RoleUser, true, &models.UserPermission{
		LimitType: models.LimitTypeToken, TokenLimit: 10, TokenUsed: 9,
		LastResetAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	sweeper := NewResetSweeper(conn, time.Minute)
	sweeper.now = func() time.Time { return now }
	if n := sweeper.SweepOnce(context.Background()); n != 1 {
		t.Fatalf("expected 1 reset, got %d", n)
	}

	used := func(userID uint64) int64 {
		var perm models.UserPermission
		conn.Where("user_id = ?", userID).First(&perm)
		return perm.TokenUsed
	}
	if got := used(stale.ID); got != 0 {
		t.Fatalf("expected stale counters reset, got %d", got)
	}
	if got := used(current.ID); got != 7 {
		t.Fatalf("expected current counters kept, got %d", got)
	}
	if got := used(forever.ID); got != 9 {
		t.Fatalf("expected total period untouched, got %d", got)
	}

	if NewResetSweeper(conn, -1) != nil {
		t.Fatalf("negative interval should disable the sweeper")
	}
}
