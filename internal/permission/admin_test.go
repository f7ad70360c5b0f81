package permission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fimai/fimai-chat/internal/db/dbtest"
	"github.com/fimai/fimai-chat/internal/models"
	"gorm.io/gorm"
)

func TestUpdateValidatesAndKeepsCounters(t *testing.T) {
	conn := dbtest.Open(t)
	gate := NewGate(conn, nil)
	old := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)
	user := createUser(t, conn, "alice", models.RoleUser, true, &models.UserPermission{TokenUsed: 42, LastResetAt: old})
	ctx := context.Background()

	bad := "hourly"
	if _, err := gate.Update(ctx, user.ID, Patch{LimitPeriod: &bad}); !errors.Is(err, ErrInvalidPatch) {
		t.Fatalf("expected ErrInvalidPatch, got %v", err)
	}
	negative := int64(-1)
	if _, err := gate.Update(ctx, user.ID, Patch{TokenLimit: &negative}); !errors.Is(err, ErrInvalidPatch) {
		t.Fatalf("expected ErrInvalidPatch, got %v", err)
	}

	limitType, limit := "token", int64(500)
	perm, err := gate.Update(ctx, user.ID, Patch{LimitType: &limitType, TokenLimit: &limit})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if perm.LimitType != models.LimitTypeToken || perm.TokenLimit != 500 {
		t.Fatalf("unexpected permission %+v", perm)
	}
	if perm.TokenUsed != 42 || !perm.LastResetAt.Equal(old) {
		t.Fatalf("expected counters and reset stamp kept, got %+v", perm)
	}
}

func createUsage(t *testing.T, conn *gorm.DB, userID uint64, tokens int64, cost float64, at time.Time) {
	t.Helper()
	row := models.TokenUsage{UserID: userID, ProviderID: 1, ModelID: 1, ModelName: "m", PromptTokens: tokens, Cost: cost, CreatedAt: at}
	if err := conn.Create(&row).Error; err != nil {
		t.Fatalf("create usage: %v", err)
	}
}

func TestUpdatePeriodRecountsFromLedger(t *testing.T) {
	conn := dbtest.Open(t)
	gate := NewGate(conn, nil)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return now }
	ctx := context.Background()

	user := createUser(t, conn, "carol", models.RoleUser, true, &models.UserPermission{
		LimitType: models.LimitTypeToken, LimitPeriod: models.LimitPeriodTotal, TokenLimit: 1000,
		TokenUsed: 5300, CostUsed: 2.5, LastResetAt: now.AddDate(0, -1, 0),
	})
	createUsage(t, conn, user.ID, 5000, 2, now.Add(-19*time.Hour))
	createUsage(t, conn, user.ID, 300, 0.5, now.Add(-6*time.Hour))

	if res := gate.Describe(ctx, user.ID); res.CanChat || res.Error != ReasonTokenLimit {
		t.Fatalf("expected token limit before the switch, got %+v", res)
	}

	daily := "daily"
	perm, err := gate.Update(ctx, user.ID, Patch{LimitPeriod: &daily})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	dayStart := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if perm.TokenUsed != 300 || perm.CostUsed != 0.5 {
		t.Fatalf("expected counters rebuilt from today's usage, got tokens=%d cost=%v", perm.TokenUsed, perm.CostUsed)
	}
	if !perm.LastResetAt.Equal(dayStart) {
		t.Fatalf("expected reset stamp at period start, got %v", perm.LastResetAt)
	}
	if res := gate.Describe(ctx, user.ID); !res.CanChat {
		t.Fatalf("expected chat allowed in the new period, got %+v", res)
	}

	total := "total"
	perm, err = gate.Update(ctx, user.ID, Patch{LimitPeriod: &total})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if perm.TokenUsed != 300 || !perm.LastResetAt.Equal(dayStart) {
		t.Fatalf("expected switch to total to keep counters, got %+v", perm)
	}
}

func TestUpdateUnknownUser(t *testing.T) {
	gate := NewGate(dbtest.Open(t), nil)
	limitType := "cost"
	if _, err := gate.Update(context.Background(), 404, Patch{LimitType: &limitType}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGetCreatesDefaultPermission(t *testing.T) {
	conn := dbtest.Open(t)
	gate := NewGate(conn, nil)
	user := createUser(t, conn, "bob", models.RoleUser, true, nil)

	perm, err := gate.Get(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if perm.UserID != user.ID || perm.LimitType != models.LimitTypeNone {
		t.Fatalf("unexpected default permission %+v", perm)
	}
}
