package usage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/fimai/fimai-chat/internal/db/dbtest"
	"github.com/fimai/fimai-chat/internal/models"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	provider models.Provider
	model    models.Model
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	provider := models.Provider{Name: "openai", BaseURL: "http://upstream", APIKey: "k", IsEnabled: true}
	if err := conn.Create(&provider).Error; err != nil {
		t.Fatalf("create provider: %v", err)
	}
	model := models.Model{
		ProviderID: provider.ID, ModelID: "gpt-test", Name: "GPT Test", IsEnabled: true,
		PricingType: models.PricingTypeToken, InputPrice: 1, OutputPrice: 2,
	}
	if err := conn.Create(&model).Error; err != nil {
		t.Fatalf("create model: %v", err)
	}
	return fixture{db: conn, provider: provider, model: model}
}

func (f fixture) createUser(t *testing.T, username, role string, host *uint64) models.User {
	t.Helper()
	user := models.User{Username: username, Password: "x", Role: role, Active: true, HostUserID: host}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	perm := models.DefaultPermission(user.ID, time.Now().UTC())
	if err := f.db.Create(&perm).Error; err != nil {
		t.Fatalf("create permission: %v", err)
	}
	return user
}

func (f fixture) permission(t *testing.T, userID uint64) models.UserPermission {
	t.Helper()
	var perm models.UserPermission
	if err := f.db.Where("user_id = ?", userID).First(&perm).Error; err != nil {
		t.Fatalf("load permission: %v", err)
	}
	return perm
}

func TestRecordWritesRowAndBumpsCounters(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "alice", models.RoleUser, nil)

	res, err := NewRecorder(f.db).Record(context.Background(), Entry{
		UserID: user.ID, ProviderID: f.provider.ID, ModelID: f.model.ID, ModelName: f.model.ModelID,
		PromptTokens: 1000, CompletionTokens: 500, RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if res.Mirror != nil {
		t.Fatalf("expected no mirror row for a regular user")
	}

	var rows []models.TokenUsage
	if err := f.db.Find(&rows).Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.TotalTokens != row.PromptTokens+row.CompletionTokens || row.TotalTokens != 1500 {
		t.Fatalf("unexpected totals %+v", row)
	}
	wantCost := 1000*1.0/1e6 + 500*2.0/1e6
	if math.Abs(row.Cost-wantCost) > 1e-12 {
		t.Fatalf("expected cost %v, got %v", wantCost, row.Cost)
	}
	if row.IsEstimated || row.RequestID != "req-1" {
		t.Fatalf("unexpected row flags %+v", row)
	}

	perm := f.permission(t, user.ID)
	if perm.TokenUsed != 1500 {
		t.Fatalf("expected token_used 1500, got %d", perm.TokenUsed)
	}
	if math.Abs(perm.CostUsed-wantCost) > 1e-12 {
		t.Fatalf("expected cost_used %v, got %v", wantCost, perm.CostUsed)
	}
}

func TestRecordEstimatesFromText(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "bob", models.RoleUser, nil)

	res, err := NewRecorder(f.db).Record(context.Background(), Entry{
		UserID: user.ID, ProviderID: f.provider.ID, ModelID: f.model.ID, ModelName: f.model.ModelID,
		InputText: "你好world", OutputText: "Hi there",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !res.Row.IsEstimated {
		t.Fatalf("expected estimated row")
	}
	if res.Row.PromptTokens != 2 || res.Row.CompletionTokens != 2 || res.Row.TotalTokens != 4 {
		t.Fatalf("unexpected estimated counts %+v", res.Row)
	}
}

func TestRecordGuestMirrorsToHost(t *testing.T) {
	f := newFixture(t)
	host := f.createUser(t, "host", models.RoleUser, nil)
	hostID := host.ID
	guest := f.createUser(t, "guest_1", models.RoleGuest, &hostID)

	if _, err := NewRecorder(f.db).Record(context.Background(), Entry{
		UserID: guest.ID, ProviderID: f.provider.ID, ModelID: f.model.ID, ModelName: f.model.ModelID,
		PromptTokens: 10, CompletionTokens: 20,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	var guestRow, hostRow models.TokenUsage
	if err := f.db.Where("user_id = ?", guest.ID).First(&guestRow).Error; err != nil {
		t.Fatalf("guest row: %v", err)
	}
	if err := f.db.Where("user_id = ?", host.ID).First(&hostRow).Error; err != nil {
		t.Fatalf("host row: %v", err)
	}
	if hostRow.SourceUserID == nil || *hostRow.SourceUserID != guest.ID {
		t.Fatalf("expected host row to reference guest, got %v", hostRow.SourceUserID)
	}
	if guestRow.SourceUserID != nil {
		t.Fatalf("guest row must not carry a source user")
	}
	if guestRow.ProviderID != hostRow.ProviderID || guestRow.ModelID != hostRow.ModelID ||
		guestRow.PromptTokens != hostRow.PromptTokens || guestRow.CompletionTokens != hostRow.CompletionTokens ||
		guestRow.TotalTokens != hostRow.TotalTokens || guestRow.Cost != hostRow.Cost {
		t.Fatalf("mirrored row differs: guest=%+v host=%+v", guestRow, hostRow)
	}

	if got := f.permission(t, guest.ID).TokenUsed; got != 30 {
		t.Fatalf("expected guest token_used 30, got %d", got)
	}
	if got := f.permission(t, host.ID).TokenUsed; got != 30 {
		t.Fatalf("expected host token_used 30, got %d", got)
	}
}

func TestRecordUnknownUserWritesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := NewRecorder(f.db).Record(context.Background(), Entry{UserID: 404, ModelName: "gpt-test", PromptTokens: 1})
	if !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
	var count int64
	f.db.Model(&models.TokenUsage{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no rows, got %d", count)
	}
}

func TestRecordCreatesMissingPermission(t *testing.T) {
	f := newFixture(t)
	user := models.User{Username: "noperm", Password: "x", Role: models.RoleUser, Active: true}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, err := NewRecorder(f.db).Record(context.Background(), Entry{
		UserID: user.ID, ModelName: "unknown-model", PromptTokens: 7, CompletionTokens: 3,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	perm := f.permission(t, user.ID)
	if perm.TokenUsed != 10 || perm.LimitType != models.LimitTypeNone {
		t.Fatalf("unexpected permission %+v", perm)
	}
}
