package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fimai/fimai-chat/internal/models"
	"gorm.io/gorm"
)

// Page size bounds for List.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Query narrows usage reports. Nil UserID spans all users.
type Query struct {
	UserID         *uint64
	ModelName      string
	From           *time.Time
	To             *time.Time
	ExcludeMirrors bool // Drop host copies of guest rows so totals are not doubled.
}

func (q Query) apply(tx *gorm.DB) *gorm.DB {
	if q.UserID != nil {
		tx = tx.Where("user_id = ?", *q.UserID)
	}
	if name := strings.TrimSpace(q.ModelName); name != "" {
		tx = tx.Where("model_name = ?", name)
	}
	if q.From != nil {
		tx = tx.Where("created_at >= ?", q.From.UTC())
	}
	if q.To != nil {
		tx = tx.Where("created_at < ?", q.To.UTC())
	}
	if q.ExcludeMirrors {
		tx = tx.Where("source_user_id IS NULL")
	}
	return tx
}

// Row is the reporting view of one usage row.
type Row struct {
	ID               uint64    `json:"id"`
	UserID           uint64    `json:"user_id"`
	SourceUserID     *uint64   `json:"source_user_id,omitempty"`
	ProviderID       uint64    `json:"provider_id"`
	ModelID          uint64    `json:"model_id"`
	ModelName        string    `json:"model_name"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	IsEstimated      bool      `json:"is_estimated"`
	Cost             float64   `json:"cost"`
	CreatedAt        time.Time `json:"created_at"`
}

func rowFrom(u *models.TokenUsage) Row {
	return Row{
		ID:               u.ID,
		UserID:           u.UserID,
		SourceUserID:     u.SourceUserID,
		ProviderID:       u.ProviderID,
		ModelID:          u.ModelID,
		ModelName:        u.ModelName,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		IsEstimated:      u.IsEstimated,
		Cost:             u.Cost,
		CreatedAt:        u.CreatedAt,
	}
}

// Page is one page of usage rows.
type Page struct {
	Items    []Row `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

// List returns usage rows newest first.
func List(ctx context.Context, db *gorm.DB, q Query, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	out := Page{Page: page, PageSize: pageSize, Items: []Row{}}
	base := q.apply(db.WithContext(ctx).Model(&models.TokenUsage{}))
	if errCount := base.Session(&gorm.Session{}).Count(&out.Total).Error; errCount != nil {
		return Page{}, errCount
	}
	var rows []models.TokenUsage
	if errFind := base.Session(&gorm.Session{}).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; errFind != nil {
		return Page{}, errFind
	}
	for i := range rows {
		out.Items = append(out.Items, rowFrom(&rows[i]))
	}
	return out, nil
}

// Summary aggregates usage rows.
type Summary struct {
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Summarize totals the rows matching q.
func Summarize(ctx context.Context, db *gorm.DB, q Query) (Summary, error) {
	var out Summary
	errScan := q.apply(db.WithContext(ctx).Model(&models.TokenUsage{})).
		Select(`COUNT(*) AS requests,
			COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
			COALESCE(SUM(total_tokens), 0) AS total_tokens,
			COALESCE(SUM(cost), 0) AS cost`).
		Scan(&out).Error
	return out, errScan
}

// ModelStat aggregates usage rows for one model.
type ModelStat struct {
	ModelName   string  `json:"model_name"`
	Requests    int64   `json:"requests"`
	TotalTokens int64   `json:"total_tokens"`
	Cost        float64 `json:"cost"`
}

// ByModel totals the rows matching q per model, most expensive first.
func ByModel(ctx context.Context, db *gorm.DB, q Query) ([]ModelStat, error) {
	out := []ModelStat{}
	errScan := q.apply(db.WithContext(ctx).Model(&models.TokenUsage{})).
		Select(`model_name,
			COUNT(*) AS requests,
			COALESCE(SUM(total_tokens), 0) AS total_tokens,
			COALESCE(SUM(cost), 0) AS cost`).
		Group("model_name").
		Order("cost DESC, model_name ASC").
		Scan(&out).Error
	return out, errScan
}

// Stats is the dashboard view of usage: rolling window summaries and the
// per-model breakdown for the last 30 days.
type Stats struct {
	Today     Summary     `json:"today"`
	Last7Days Summary     `json:"last_7_days"`
	Last30    Summary     `json:"last_30_days"`
	ByModel   []ModelStat `json:"by_model"`
}

// BuildStats reports usage for base over windows ending at now. Today starts
// at UTC midnight.
func BuildStats(ctx context.Context, db *gorm.DB, base Query, now time.Time) (Stats, error) {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	window := func(from time.Time) Query {
		q := base
		q.From = &from
		q.To = nil
		return q
	}

	var out Stats
	var err error
	if out.Today, err = Summarize(ctx, db, window(midnight)); err != nil {
		return Stats{}, err
	}
	if out.Last7Days, err = Summarize(ctx, db, window(midnight.AddDate(0, 0, -6))); err != nil {
		return Stats{}, err
	}
	last30 := window(midnight.AddDate(0, 0, -29))
	if out.Last30, err = Summarize(ctx, db, last30); err != nil {
		return Stats{}, err
	}
	if out.ByModel, err = ByModel(ctx, db, last30); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// ParseRange parses optional from/to bounds given as RFC 3339 timestamps or
// YYYY-MM-DD dates. A date-only to bound is inclusive of that day.
func ParseRange(from, to string) (*time.Time, *time.Time, error) {
	start, errFrom := parseBound(from, false)
	if errFrom != nil {
		return nil, nil, errFrom
	}
	end, errTo := parseBound(to, true)
	if errTo != nil {
		return nil, nil, errTo
	}
	return start, end, nil
}

func parseBound(raw string, upper bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("usage: invalid time %q", raw)
	}
	if upper {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}
