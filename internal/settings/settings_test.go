package settings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fimai/fimai-chat/internal/db/dbtest"
)

func TestTypedAccessors(t *testing.T) {
	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		"name":    json.RawMessage(`"fimai dev"`),
		"flag":    json.RawMessage(`"false"`),
		"days":    json.RawMessage(`30`),
		"days_s":  json.RawMessage(`"7"`),
		"bad_int": json.RawMessage(`1.5`),
	})
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })

	if got := String("name", "x"); got != "fimai dev" {
		t.Fatalf("unexpected string %q", got)
	}
	if Bool("flag", true) {
		t.Fatalf("expected string false to parse")
	}
	if got := Int("days", 0); got != 30 {
		t.Fatalf("expected 30, got %d", got)
	}
	if got := Int("days_s", 0); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	if got := Int("bad_int", 3); got != 3 {
		t.Fatalf("expected default for fractional value, got %d", got)
	}
	if got := Int("missing", 9); got != 9 {
		t.Fatalf("expected default, got %d", got)
	}
}

func TestSaveRefreshesSnapshot(t *testing.T) {
	conn := dbtest.Open(t)
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })

	ctx := context.Background()
	if err := Save(ctx, conn, map[string]json.RawMessage{SiteNameKey: json.RawMessage(`"Acme Chat"`)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := String(SiteNameKey, DefaultSiteName); got != "Acme Chat" {
		t.Fatalf("expected saved name, got %q", got)
	}

	if err := Save(ctx, conn, map[string]json.RawMessage{SiteNameKey: json.RawMessage(`"Renamed"`)}); err != nil {
		t.Fatalf("save again: %v", err)
	}
	if got := String(SiteNameKey, DefaultSiteName); got != "Renamed" {
		t.Fatalf("expected upserted name, got %q", got)
	}

	if err := Save(ctx, conn, map[string]json.RawMessage{"broken": json.RawMessage(`{`)}); err == nil {
		t.Fatalf("expected invalid json to be rejected")
	}
}
