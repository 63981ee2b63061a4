package reports

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/supplymap_backend/models"
	"github.com/shopspring/decimal"
)

func TestReportCacheTTL(t *testing.T) {
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "")
	if got := reportCacheTTL(); got != 120*time.Second {
		t.Fatalf("expected default 120s, got %s", got)
	}
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "15")
	if got := reportCacheTTL(); got != 15*time.Second {
		t.Fatalf("expected 15s, got %s", got)
	}
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "-3")
	if got := reportCacheTTL(); got != 120*time.Second {
		t.Fatalf("negative ttl must fall back to default, got %s", got)
	}
}

func TestSupplyMapCacheKey_DependsOnInputs(t *testing.T) {
	ctx := context.Background()
	today := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tol := decimal.RequireFromString("0.01")

	base, err := supplyMapCacheKey(ctx, 7, today, tol, models.SupplyMapFilter{})
	if err != nil {
		t.Fatalf("supplyMapCacheKey: %v", err)
	}
	variants := []struct {
		name   string
		site   int
		today  time.Time
		filter models.SupplyMapFilter
	}{
		{"site", 8, today, models.SupplyMapFilter{}},
		{"day", 7, today.AddDate(0, 0, 1), models.SupplyMapFilter{}},
		{"stage", 7, today, models.SupplyMapFilter{Stage: models.StageDelivered}},
		{"late", 7, today, models.SupplyMapFilter{OnlyLate: true}},
	}
	for _, v := range variants {
		key, err := supplyMapCacheKey(ctx, v.site, v.today, tol, v.filter)
		if err != nil {
			t.Fatalf("%s: %v", v.name, err)
		}
		if key == base {
			t.Fatalf("%s: expected a different key than %q", v.name, base)
		}
	}
}
