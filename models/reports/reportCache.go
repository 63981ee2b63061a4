package reports

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/models"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// supplyMapGenerationKey is bumped on every ledger write; cached maps from an
// older generation are never read again.
const supplyMapGenerationKey = "supplymap:generation"

func reportCacheEnabled() bool {
	return utils.EnvBoolDefault("ENABLE_REPORT_CACHE", false)
}

func reportCacheTTL() time.Duration {
	// Env: REPORT_CACHE_TTL_SECONDS (default 120s)
	ttl := 120
	if v := strings.TrimSpace(os.Getenv("REPORT_CACHE_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = n
		}
	}
	return time.Duration(ttl) * time.Second
}

func reportSlowMs() int64 {
	// Env: REPORT_SLOW_MS (default 500ms)
	ms := int64(500)
	if v := strings.TrimSpace(os.Getenv("REPORT_SLOW_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			ms = n
		}
	}
	return ms
}

func logSlowReport(ctx context.Context, name string, started time.Time, fields logrus.Fields) {
	d := time.Since(started)
	if d.Milliseconds() < reportSlowMs() {
		return
	}
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	entry := config.GetLogger().WithFields(fields).WithFields(logrus.Fields{
		"field":          "slow_report",
		"report":         name,
		"ms":             d.Milliseconds(),
		"correlation_id": cid,
	})
	entry.Warn("slow report")
}

func supplyMapCacheKey(ctx context.Context, siteId int, today time.Time, tolerance decimal.Decimal, filter models.SupplyMapFilter) (string, error) {
	generation, _, err := config.GetRedisValue(ctx, supplyMapGenerationKey)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("supplymap:%s:site:%d:%s:%s:%s:%s:%s:%t",
		generation, siteId, today.Format("2006-01-02"), tolerance.String(),
		filter.Category, filter.Stage, filter.Tier, filter.OnlyLate), nil
}

// SupplyMap builds the site's supply map, serving it from redis when
// ENABLE_REPORT_CACHE is on and nothing was written since it was cached.
func SupplyMap(ctx context.Context, siteId int, today time.Time, tolerance decimal.Decimal, filter models.SupplyMapFilter) (*models.SupplyMap, error) {
	started := time.Now()
	fields := logrus.Fields{"site_id": siteId}
	defer func() { logSlowReport(ctx, "supply_map", started, fields) }()

	var key string
	if reportCacheEnabled() {
		var err error
		if key, err = supplyMapCacheKey(ctx, siteId, today, tolerance, filter); err != nil {
			// redis trouble only costs us the cache
			key = ""
		}
	}
	if key != "" {
		var cached models.SupplyMap
		if ok, err := config.GetRedisObject(ctx, key, &cached); err == nil && ok {
			fields["cache"] = "hit"
			return &cached, nil
		}
	}

	m, err := models.BuildSupplyMap(ctx, siteId, today, tolerance, filter)
	if err != nil {
		return nil, err
	}
	fields["entries"] = len(m.Entries)
	if key != "" {
		if err := config.SetRedisObject(ctx, key, m, reportCacheTTL()); err != nil {
			config.LogError(config.GetLogger(), "reportCache.go", "SupplyMap", "caching supply map", key, err)
		}
	}
	return m, nil
}

// InvalidateSupplyMaps retires every cached supply map. It is a no-op when
// redis is not connected.
func InvalidateSupplyMaps(ctx context.Context) {
	if err := config.IncrRedisKey(ctx, supplyMapGenerationKey); err != nil {
		config.LogError(config.GetLogger(), "reportCache.go", "InvalidateSupplyMaps", "bumping generation", nil, err)
	}
}
