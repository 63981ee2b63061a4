package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	defaultTolerance = "0.01"
	defaultUnit      = "UN"
)

// SupplySettings carries the tunables shared by the allocation guard and the
// verifier. It is passed explicitly, never read from globals.
type SupplySettings struct {
	// Tolerance is the epsilon under which quantity differences are noise.
	Tolerance decimal.Decimal
	// DefaultUnit is applied to materials that arrive without a unit.
	DefaultUnit string
	// CreateUnclassifiedRows lets the ERP feed create UNCLASSIFIED planning
	// rows for requisitions no planning row references yet.
	CreateUnclassifiedRows bool
	// AllocationRedisLock enables the cross-instance receipt lock.
	AllocationRedisLock bool
}

func DefaultSupplySettings() SupplySettings {
	return SupplySettings{
		Tolerance:              decimal.RequireFromString(defaultTolerance),
		DefaultUnit:            defaultUnit,
		CreateUnclassifiedRows: true,
		AllocationRedisLock:    true,
	}
}

// LoadSupplySettings reads:
// - SUPPLY_TOLERANCE (default 0.01)
// - SUPPLY_DEFAULT_UNIT (default UN)
// - SUPPLY_FEED_CREATE_UNCLASSIFIED (default true)
// - SUPPLY_ALLOCATION_REDIS_LOCK (default true)
func LoadSupplySettings() (SupplySettings, error) {
	s := DefaultSupplySettings()
	if v := strings.TrimSpace(os.Getenv("SUPPLY_TOLERANCE")); v != "" {
		tol, err := decimal.NewFromString(v)
		if err != nil {
			return s, fmt.Errorf("SUPPLY_TOLERANCE %q: %w", v, err)
		}
		if tol.Sign() < 0 {
			return s, fmt.Errorf("SUPPLY_TOLERANCE must not be negative, got %s", v)
		}
		s.Tolerance = tol
	}
	if v := strings.TrimSpace(os.Getenv("SUPPLY_DEFAULT_UNIT")); v != "" {
		s.DefaultUnit = strings.ToUpper(v)
	}
	s.CreateUnclassifiedRows = envBool("SUPPLY_FEED_CREATE_UNCLASSIFIED", s.CreateUnclassifiedRows)
	s.AllocationRedisLock = envBool("SUPPLY_ALLOCATION_REDIS_LOCK", s.AllocationRedisLock)
	return s, nil
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	}
	return def
}
