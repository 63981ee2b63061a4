package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// QuantityScale is the number of fractional digits kept for every quantity.
const QuantityScale = 2

var (
	// DefaultTolerance is the epsilon used when no configuration overrides it.
	DefaultTolerance = decimal.New(1, -QuantityScale)
	// MaxQuantity is the exclusive upper bound for a quantity magnitude.
	MaxQuantity = decimal.New(1, 12)
)

// NormalizeQuantity rounds half away from zero to QuantityScale digits.
func NormalizeQuantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityScale)
}

// SumQuantities adds exactly and normalizes the result.
func SumQuantities(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return NormalizeQuantity(total)
}

// SafeRatio returns numerator/denominator, or zero when the denominator is
// zero or negative.
func SafeRatio(numerator, denominator decimal.Decimal) decimal.Decimal {
	if denominator.Sign() <= 0 {
		return decimal.Zero
	}
	return numerator.Div(denominator)
}

// PercentOf returns part/whole as a percentage clamped to [0, 100] with two
// digits, zero when whole is not positive.
func PercentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.Sign() <= 0 || part.Sign() <= 0 {
		return decimal.Zero
	}
	hundred := decimal.NewFromInt(100)
	pct := SafeRatio(part.Mul(hundred), whole).Round(QuantityScale)
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}

// ClampZero returns max(d, 0).
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.Sign() < 0 {
		return decimal.Zero
	}
	return d
}

// Exceeds reports whether a is greater than b by at least tolerance.
// Differences smaller than tolerance are rounding noise.
func Exceeds(a, b, tolerance decimal.Decimal) bool {
	diff := a.Sub(b)
	if diff.Sign() <= 0 {
		return false
	}
	return diff.GreaterThanOrEqual(tolerance)
}

// WithinTolerance reports |a-b| <= tolerance. A non-positive tolerance
// requires equality.
func WithinTolerance(a, b, tolerance decimal.Decimal) bool {
	diff := a.Sub(b).Abs()
	if tolerance.Sign() <= 0 {
		return diff.IsZero()
	}
	return diff.LessThanOrEqual(tolerance)
}

// CheckQuantity validates a stored quantity: non-negative and inside range.
func CheckQuantity(field string, d decimal.Decimal) error {
	if d.Sign() < 0 {
		return NewValidationError(RuleNegativeQuantity, field, "must not be negative, got %s", d.String())
	}
	if d.Abs().GreaterThanOrEqual(MaxQuantity) {
		return NewValidationError(RuleQuantityOutOfRange, field, "magnitude must be below %s", MaxQuantity.String())
	}
	return nil
}

// ParseQuantity accepts plain ("1234.5") and Brazilian formatted
// ("1.234,50") quantities and normalizes them.
func ParseQuantity(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, nil
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastComma > lastDot:
		// comma is the decimal separator, dots group thousands
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	}
	var b strings.Builder
	b.Grow(len(s) + 1)
	if neg {
		b.WriteByte('-')
	}
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" || clean == "-" {
		return decimal.Zero, fmt.Errorf("invalid quantity %q", raw)
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid quantity %q: %w", raw, err)
	}
	return NormalizeQuantity(d), nil
}
