// Package precision renders raw floating point observations as canonical
// decimal strings with a constant number of significant digits.
package precision

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultDigits is the significant digit count applied when a series does not
// configure one.
const DefaultDigits = 6

const (
	minDigits    = 1
	maxDigits    = 16
	renderPlaces = 18
)

var (
	// ErrInvalidPrecision is returned when the requested significant digits are out of range.
	ErrInvalidPrecision = errors.New("precision: significant digits out of range")
	// ErrNotFinite is returned for NaN and infinite inputs.
	ErrNotFinite = errors.New("precision: value is not finite")
)

// ValidDigits reports whether digits is an accepted significant digit count.
func ValidDigits(digits int) bool {
	return digits >= minDigits && digits <= maxDigits
}

// Format renders value with the given number of significant digits.
func Format(value float64, digits int) (string, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "", ErrNotFinite
	}
	return FormatDecimal(decimal.NewFromFloat(value), digits)
}

// FormatDecimal is Format for values that are already decimals.
func FormatDecimal(value decimal.Decimal, digits int) (string, error) {
	if !ValidDigits(digits) {
		return "", fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidPrecision, digits, minDigits, maxDigits)
	}
	places := Places(value, digits)
	return trim(value.StringFixed(places)), nil
}

// Places returns the number of decimal places Format rounds value to before
// trailing zeros are stripped.
func Places(value decimal.Decimal, digits int) int32 {
	rendered := value.Abs().StringFixed(renderPlaces)
	intPart, frac, _ := strings.Cut(rendered, ".")

	intDigits := len(intPart)
	switch {
	case intPart != "0" && intDigits >= digits:
		return 0
	case intPart != "0":
		return int32(digits - intDigits)
	case frac[0] != '0':
		return int32(digits)
	case frac[1] != '0':
		return int32(digits + 1)
	default:
		zeros := len(frac) - len(strings.TrimLeft(frac, "0"))
		return int32(digits + zeros)
	}
}

// Fixed renders value with exactly places decimal places.
func Fixed(value decimal.Decimal, places int32) string {
	return value.StringFixed(places)
}

func trim(s string) string {
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}
