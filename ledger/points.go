package ledger

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePoints reads a stored balance. Numbers and numeric strings are
// accepted; anything else (null, bool, objects, "abc") is reported as
// invalid. Negative values parse but callers treat them as invalid.
func ParsePoints(raw json.RawMessage) (decimal.Decimal, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return decimal.Zero, false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		d, err := decimal.NewFromString(string(raw))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// maxPoints is the largest balance an int64 can carry.
var maxPoints = decimal.NewFromInt(math.MaxInt64)

// Clamp returns floor(max(0, v)) as an integer, saturating at MaxInt64.
func Clamp(v decimal.Decimal) int64 {
	if v.IsNegative() {
		return 0
	}
	if v.GreaterThan(maxPoints) {
		return math.MaxInt64
	}
	return v.Floor().IntPart()
}

// InRange reports whether v is a non-negative balance an int64 can hold.
func InRange(v decimal.Decimal) bool {
	return !v.IsNegative() && !v.Floor().GreaterThan(maxPoints)
}

// addSaturating returns a+b for non-negative a and b, capped at MaxInt64.
func addSaturating(a, b int64) int64 {
	if b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}

// Amount reads a stored integer field leniently: anything ParsePoints
// rejects reads as 0, everything else is clamped.
func Amount(raw json.RawMessage) int64 {
	v, ok := ParsePoints(raw)
	if !ok {
		return 0
	}
	return Clamp(v)
}
