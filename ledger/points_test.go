package ledger

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParsePoints(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{`50`, "50", true},
		{`12.75`, "12.75", true},
		{`-4`, "-4", true},
		{`1e3`, "1000", true},
		{`"42"`, "42", true},
		{`" 7 "`, "7", true},
		{`"abc"`, "0", false},
		{`""`, "0", false},
		{`null`, "0", false},
		{``, "0", false},
		{`true`, "0", false},
		{`{"a":1}`, "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParsePoints(json.RawMessage(tt.raw))
			assert.Equal(t, tt.wantOK, ok)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, int64(0), Clamp(decimal.RequireFromString("-0.5")))
	assert.Equal(t, int64(0), Clamp(decimal.RequireFromString("0.99")))
	assert.Equal(t, int64(10), Clamp(decimal.RequireFromString("10.99")))
}

func TestClamp_SaturatesAtMaxInt64(t *testing.T) {
	assert.Equal(t, int64(math.MaxInt64), Clamp(decimal.RequireFromString("1e19")))
	assert.Equal(t, int64(math.MaxInt64), Clamp(decimal.RequireFromString("1e30")))
	assert.Equal(t, int64(math.MaxInt64), Clamp(decimal.NewFromInt(math.MaxInt64)))
}

func TestInRange(t *testing.T) {
	assert.True(t, InRange(decimal.Zero))
	assert.True(t, InRange(decimal.NewFromInt(math.MaxInt64)))
	assert.True(t, InRange(decimal.RequireFromString("9223372036854775807.5")))
	assert.False(t, InRange(decimal.RequireFromString("9223372036854775808")))
	assert.False(t, InRange(decimal.RequireFromString("-1")))
}

func TestAddSaturating(t *testing.T) {
	assert.Equal(t, int64(60), addSaturating(50, 10))
	assert.Equal(t, int64(math.MaxInt64), addSaturating(math.MaxInt64-7, 100))
	assert.Equal(t, int64(math.MaxInt64), addSaturating(math.MaxInt64, math.MaxInt64))
}
