package inventory

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{raw: "120jt", want: 120_000_000, ok: true},
		{raw: "120 juta", want: 120_000_000, ok: true},
		{raw: "1,2m", want: 1_200_000_000, ok: true},
		{raw: "850rb", want: 850_000, ok: true},
		{raw: "Rp 120.000.000", want: 120_000_000, ok: true},
		{raw: "120000000", want: 120_000_000, ok: true},
		{raw: "2020", ok: false},
		{raw: "45000", ok: false},
		{raw: "hitam", ok: false},
		{raw: "", ok: false},
	}
	for _, tt := range tests {
		got, ok := ParsePrice(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		if tt.ok {
			assert.True(t, decimal.NewFromInt(tt.want).Equal(got), "%s: got %s", tt.raw, got)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "Rp 120.000.000", FormatPrice(decimal.NewFromInt(120_000_000)))
	assert.Equal(t, "Rp 850.000", FormatPrice(decimal.NewFromInt(850_000)))
	assert.Equal(t, "Rp 999", FormatPrice(decimal.NewFromInt(999)))
	assert.Equal(t, "120 jt", ShortPrice(decimal.NewFromInt(120_000_000)))
	assert.Equal(t, "Rp 1.250.000", ShortPrice(decimal.NewFromInt(1_250_000)))
}

func TestNewDisplayID(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		id := NewDisplayID()
		assert.Len(t, id, DisplayIDLength)
		assert.Equal(t, strings.ToUpper(id), id)
		seen[id] = struct{}{}
	}
	assert.Greater(t, len(seen), 40)
}

func TestParseStatus(t *testing.T) {
	status, ok := ParseStatus("laku")
	assert.True(t, ok)
	assert.Equal(t, StatusSold, status)

	status, ok = ParseStatus("BOOKED")
	assert.True(t, ok)
	assert.Equal(t, StatusBooked, status)

	_, ok = ParseStatus("gone")
	assert.False(t, ok)
}
