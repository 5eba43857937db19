package inventory

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const displayIDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DisplayIDLength is the length of the public vehicle id.
const DisplayIDLength = 6

// NewDisplayID returns a random uppercase alphanumeric id. Ambiguous
// characters (0, O, 1, I) are excluded.
func NewDisplayID() string {
	raw := uuid.New()
	out := make([]byte, DisplayIDLength)
	for i := range out {
		out[i] = displayIDAlphabet[int(raw[i])%len(displayIDAlphabet)]
	}
	return string(out)
}

// NormalizeDisplayID uppercases and trims a user-supplied id.
func NormalizeDisplayID(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

var (
	priceSuffixPattern = regexp.MustCompile(`(?i)^(?:rp\.?\s*)?(\d+(?:[.,]\d+)?)\s*(jt|juta|rb|ribu|k|m|miliar|milyar)$`)
	priceDigitsPattern = regexp.MustCompile(`(?i)^(?:rp\.?\s*)?(\d{1,3}(?:[.,]\d{3})+|\d+)$`)

	million  = decimal.NewFromInt(1_000_000)
	thousand = decimal.NewFromInt(1_000)
	billion  = decimal.NewFromInt(1_000_000_000)
)

// MinRawPrice is the smallest suffix-less number read as a price.
var MinRawPrice = million

// ParsePrice reads prices such as "120jt", "120 juta", "1,2m", "850rb",
// "Rp 120.000.000" or "120000000". Suffix-less numbers below MinRawPrice
// are rejected so years and mileages are not mistaken for prices.
func ParsePrice(raw string) (decimal.Decimal, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return decimal.Zero, false
	}
	if m := priceSuffixPattern.FindStringSubmatch(value); m != nil {
		amount, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "."))
		if err != nil {
			return decimal.Zero, false
		}
		switch strings.ToLower(m[2]) {
		case "jt", "juta":
			amount = amount.Mul(million)
		case "rb", "ribu", "k":
			amount = amount.Mul(thousand)
		case "m", "miliar", "milyar":
			amount = amount.Mul(billion)
		}
		return amount.Round(0), amount.IsPositive()
	}
	if m := priceDigitsPattern.FindStringSubmatch(value); m != nil {
		digits := strings.NewReplacer(".", "", ",", "").Replace(m[1])
		amount, err := decimal.NewFromString(digits)
		if err != nil || amount.LessThan(MinRawPrice) {
			return decimal.Zero, false
		}
		return amount, true
	}
	return decimal.Zero, false
}

// FormatPrice renders "Rp 120.000.000".
func FormatPrice(price decimal.Decimal) string {
	digits := price.Round(0).String()
	negative := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if negative {
		return "Rp -" + b.String()
	}
	return "Rp " + b.String()
}

// ShortPrice renders "120 jt" for whole millions and falls back to FormatPrice.
func ShortPrice(price decimal.Decimal) string {
	if price.GreaterThanOrEqual(million) && price.Mod(million).IsZero() {
		return fmt.Sprintf("%s jt", price.Div(million).String())
	}
	return FormatPrice(price)
}
