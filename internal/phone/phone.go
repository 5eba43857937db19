// Package phone normalizes WhatsApp sender identifiers into comparable phone numbers
// and tells stable phone identifiers apart from provider-issued linked aliases.
package phone

import (
	"strings"
	"unicode"
)

// DefaultCountryCode is used when a caller does not configure one.
const DefaultCountryCode = "62"

const (
	// minNationalDigits is the shortest number treated as already carrying a country code.
	minNationalDigits = 10
	// minAliasDigits is the length at which a bare digit string is considered a linked alias.
	minAliasDigits = 15
)

var providerSuffixes = []string{
	"@s.whatsapp.net",
	"@c.us",
	"@g.us",
	"@lid",
}

// StripSuffix removes provider suffixes ("@s.whatsapp.net", "@lid") and device
// qualifiers (":12") from a raw sender identifier.
func StripSuffix(raw string) string {
	value := strings.TrimSpace(raw)
	lower := strings.ToLower(value)
	for _, suffix := range providerSuffixes {
		if strings.HasSuffix(lower, suffix) {
			value = value[:len(value)-len(suffix)]
			break
		}
	}
	if idx := strings.Index(value, ":"); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

// Digits returns only the decimal digits of value.
func Digits(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize maps a raw identifier to its canonical phone form. A leading local
// prefix "0" is rewritten to the country code and short local numbers are
// left-padded with it. Returns "" when no digits remain.
func Normalize(raw, countryCode string) string {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	digits := Digits(StripSuffix(raw))
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(digits, "0") {
		return countryCode + strings.TrimLeft(digits, "0")
	}
	if strings.HasPrefix(digits, countryCode) && len(digits) >= minNationalDigits {
		return digits
	}
	if len(digits) < minNationalDigits {
		return countryCode + digits
	}
	return digits
}

// Equal reports whether two raw identifiers normalize to the same phone.
func Equal(a, b, countryCode string) bool {
	na := Normalize(a, countryCode)
	return na != "" && na == Normalize(b, countryCode)
}

// IsLinkedAlias reports whether raw is a provider-issued linked identifier with no
// guaranteed phone-number form.
func IsLinkedAlias(raw, countryCode string) bool {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	value := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasSuffix(value, "@lid") {
		return true
	}
	if strings.Contains(value, "@") {
		return false
	}
	digits := Digits(StripSuffix(value))
	if digits != StripSuffix(value) {
		return false
	}
	return len(digits) >= minAliasDigits && !strings.HasPrefix(digits, countryCode)
}

// AliasKey is the stored form of a linked alias: suffix-free, lowercase.
func AliasKey(raw string) string {
	return strings.ToLower(StripSuffix(raw))
}

// CanonicalSender returns the lookup key for a raw sender: the alias key for linked
// aliases, the normalized phone otherwise.
func CanonicalSender(raw, countryCode string) string {
	if IsLinkedAlias(raw, countryCode) {
		return AliasKey(raw)
	}
	if normalized := Normalize(raw, countryCode); normalized != "" {
		return normalized
	}
	return strings.TrimSpace(raw)
}

// Mask hides the middle digits of a phone for logs and replies.
func Mask(value string) string {
	if len(value) <= 6 {
		return value
	}
	return value[:4] + strings.Repeat("*", len(value)-6) + value[len(value)-2:]
}
