package client

import "strings"

const DefaultCountryCode = "55"

// NormalizePhone strips everything but digits and prefixes the country code
// when the number does not already start with it. Group identifiers, which
// contain '@', are returned unchanged.
func NormalizePhone(raw, countryCode string) string {
	if strings.Contains(raw, "@") {
		return strings.TrimSpace(raw)
	}
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	var b strings.Builder
	b.Grow(len(raw) + len(countryCode))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	if !strings.HasPrefix(digits, countryCode) {
		digits = countryCode + digits
	}
	return digits
}
