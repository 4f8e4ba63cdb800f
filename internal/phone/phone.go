// Package phone normalizes Brazilian phone numbers to the 55+DDD+number form used by
// WhatsApp gateways.
package phone

import "strings"

const countryCode = "55"

// Digits strips every non-digit rune.
func Digits(raw string) string {
	var builder strings.Builder
	builder.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

// Normalize converts a phone number to 55+DDD+number.
//
// 13 digits starting with 55 pass through. 11 digits (DDD + mobile) get the country
// code. 10 digits (DDD + legacy 8-digit mobile) get the mobile 9 after the DDD and
// the country code. Any other length is returned digits-only.
func Normalize(raw string) string {
	digits := Digits(raw)
	switch {
	case len(digits) == 13 && strings.HasPrefix(digits, countryCode):
		return digits
	case len(digits) == 11:
		return countryCode + digits
	case len(digits) == 10:
		return countryCode + digits[:2] + "9" + digits[2:]
	default:
		return digits
	}
}

// Valid reports whether the number normalizes to a full Brazilian mobile number.
func Valid(raw string) bool {
	normalized := Normalize(raw)
	return len(normalized) == 13 && strings.HasPrefix(normalized, countryCode)
}
