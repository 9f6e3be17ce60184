package provider

import "strings"

// defaultCountryPrefix is applied when a phone number arrives in local form
const defaultCountryPrefix = "+972"

// NormalizePhone converts a phone number to international format before it
// is sent to a provider's verification endpoint. Local numbers with a
// leading zero get the default country prefix; numbers already in
// international form pass through. Separators are stripped either way.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		switch r {
		case ' ', '-', '(', ')':
			// separator, drop
		default:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	switch {
	case cleaned == "":
		return ""
	case strings.HasPrefix(cleaned, "+"):
		return cleaned
	case strings.HasPrefix(cleaned, "0"):
		return defaultCountryPrefix + cleaned[1:]
	default:
		return "+" + cleaned
	}
}
