package observability

import "strings"

// stripControl drops control runes and bounds length so client-supplied
// values cannot inject structure into log output.
func stripControl(value string, limit int) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r == '\n', r == '\r', r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
		if limit > 0 && b.Len() >= limit {
			break
		}
	}
	return b.String()
}

// SanitizeRoute bounds route patterns before they reach logs or span names.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return stripControl(route, 180)
}

// SanitizeMethod bounds HTTP method strings.
func SanitizeMethod(method string) string {
	return stripControl(method, 10)
}

// SanitizeCustomerID truncates identifiers to limit what ends up in logs.
func SanitizeCustomerID(id string) string {
	return stripControl(id, 64)
}
