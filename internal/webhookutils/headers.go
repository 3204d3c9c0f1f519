package webhookutils

import (
	"net/http"
	"strings"
)

// FirstHeader returns the first non-empty value among the candidate header names.
// Lookups are case-insensitive because http.Header canonicalizes keys on Set but raw maps
// built by proxies or tests may not.
func FirstHeader(header http.Header, names ...string) (string, bool) {
	for _, name := range names {
		if v := strings.TrimSpace(header.Get(name)); v != "" {
			return v, true
		}
		nameLower := strings.ToLower(name)
		for k, values := range header {
			if strings.ToLower(k) == nameLower && len(values) > 0 && strings.TrimSpace(values[0]) != "" {
				return strings.TrimSpace(values[0]), true
			}
		}
	}
	return "", false
}
