package fetch

import (
	"fmt"
	"net/url"
	"strings"

	"accentid/internal/services"
)

// NormalizeSourceURL rewrites Dropbox share links so they serve raw bytes.
// References that are not Dropbox links, or already request raw content,
// are returned unchanged.
func NormalizeSourceURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "dropbox.com") || strings.Contains(raw, "raw=1") {
		return raw
	}
	raw = strings.ReplaceAll(raw, "?dl=0", "?raw=1")
	return strings.ReplaceAll(raw, "dl=0", "raw=1")
}

// ValidateSourceURL checks that raw is an absolute http or https URL.
func ValidateSourceURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, services.Wrap(services.ErrValidation, "fetch", "validate url", "no URL provided", nil)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, services.Wrap(services.ErrFetch, "fetch", "validate url", "malformed URL", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return nil, services.Wrap(services.ErrFetch, "fetch", "validate url", fmt.Sprintf("unsupported scheme %q", parsed.Scheme), nil)
	}
	if parsed.Host == "" {
		return nil, services.Wrap(services.ErrFetch, "fetch", "validate url", "URL has no host", nil)
	}
	return parsed, nil
}
