package app

import (
	"net/url"
	"strings"
)

// extractOriginHost reduces an Origin header value to its "host[:port]" part,
// lowercased. Values that do not parse as URLs are matched as given.
func extractOriginHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return strings.ToLower(origin)
	}
	return strings.ToLower(u.Host)
}

// matchOriginPattern reports whether host matches an allowed-origin pattern.
// Patterns are exact hosts, "*" for any, "*.domain" for subdomains, or
// "host:*" for any port.
func matchOriginPattern(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	switch {
	case pattern == "*" || pattern == host:
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(host, pattern[1:])
	case strings.HasSuffix(pattern, ":*"):
		return strings.HasPrefix(host, pattern[:len(pattern)-1])
	}
	return false
}
