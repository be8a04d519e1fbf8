package support

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ExtractHost returns the lowercased hostname of a URL or bare host.
// Input that does not parse is returned trimmed, like the page address itself.
func ExtractHost(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	// Allow bare hostnames by prefixing a scheme for URL parsing.
	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}

	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Hostname() == "" {
		return strings.ToLower(trimmed)
	}

	return strings.Trim(strings.ToLower(parsed.Hostname()), ".")
}

// RootDomain returns the registrable domain (eTLD+1) of host.
// IP literals and hosts without a public suffix are returned unchanged.
func RootDomain(host string) string {
	host = ExtractHost(host)
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return root
}
