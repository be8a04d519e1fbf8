package config

import (
	"strings"
	"sync/atomic"

	"warden/internal/support"
)

// websiteBlocklistSet holds normalized hostnames that always raise an advisory.
var websiteBlocklistSet atomic.Value

func init() {
	websiteBlocklistSet.Store(make(map[string]struct{}))
}

// NormalizeHostList trims, lowercases and deduplicates host entries.
func NormalizeHostList(entries []string) []string {
	unique := make(map[string]struct{}, len(entries))
	normalized := make([]string, 0, len(entries))

	for _, raw := range entries {
		host := support.ExtractHost(raw)
		if host == "" {
			continue
		}
		if _, exists := unique[host]; exists {
			continue
		}
		unique[host] = struct{}{}
		normalized = append(normalized, host)
	}

	return normalized
}

// NewHostSet builds a lookup set from the provided entries.
func NewHostSet(entries []string) map[string]struct{} {
	normalized := NormalizeHostList(entries)
	set := make(map[string]struct{}, len(normalized))
	for _, host := range normalized {
		set[host] = struct{}{}
	}
	return set
}

func updateWebsiteBlocklist(entries []string) {
	websiteBlocklistSet.Store(NewHostSet(entries))
}

// IsWebsiteBlocked reports whether the URL or hostname matches the configured website blocklist.
func IsWebsiteBlocked(rawURL string) bool {
	return IsHostBlocked(support.ExtractHost(rawURL), websiteBlocklistSet.Load().(map[string]struct{}))
}

// IsHostBlocked matches host and every parent domain of host against set.
func IsHostBlocked(host string, set map[string]struct{}) bool {
	if host == "" || len(set) == 0 {
		return false
	}

	for candidate := host; candidate != ""; {
		if _, ok := set[candidate]; ok {
			return true
		}
		idx := strings.IndexByte(candidate, '.')
		if idx < 0 {
			break
		}
		candidate = candidate[idx+1:]
	}

	return false
}
