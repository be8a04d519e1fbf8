package server

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"warden/internal/config"
	"warden/internal/support"
)

const settingsReloadTimeout = 2 * time.Minute

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	cfg := config.GetConfig()
	cfg.Reputation.APIKey = redact(cfg.Reputation.APIKey)
	cfg.GeoLite.LicenseKey = redact(cfg.GeoLite.LicenseKey)
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {
	previous := config.GetConfig()

	var next config.Config
	if err := decodeBody(w, r, &next); err != nil {
		writeError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	// Redacted or omitted secrets keep their stored value.
	if next.Reputation.APIKey == "" || next.Reputation.APIKey == redactedSecret {
		next.Reputation.APIKey = previous.Reputation.APIKey
	}
	if next.GeoLite.LicenseKey == "" || next.GeoLite.LicenseKey == redactedSecret {
		next.GeoLite.LicenseKey = previous.GeoLite.LicenseKey
	}

	next.WebsiteBlocklist = config.NormalizeHostList(next.WebsiteBlocklist)
	blockedSet := config.NewHostSet(next.WebsiteBlocklist)

	blocked := make(map[string][]string)
	if hits := findBlockedURLs(next.Blocking.Sources, blockedSet); len(hits) > 0 {
		blocked["blocking_sources"] = hits
	}
	if hits := findBlockedURLs([]string{next.Reputation.BaseURL}, blockedSet); len(hits) > 0 {
		blocked["reputation"] = hits
	}
	if hits := findBlockedURLs([]string{next.Scanner.BaseURL}, blockedSet); len(hits) > 0 {
		blocked["scanner"] = hits
	}
	if len(blocked) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "one or more URLs are on the website blocklist",
			"blocked_websites":  blocked,
			"website_blocklist": next.WebsiteBlocklist,
		})
		return
	}

	config.SetConfig(next)

	if s.deps.Blocklist != nil && !slices.Equal(previous.Blocking.Sources, next.Blocking.Sources) {
		go func() {
			ctx, cancel := context.WithTimeout(s.baseCtx, settingsReloadTimeout)
			defer cancel()
			if _, err := s.deps.Blocklist.Load(ctx, "config-save"); err != nil {
				log.Warn("Blocklist reload after settings change failed", "error", err)
			}
		}()
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Configuration updated successfully"})
}

const redactedSecret = "********"

func redact(secret string) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}
	return redactedSecret
}

func findBlockedURLs(urls []string, set map[string]struct{}) []string {
	var hits []string
	for _, raw := range urls {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if config.IsHostBlocked(support.ExtractHost(raw), set) && !slices.Contains(hits, raw) {
			hits = append(hits, raw)
		}
	}
	return hits
}
