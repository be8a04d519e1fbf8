package blocker

import (
	"bufio"
	"bytes"
	"net"
	"strings"

	"github.com/charmbracelet/log"
)

var reservedHosts = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"local":                 {},
	"broadcasthost":         {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
	"ip6-localnet":          {},
	"ip6-mcastprefix":       {},
	"ip6-allnodes":          {},
	"ip6-allrouters":        {},
	"ip6-allhosts":          {},
	"0.0.0.0":               {},
}

// ParseHostList extracts hostnames from hosts-file lines ("0.0.0.0 ads.example"),
// plain domain lines and "||domain^" filter rules. Comments, IP literals and
// reserved local names are skipped.
func ParseHostList(payload []byte) []string {
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 1024), 1024*1024)

	seen := make(map[string]struct{})
	out := make([]string, 0)

	add := func(candidate string) {
		host := normalizeHost(candidate)
		if host == "" {
			return
		}
		if _, dup := seen[host]; dup {
			return
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexAny(line, "#!"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "||") {
			rule := strings.TrimPrefix(line, "||")
			if end := strings.IndexAny(rule, "^/$"); end >= 0 {
				rule = rule[:end]
			}
			add(rule)
			continue
		}

		fields := strings.Fields(line)
		if net.ParseIP(fields[0]) != nil {
			for _, field := range fields[1:] {
				add(field)
			}
			continue
		}
		if len(fields) == 1 {
			add(fields[0])
		}
	}

	if err := scanner.Err(); err != nil {
		log.Warn("Host list scanner warning", "error", err)
	}

	return out
}

func normalizeHost(raw string) string {
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), ".")
	if host == "" || !strings.Contains(host, ".") {
		return ""
	}
	if _, reserved := reservedHosts[host]; reserved {
		return ""
	}
	if net.ParseIP(host) != nil {
		return ""
	}
	for _, r := range host {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '.' || r == '_') {
			return ""
		}
	}
	return host
}
