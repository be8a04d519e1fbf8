package blocker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHostList(t *testing.T) {
	payload := []byte(`# StevenBlack style header
127.0.0.1 localhost
127.0.0.1 localhost.localdomain
255.255.255.255 broadcasthost
::1 ip6-localhost
0.0.0.0 0.0.0.0

0.0.0.0 ads.example.com # trailing comment
0.0.0.0 Tracker.Example.NET. metrics.example.org
plain.example.io
||filter.example.com^
||path.example.com/banner
! adblock comment
not a domain line
0.0.0.0 ads.example.com
10.0.0.1
`)

	got := ParseHostList(payload)

	assert.Equal(t, []string{
		"ads.example.com",
		"tracker.example.net",
		"metrics.example.org",
		"plain.example.io",
		"filter.example.com",
		"path.example.com",
	}, got)
}

func TestParseHostListEmpty(t *testing.T) {
	assert.Empty(t, ParseHostList(nil))
	assert.Empty(t, ParseHostList([]byte("# only comments\n\n")))
}
