package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"warden/internal/domain"
)

func TestCompose(t *testing.T) {
	r := Compose("example.com", "https://www.example.com/login", "abuse@warden.test", "[warden]")

	assert.Equal(t, "[warden] Report for example.com", r.Subject)
	assert.Equal(t, "abuse@warden.test", r.Recipient)
	assert.Contains(t, r.Body, "URL: https://www.example.com/login\n")
	assert.Contains(t, r.Body, "- What you saw\n- Why you believe it is unsafe or a false positive")
	assert.True(t, strings.HasSuffix(r.Body, "Thank you."))
}

func TestComposeFallbacks(t *testing.T) {
	r := Compose("", "", "", "")
	assert.Equal(t, "[acUsS denied] Report for website", r.Subject)
	assert.Equal(t, "support@example.com", r.Recipient)

	r = Compose("", "https://Shop.Example.org/cart", "", "")
	assert.Equal(t, "[acUsS denied] Report for shop.example.org", r.Subject)
}

func TestFromSettingsUsesRootDomain(t *testing.T) {
	record := &domain.ReputationRecord{Domain: "login.bank.example.co.uk"}
	r := FromSettings("https://login.bank.example.co.uk/", record)
	assert.Equal(t, "[acUsS denied] Report for example.co.uk", r.Subject)

	r = FromSettings("https://a.b.example.com/x", nil)
	assert.Equal(t, "[acUsS denied] Report for example.com", r.Subject)

	assert.True(t, strings.HasPrefix(r.MailtoURL(), "mailto:support@example.com?subject="))
}
