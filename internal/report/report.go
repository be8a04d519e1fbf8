package report

import (
	"fmt"
	"strings"

	"warden/internal/config"
	"warden/internal/domain"
	"warden/internal/support"
)

const (
	defaultRecipient = "support@example.com"
	defaultPrefix    = "[acUsS denied]"
)

// Compose builds the prefilled report for a site. An empty host falls back
// to the host of pageURL, then to the word "website".
func Compose(host, pageURL, recipient, prefix string) domain.Report {
	if host == "" {
		host = support.ExtractHost(pageURL)
	}
	subjectHost := host
	if subjectHost == "" {
		subjectHost = "website"
	}
	if strings.TrimSpace(recipient) == "" {
		recipient = defaultRecipient
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultPrefix
	}

	var body strings.Builder
	body.WriteString("I would like to report this website:\n\n")
	fmt.Fprintf(&body, "URL: %s\n\n", pageURL)
	body.WriteString("Details:\n- What you saw\n- Why you believe it is unsafe or a false positive\n\n")
	body.WriteString("Thank you.")

	return domain.Report{
		Subject:   fmt.Sprintf("%s Report for %s", prefix, subjectHost),
		Body:      body.String(),
		Recipient: recipient,
	}
}

// FromSettings composes a report addressed with the configured recipient.
// When record is set, its root domain names the site.
func FromSettings(pageURL string, record *domain.ReputationRecord) domain.Report {
	cfg := config.GetConfig()
	host := ""
	if record != nil {
		host = record.RootDomain
		if host == "" {
			host = support.RootDomain(record.Domain)
		}
	}
	if host == "" {
		host = support.RootDomain(pageURL)
	}
	return Compose(host, pageURL, cfg.Report.Recipient, cfg.Report.SubjectPrefix)
}
