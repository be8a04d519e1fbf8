package domain

import (
	"net/url"
	"strings"
)

// Report is a prefilled abuse report for the current site.
type Report struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Recipient string `json:"recipient"`
}

// MailtoURL renders the report as a mailto: link.
func (r Report) MailtoURL() string {
	return "mailto:" + r.Recipient +
		"?subject=" + encodeComponent(r.Subject) +
		"&body=" + encodeComponent(r.Body)
}

// encodeComponent escapes like encodeURIComponent: spaces become %20, not '+'.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
