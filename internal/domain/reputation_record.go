package domain

import "strings"

// ReputationRecord is the reputation verdict for the site a page was loaded from.
// Field names follow the reputation service response.
type ReputationRecord struct {
	Domain     string  `json:"domain"`
	RootDomain string  `json:"root_domain,omitempty"`
	IPAddress  *string `json:"ip_address"`
	Unsafe     bool    `json:"unsafe"`
	Suspicious bool    `json:"suspicious,omitempty"`
	Phishing   bool    `json:"phishing"`
	Malware    bool    `json:"malware"`
	Spamming   bool    `json:"spamming"`
	RiskScore  float64 `json:"risk_score"`
	Country    string  `json:"country,omitempty"`
}

// IP returns the resolved address or an empty string when the service had none.
func (r ReputationRecord) IP() string {
	if r.IPAddress == nil {
		return ""
	}
	return strings.TrimSpace(*r.IPAddress)
}

// ScanTarget is the host a security scan should run against.
func (r ReputationRecord) ScanTarget() string {
	if r.RootDomain != "" {
		return r.RootDomain
	}
	return r.Domain
}

// Advisory is a user-facing warning raised for a risky site.
type Advisory struct {
	Domain  string           `json:"domain"`
	Host    string           `json:"host"`
	Message string           `json:"message"`
	Record  ReputationRecord `json:"record"`
}

func NewAdvisory(host string, record ReputationRecord) Advisory {
	name := record.Domain
	if name == "" {
		name = host
	}
	return Advisory{
		Domain:  name,
		Host:    host,
		Message: "The website you are trying to visit (" + name + ") is known to be unsafe. It is recommended you close it.",
		Record:  record,
	}
}
