package broker

import (
	"bytes"
	"encoding/json"
	"strings"

	"warden/internal/domain"
	"warden/internal/support"
)

// Discriminator values understood on the inter-context channel.
const (
	TextNeedIPInfo      = "Need IP Info"
	TextDisableBlocking = "Disable ad blocking"
	TextEnableBlocking  = "Enable ad blocking"
	TypeDeliverRecord   = "Reputation Record"
	TypeProceed         = "acuss-denied:proceed-current-site"
)

type Kind uint8

const (
	KindUnrecognized Kind = iota
	KindQuery
	KindDeliver
	KindSetBlocking
	KindProceed
	// KindMode is only issued in-process; no wire text maps to it.
	KindMode
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindDeliver:
		return "deliver"
	case KindSetBlocking:
		return "set_blocking"
	case KindProceed:
		return "proceed"
	case KindMode:
		return "mode"
	}
	return "unrecognized"
}

// Message is the normalized form of every request the broker accepts.
type Message struct {
	Kind   Kind
	Text   string
	Mode   domain.BlockingMode
	Record *domain.ReputationRecord
	Host   string
	URL    string
	// Reason explains why a message was unrecognized.
	Reason string
}

func unrecognized(reason string) Message {
	return Message{Kind: KindUnrecognized, Reason: reason}
}

// FromText maps a discriminator string to a message. Any non-empty text
// other than the query and disable strings enables blocking.
func FromText(text string) Message {
	switch text {
	case "":
		return unrecognized("empty message text")
	case TextNeedIPInfo:
		return Message{Kind: KindQuery, Text: text}
	case TextDisableBlocking:
		return Message{Kind: KindSetBlocking, Text: text, Mode: domain.BlockingDisabled}
	default:
		// TODO: confirm with product whether unknown text should really enable blocking.
		return Message{Kind: KindSetBlocking, Text: text, Mode: domain.BlockingEnabled}
	}
}

// ParseMessage normalizes a raw channel payload: a JSON string, or an object
// discriminated by "text" (preferred) or "type".
func ParseMessage(raw []byte) Message {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return unrecognized("empty message")
	}
	if !json.Valid(trimmed) {
		return unrecognized("message is not valid JSON")
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return unrecognized("message is not a string")
		}
		return FromText(text)
	case '{':
		return parseObject(trimmed)
	}
	return unrecognized("message must be a string or an object")
}

func parseObject(raw []byte) Message {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return unrecognized("message object could not be decoded")
	}

	discriminator, ok := stringField(fields, "text")
	if !ok {
		discriminator, _ = stringField(fields, "type")
	}

	switch {
	case discriminator == TypeProceed:
		return parseProceed(fields)
	case discriminator == TypeDeliverRecord, discriminator == "" && fields["record"] != nil:
		return parseRecord(fields["record"])
	case discriminator == "" && fields["domain"] != nil:
		return parseRecord(raw)
	}

	return FromText(discriminator)
}

func parseProceed(fields map[string]json.RawMessage) Message {
	rawURL, _ := stringField(fields, "url")
	host, _ := stringField(fields, "host")
	if host == "" {
		host = support.ExtractHost(rawURL)
	}
	host = support.ExtractHost(host)
	if host == "" {
		return unrecognized("proceed message without host or url")
	}
	return Message{Kind: KindProceed, Text: TypeProceed, Host: host, URL: rawURL}
}

func parseRecord(raw json.RawMessage) Message {
	if len(raw) == 0 || raw[0] != '{' {
		return unrecognized("record must be an object")
	}
	var record domain.ReputationRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return unrecognized("record could not be decoded: " + err.Error())
	}
	if strings.TrimSpace(record.Domain) == "" {
		return unrecognized("record without domain")
	}
	return Message{Kind: KindDeliver, Record: &record}
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}

// EncodeDelivery builds the wire form of a record delivery.
func EncodeDelivery(record domain.ReputationRecord) ([]byte, error) {
	return json.Marshal(struct {
		Type   string                  `json:"type"`
		Record domain.ReputationRecord `json:"record"`
	}{Type: TypeDeliverRecord, Record: record})
}
