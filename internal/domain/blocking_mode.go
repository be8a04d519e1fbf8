package domain

import "encoding/json"

type BlockingMode uint8

const (
	BlockingEnabled BlockingMode = iota
	BlockingDisabled
)

func (m BlockingMode) String() string {
	if m == BlockingDisabled {
		return "disabled"
	}
	return "enabled"
}

func (m BlockingMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}
