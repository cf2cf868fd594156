package domain

import "encoding/json"

// Signal is the external trading signal that triggered a trade. The raw payload
// is carried verbatim so dependent subscriber accounts can be re-routed the
// exact signal after a delayed success.
type Signal struct {
	SourceAccountID string          `json:"source_account_id"`
	Market          string          `json:"market"`
	Action          TradeAction     `json:"action"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}
