// Package streamevent interprets the newline-delimited JSON event stream the
// coding agent writes to stdout.
package streamevent

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	TypeSystem    = "system"
	TypeAssistant = "assistant"
	TypeUser      = "user"
	TypeResult    = "result"
	// TypeRaw marks a line that was not a JSON object.
	TypeRaw = "raw"
)

const (
	SubtypeSuccess       = "success"
	SubtypeErrorMaxTurns = "error_max_turns"
)

type Event struct {
	Type         string   `json:"type"`
	Subtype      string   `json:"subtype,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	Message      *Message `json:"message,omitempty"`
	CostUSD      *float64 `json:"cost_usd,omitempty"`
	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"`
	NumTurns     int      `json:"num_turns,omitempty"`
	DurationMS   int64    `json:"duration_ms,omitempty"`
	Result       string   `json:"result,omitempty"`
	IsError      bool     `json:"is_error,omitempty"`

	Raw string `json:"-"`
}

type Message struct {
	Content []ContentBlock `json:"content,omitempty"`
}

type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ContentText renders a tool_result content payload: a JSON string is unquoted,
// anything else is returned as compact JSON.
func (b ContentBlock) ContentText() string {
	raw := bytes.TrimSpace(b.Content)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return compactJSON(raw)
}

// Cost returns the reported cost, preferring cost_usd.
func (e Event) Cost() (float64, bool) {
	if e.CostUSD != nil {
		return *e.CostUSD, true
	}
	if e.TotalCostUSD != nil {
		return *e.TotalCostUSD, true
	}
	return 0, false
}

// Parse decodes one stream line. It reports false for anything that is not a
// JSON object.
func Parse(line string) (Event, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		return Event{}, false
	}
	return ev, true
}

func compactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
