package streamevent

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
)

const (
	bashSummaryMax    = 150
	genericSummaryMax = 100
)

// SummarizeToolInput renders a one-line description of a tool invocation.
// Missing fields render as empty strings; it never fails.
func SummarizeToolInput(name string, input json.RawMessage) string {
	raw := bytes.TrimSpace(input)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	field := func(path string) string {
		return gjson.GetBytes(raw, path).String()
	}
	switch name {
	case "Bash":
		return slackgw.Truncate("> "+field("command"), bashSummaryMax)
	case "Read":
		return "📄 " + field("file_path")
	case "Edit":
		return "✏️ " + field("file_path")
	case "Write":
		return "📝 " + field("file_path")
	case "Glob":
		return "🔍 " + field("pattern")
	case "Grep":
		path := field("path")
		if path == "" {
			path = "."
		}
		return `🔎 "` + field("pattern") + `" in ` + path
	case "Task":
		return "🤖 " + field("description")
	default:
		return slackgw.Truncate(compactJSON(raw), genericSummaryMax)
	}
}
