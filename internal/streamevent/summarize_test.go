package streamevent

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSummarizeToolInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		tool  string
		input string
		want  string
	}{
		{name: "bash", tool: "Bash", input: `{"command":"go test ./..."}`, want: "> go test ./..."},
		{name: "read", tool: "Read", input: `{"file_path":"/src/main.go"}`, want: "📄 /src/main.go"},
		{name: "edit", tool: "Edit", input: `{"file_path":"a.go","old_string":"x"}`, want: "✏️ a.go"},
		{name: "write", tool: "Write", input: `{"file_path":"b.go"}`, want: "📝 b.go"},
		{name: "glob", tool: "Glob", input: `{"pattern":"**/*.ts"}`, want: "🔍 **/*.ts"},
		{name: "grep with path", tool: "Grep", input: `{"pattern":"TODO","path":"src"}`, want: `🔎 "TODO" in src`},
		{name: "grep default path", tool: "Grep", input: `{"pattern":"TODO"}`, want: `🔎 "TODO" in .`},
		{name: "task", tool: "Task", input: `{"description":"explore repo"}`, want: "🤖 explore repo"},
		{name: "missing field", tool: "Read", input: `{}`, want: "📄 "},
		{name: "unknown tool", tool: "WebFetch", input: `{"url": "https://example.com"}`, want: `{"url":"https://example.com"}`},
		{name: "null input", tool: "Bash", input: `null`, want: ""},
		{name: "empty input", tool: "Bash", input: ``, want: ""},
		{name: "non-object input", tool: "Bash", input: `"ls"`, want: "> "},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := SummarizeToolInput(tc.tool, json.RawMessage(tc.input))
			if got != tc.want {
				t.Fatalf("summary mismatch: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestSummarizeToolInputTruncation(t *testing.T) {
	t.Parallel()

	bash := SummarizeToolInput("Bash", json.RawMessage(`{"command":"`+strings.Repeat("a", 300)+`"}`))
	if n := len([]rune(bash)); n != 150 {
		t.Fatalf("bash summary length mismatch: got %d want 150", n)
	}
	other := SummarizeToolInput("Other", json.RawMessage(`{"k":"`+strings.Repeat("b", 300)+`"}`))
	if n := len([]rune(other)); n != 100 {
		t.Fatalf("generic summary length mismatch: got %d want 100", n)
	}
}
