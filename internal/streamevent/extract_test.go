package streamevent

import (
	"strings"
	"testing"
)

func TestExtractErrorSummary(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		output string
		want   string
	}{
		{
			name: "tool result error",
			output: strings.Join([]string{
				`{"type":"system","session_id":"s"}`,
				`{"type":"user","message":{"content":[{"type":"tool_result","is_error":true,"content":"MCP connection refused"}]}}`,
			}, "\n"),
			want: "MCP connection refused",
		},
		{
			name:   "max turns",
			output: `{"type":"result","subtype":"error_max_turns","num_turns":50}`,
			want:   MaxTurnsMessage,
		},
		{
			name:   "max turns with result text",
			output: `{"type":"result","subtype":"error_max_turns","result":"gave up"}`,
			want:   MaxTurnsMessage + "\ngave up",
		},
		{
			name:   "successful result ignored",
			output: `{"type":"result","subtype":"success","result":"done"}`,
			want:   DefaultErrorSummary,
		},
		{
			name:   "non json error line with ansi",
			output: "\x1b[31mError: worktree already exists\x1b[0m\r\nok\n",
			want:   "Error: worktree already exists",
		},
		{
			name:   "japanese keyword",
			output: "git push に失敗しました",
			want:   "git push に失敗しました",
		},
		{
			name:   "short keyword line ignored",
			output: "error",
			want:   DefaultErrorSummary,
		},
		{
			name:   "nothing",
			output: "",
			want:   DefaultErrorSummary,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractErrorSummary(tc.output); got != tc.want {
				t.Fatalf("summary mismatch: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestExtractErrorSummaryKeepsLastFive(t *testing.T) {
	t.Parallel()

	var lines []string
	for i := 1; i <= 8; i++ {
		lines = append(lines, "Error number "+string(rune('0'+i)))
	}
	got := ExtractErrorSummary(strings.Join(lines, "\n"))
	want := strings.Join(lines[3:], "\n")
	if got != want {
		t.Fatalf("summary mismatch: got %q want %q", got, want)
	}
}

func TestExtractResultText(t *testing.T) {
	t.Parallel()

	output := strings.Join([]string{
		`{"type":"result","subtype":"success","result":"first"}`,
		`plain line`,
		`{"type":"result","subtype":"success","result":"second"}`,
		`{"type":"result","subtype":"error_during_execution","result":"bad"}`,
		`{"type":"result","subtype":"success","result":""}`,
	}, "\r\n")
	got, ok := ExtractResultText(output)
	if !ok || got != "second" {
		t.Fatalf("result mismatch: got %q ok=%v", got, ok)
	}

	if _, ok := ExtractResultText("no events here"); ok {
		t.Fatalf("expected no result")
	}
}

func TestExtractLastPRURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		output string
		want   string
		ok     bool
	}{
		{name: "github", output: "created https://github.com/acme/app/pull/123 done", want: "https://github.com/acme/app/pull/123", ok: true},
		{name: "backlog jp", output: "PR: https://acme.backlog.jp/git/PROJ/app/pullRequests/45", want: "https://acme.backlog.jp/git/PROJ/app/pullRequests/45", ok: true},
		{name: "backlog com", output: "https://acme.backlog.com/git/PROJ/app/pullRequests/7", want: "https://acme.backlog.com/git/PROJ/app/pullRequests/7", ok: true},
		{name: "inside json string", output: `{"result":"see https://github.com/acme/app/pull/9"}`, want: "https://github.com/acme/app/pull/9", ok: true},
		{name: "last wins", output: "https://github.com/a/b/pull/1\nhttps://github.com/a/b/pull/2", want: "https://github.com/a/b/pull/2", ok: true},
		{name: "none", output: "task finished, sending report", ok: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ExtractLastPRURL(tc.output)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("url mismatch: got %q ok=%v want %q ok=%v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestCleanLine(t *testing.T) {
	t.Parallel()

	if got := CleanLine("\x1b[1;32m✔ done\x1b[0m\r"); got != "✔ done" {
		t.Fatalf("CleanLine mismatch: got %q", got)
	}
}
