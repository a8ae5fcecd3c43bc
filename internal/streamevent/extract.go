package streamevent

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

const (
	DefaultErrorSummary = "the worker exited with an unknown error (check the logs)"
	MaxTurnsMessage     = "reached the maximum number of turns"

	errorSummaryMaxLines = 5
	errorLineMinLength   = 5
)

var (
	errorKeywordPattern = regexp.MustCompile(`error|Error|エラー|失敗`)
	prURLPattern        = regexp.MustCompile(`https://(?:github\.com/[^\s"]+/pull/\d+|[^\s"]+\.backlog\.(?:jp|com)/[^\s"]+/pullRequests/\d+)`)
)

// CleanLine strips terminal escape sequences and carriage returns from a line of
// PTY output and trims surrounding whitespace.
func CleanLine(raw string) string {
	line := ansi.Strip(raw)
	line = strings.ReplaceAll(line, "\r", "")
	return strings.TrimSpace(line)
}

func cleanLines(output string) []string {
	lines := strings.Split(ansi.Strip(output), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(strings.ReplaceAll(line, "\r", ""))
	}
	return lines
}

// ExtractErrorSummary collects error evidence from a worker transcript and
// returns the last few entries, or DefaultErrorSummary when nothing was found.
func ExtractErrorSummary(output string) string {
	var errs []string
	for _, line := range cleanLines(output) {
		ev, ok := Parse(line)
		if !ok {
			if errorKeywordPattern.MatchString(line) && len([]rune(line)) > errorLineMinLength {
				errs = append(errs, line)
			}
			continue
		}
		switch ev.Type {
		case TypeUser:
			if ev.Message == nil {
				continue
			}
			for _, block := range ev.Message.Content {
				if !block.IsError {
					continue
				}
				if text := block.ContentText(); text != "" {
					errs = append(errs, text)
				}
			}
		case TypeResult:
			if ev.Subtype == SubtypeErrorMaxTurns {
				errs = append(errs, MaxTurnsMessage)
			}
			if ev.Subtype != SubtypeSuccess && ev.Result != "" {
				errs = append(errs, ev.Result)
			}
		}
	}
	if len(errs) == 0 {
		return DefaultErrorSummary
	}
	if len(errs) > errorSummaryMaxLines {
		errs = errs[len(errs)-errorSummaryMaxLines:]
	}
	return strings.Join(errs, "\n")
}

// ExtractResultText returns the text of the last successful result event.
func ExtractResultText(output string) (string, bool) {
	lines := cleanLines(output)
	for i := len(lines) - 1; i >= 0; i-- {
		ev, ok := Parse(lines[i])
		if !ok {
			continue
		}
		if ev.Type == TypeResult && ev.Subtype == SubtypeSuccess && ev.Result != "" {
			return ev.Result, true
		}
	}
	return "", false
}

// ExtractLastPRURL returns the last pull-request URL (GitHub or Backlog) found
// anywhere in output.
func ExtractLastPRURL(output string) (string, bool) {
	matches := prURLPattern.FindAllString(output, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1], true
}
