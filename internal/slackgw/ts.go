package slackgw

import (
	"strconv"
	"strings"
)

// CompareTS orders Slack message tokens ("1739667000.000050"). Seconds and the
// fractional part are compared numerically; tokens that do not parse fall back
// to plain string comparison. An empty token sorts before everything else.
func CompareTS(a, b string) int {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}
	aSec, aFrac, okA := splitTS(a)
	bSec, bFrac, okB := splitTS(b)
	if !okA || !okB {
		return strings.Compare(a, b)
	}
	switch {
	case aSec < bSec:
		return -1
	case aSec > bSec:
		return 1
	}
	// Right-pad to equal width so "5", "500000" and "5000000" are the same fraction.
	width := max(len(aFrac), len(bFrac))
	return strings.Compare(padFrac(aFrac, width), padFrac(bFrac, width))
}

func splitTS(ts string) (int64, string, bool) {
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return 0, "", false
	}
	for _, r := range fracPart {
		if r < '0' || r > '9' {
			return 0, "", false
		}
	}
	return sec, fracPart, true
}

func padFrac(frac string, width int) string {
	if len(frac) >= width {
		return frac
	}
	return frac + strings.Repeat("0", width-len(frac))
}
