// Package command parses the text a human types to start a task.
package command

import (
	"regexp"
	"strings"
)

var (
	delimiterPattern = regexp.MustCompile(`[,、 ]+`)
	relatedPattern   = regexp.MustCompile(`--related\s+(\S+)`)
	spacesPattern    = regexp.MustCompile(`\s{2,}`)
)

// Input is the positional part of a task command:
// "<repo> <issue> [base-branch] [free-form request...]".
type Input struct {
	Repo        string
	IssueID     string
	BaseBranch  string
	UserRequest string
}

type RelatedRepo struct {
	Name   string `json:"name" yaml:"name"`
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`
}

// String renders "name" or "name:branch".
func (r RelatedRepo) String() string {
	if r.Branch == "" {
		return r.Name
	}
	return r.Name + ":" + r.Branch
}

// ParseInput splits at most three leading fields off raw; whatever follows is
// the user request. A base branch spelled "undefined" is treated as absent.
func ParseInput(raw string) Input {
	remaining := strings.TrimSpace(raw)
	if remaining == "" {
		return Input{}
	}
	parts := make([]string, 0, 3)
	for i := 0; i < 3 && remaining != ""; i++ {
		loc := delimiterPattern.FindStringIndex(remaining)
		if loc == nil {
			parts = append(parts, remaining)
			remaining = ""
			break
		}
		parts = append(parts, remaining[:loc[0]])
		remaining = remaining[loc[1]:]
	}
	in := Input{UserRequest: remaining}
	if len(parts) > 0 {
		in.Repo = parts[0]
	}
	if len(parts) > 1 {
		in.IssueID = parts[1]
	}
	if len(parts) > 2 && parts[2] != "undefined" {
		in.BaseBranch = parts[2]
	}
	return in
}

// ExtractRelatedRepos removes every "--related name[:branch]" option from text
// and returns the cleaned text together with the repos in order.
func ExtractRelatedRepos(text string) (string, []RelatedRepo) {
	var repos []RelatedRepo
	cleaned := relatedPattern.ReplaceAllStringFunc(text, func(match string) string {
		spec := relatedPattern.FindStringSubmatch(match)[1]
		name, branch, _ := strings.Cut(spec, ":")
		repos = append(repos, RelatedRepo{Name: name, Branch: branch})
		return ""
	})
	cleaned = spacesPattern.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned), repos
}

// JoinRelatedRepos renders repos as a comma-separated "name[:branch]" list.
func JoinRelatedRepos(repos []RelatedRepo) string {
	parts := make([]string, 0, len(repos))
	for _, r := range repos {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ",")
}

// RawCommand reconstructs the "/do" text for a task so a human can rerun it.
func RawCommand(repo, issueID, baseBranch string) string {
	cmd := repo + " " + issueID
	if baseBranch != "" {
		cmd += " " + baseBranch
	}
	return cmd
}
