// Package worker launches the coding-agent wrapper script for one task run and
// streams its output line by line.
package worker

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yosuke0517/dev-assistant-agent/internal/command"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
)

var ErrEmptyCommand = errors.New("worker command is empty")

const (
	DefaultWorktreeDir = "/tmp/finegate-worktrees"
	DefaultCols        = 200
	DefaultRows        = 50
)

// DefaultCommand is the argv prefix used when none is configured.
func DefaultCommand() []string {
	return []string{"/bin/zsh", "./stealth-run.sh"}
}

// Invocation is everything one worker run needs to know.
type Invocation struct {
	Repo            string
	DisplayName     string
	IssueID         string
	BaseBranch      string
	ExtraPrompt     string
	BranchName      string
	FollowUpMessage string
	UserRequest     string
	RelatedRepos    []command.RelatedRepo
	Thread          slackgw.ThreadRef
}

type Result struct {
	ExitCode int
	Output   string
}

// Launcher runs one invocation to completion. onLine receives each cleaned,
// non-empty output line in order. An error means the worker could not be
// started or its output could not be read; a non-zero exit is not an error.
type Launcher interface {
	Launch(ctx context.Context, inv Invocation, onLine func(string)) (Result, error)
}

type Config struct {
	Command     []string
	Dir         string
	WorktreeDir string
	Cols        uint16
	Rows        uint16
}

func (c Config) withDefaults() Config {
	if len(c.Command) == 0 {
		c.Command = DefaultCommand()
	}
	if strings.TrimSpace(c.WorktreeDir) == "" {
		c.WorktreeDir = DefaultWorktreeDir
	}
	if c.Cols == 0 {
		c.Cols = DefaultCols
	}
	if c.Rows == 0 {
		c.Rows = DefaultRows
	}
	return c
}

// BuildArgs returns the full argv: command prefix, repo, issue, then the
// optional base branch and extra prompt.
func BuildArgs(cfg Config, inv Invocation) []string {
	cfg = cfg.withDefaults()
	args := append([]string(nil), cfg.Command...)
	args = append(args, inv.Repo, inv.IssueID)
	if inv.BaseBranch != "" {
		args = append(args, inv.BaseBranch)
	}
	if inv.ExtraPrompt != "" {
		args = append(args, inv.ExtraPrompt)
	}
	return args
}

// strippedEnv are variables that make a nested agent believe it runs inside
// another agent session.
var strippedEnv = map[string]bool{
	"CLAUDECODE":             true,
	"CLAUDE_CODE_SSE_PORT":   true,
	"CLAUDE_CODE_ENTRYPOINT": true,
}

// BuildEnv derives the child environment from base.
func BuildEnv(base []string, cfg Config, inv Invocation, now time.Time) []string {
	cfg = cfg.withDefaults()
	set := map[string]string{
		"CI":              "true",
		"FORCE_COLOR":     "1",
		"TERM":            "xterm-256color",
		"WORKTREE_PATH":   WorktreePath(cfg.WorktreeDir, inv, now),
		"SLACK_CHANNEL":   inv.Thread.Channel,
		"SLACK_THREAD_TS": inv.Thread.ThreadTS,
	}
	optional := []struct{ key, value string }{
		{"BRANCH_NAME", inv.BranchName},
		{"FOLLOW_UP_MESSAGE", inv.FollowUpMessage},
		{"USER_REQUEST", inv.UserRequest},
		{"RELATED_REPOS", command.JoinRelatedRepos(inv.RelatedRepos)},
	}
	for _, kv := range optional {
		if kv.value != "" {
			set[kv.key] = kv.value
		}
	}

	env := make([]string, 0, len(base)+len(set))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if strippedEnv[key] {
			continue
		}
		if _, overridden := set[key]; overridden {
			continue
		}
		env = append(env, entry)
	}
	for _, key := range []string{"CI", "FORCE_COLOR", "TERM", "WORKTREE_PATH", "SLACK_CHANNEL", "SLACK_THREAD_TS"} {
		env = append(env, key+"="+set[key])
	}
	for _, kv := range optional {
		if v, ok := set[kv.key]; ok {
			env = append(env, kv.key+"="+v)
		}
	}
	return env
}

// WorktreePath is a fresh per-run directory under dir named after the repo.
func WorktreePath(dir string, inv Invocation, now time.Time) string {
	name := strings.TrimSpace(inv.DisplayName)
	if name == "" {
		name = inv.Repo
	}
	return filepath.Join(dir, name+"-"+strconv.FormatInt(now.UnixMilli(), 10))
}
