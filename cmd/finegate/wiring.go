package main

import (
	"context"
	"math"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/yosuke0517/dev-assistant-agent/internal/command"
	"github.com/yosuke0517/dev-assistant-agent/internal/configutil"
	"github.com/yosuke0517/dev-assistant-agent/internal/orchestrator"
	"github.com/yosuke0517/dev-assistant-agent/internal/runledger"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
	"github.com/yosuke0517/dev-assistant-agent/internal/statepaths"
	"github.com/yosuke0517/dev-assistant-agent/internal/worker"
)

func setDefaults() {
	viper.SetDefault("file_state_dir", statepaths.DefaultStateDir)

	viper.SetDefault("slack.post_max_retries", slackgw.DefaultMaxRetries)
	viper.SetDefault("slack.post_base_delay", slackgw.DefaultBaseDelay)
	viper.SetDefault("slack.poll_interval", slackgw.DefaultPollInterval)
	viper.SetDefault("slack.max_concurrency", 3)
	viper.SetDefault("slack.socket_mode", true)

	viper.SetDefault("task.max_attempts", orchestrator.DefaultMaxAttempts)
	viper.SetDefault("task.max_follow_ups", orchestrator.DefaultMaxFollowUps)
	viper.SetDefault("task.progress_interval", "60s")
	viper.SetDefault("task.decision_timeout", "3h")

	viper.SetDefault("worker.command", worker.DefaultCommand())
	viper.SetDefault("worker.worktree_dir", worker.DefaultWorktreeDir)
	viper.SetDefault("worker.cols", worker.DefaultCols)
	viper.SetDefault("worker.rows", worker.DefaultRows)

	viper.SetDefault("server.listen", "127.0.0.1:8787")
	viper.SetDefault("server.max_tasks", 1000)
	viper.SetDefault("ledger.enabled", true)
	viper.SetDefault("transcripts.max_age", "168h")
	viper.SetDefault("transcripts.max_files", 200)
	viper.SetDefault("ask.timeout", "30m")
	viper.SetDefault("logging.format", "auto")
}

func stateDirFromViper() (string, error) {
	return statepaths.Resolve(viper.GetString("file_state_dir"))
}

func slackFromViper() slackgw.Config {
	return slackgw.Config{
		BotToken:      strings.TrimSpace(viper.GetString("slack.bot_token")),
		AppToken:      strings.TrimSpace(viper.GetString("slack.app_token")),
		SigningSecret: strings.TrimSpace(viper.GetString("slack.signing_secret")),
		OwnerMemberID: strings.TrimSpace(viper.GetString("slack.owner_member_id")),
		APIURL:        strings.TrimSpace(viper.GetString("slack.api_url")),
		Channel:       strings.TrimSpace(viper.GetString("slack.channel")),
		ThreadTS:      strings.TrimSpace(viper.GetString("slack.thread_ts")),
		MaxRetries:    viper.GetInt("slack.post_max_retries"),
		BaseDelay:     viper.GetDuration("slack.post_base_delay"),
		PollInterval:  viper.GetDuration("slack.poll_interval"),
	}
}

func catalogFromViper() (*command.Catalog, error) {
	path := strings.TrimSpace(viper.GetString("repos.file"))
	if path == "" {
		return command.DefaultCatalog(), nil
	}
	path, err := statepaths.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	return command.LoadCatalog(path)
}

func workerConfigFromViper() worker.Config {
	dir, _ := statepaths.ExpandHome(viper.GetString("worker.dir"))
	worktrees, _ := statepaths.ExpandHome(viper.GetString("worker.worktree_dir"))
	return worker.Config{
		Command:     configutil.FlagOrViperStringSlice(nil, "", "worker.command"),
		Dir:         dir,
		WorktreeDir: worktrees,
		Cols:        termSize(viper.GetInt("worker.cols")),
		Rows:        termSize(viper.GetInt("worker.rows")),
	}
}

// termSize clamps a configured terminal dimension; 0 selects the worker default.
func termSize(v int) uint16 {
	if v <= 0 || v > math.MaxUint16 {
		return 0
	}
	return uint16(v)
}

func orchestratorOptionsFromViper() orchestrator.Options {
	return orchestrator.Options{
		MaxAttempts:      viper.GetInt("task.max_attempts"),
		MaxFollowUps:     viper.GetInt("task.max_follow_ups"),
		ProgressInterval: viper.GetDuration("task.progress_interval"),
		DecisionTimeout:  viper.GetDuration("task.decision_timeout"),
		PollInterval:     viper.GetDuration("slack.poll_interval"),
		MentionMemberID:  strings.TrimSpace(viper.GetString("slack.owner_member_id")),
	}
}

// ledgerFromViper opens the task ledger, or returns nil when it is disabled.
func ledgerFromViper(ctx context.Context, stateDir string) (*runledger.Ledger, error) {
	if !viper.GetBool("ledger.enabled") {
		return nil, nil
	}
	path := strings.TrimSpace(viper.GetString("ledger.path"))
	if path != "" {
		expanded, err := statepaths.ExpandHome(path)
		if err != nil {
			return nil, err
		}
		path = expanded
	} else {
		path = filepath.Join(stateDir, runledger.DefaultFileName)
	}
	path, err := runledger.ResolvePath(path, stateDir)
	if err != nil {
		return nil, err
	}
	return runledger.Open(ctx, runledger.DefaultConfig(path))
}
