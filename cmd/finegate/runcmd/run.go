package runcmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yosuke0517/dev-assistant-agent/internal/command"
	"github.com/yosuke0517/dev-assistant-agent/internal/configutil"
	"github.com/yosuke0517/dev-assistant-agent/internal/dispatch"
	"github.com/yosuke0517/dev-assistant-agent/internal/orchestrator"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackhttp"
	"github.com/yosuke0517/dev-assistant-agent/internal/statepaths"
	"github.com/yosuke0517/dev-assistant-agent/internal/worker"
)

// ExitError carries the worker's exit code out of the command.
type ExitError struct {
	Code int
}

func (e ExitError) Error() string {
	return fmt.Sprintf("task ended with exit code %d", e.Code)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <repo> <issue> [base-branch] [request...]",
		Short: "Run one task in the foreground and report it to Slack",
		RunE: func(cmd *cobra.Command, args []string) error {
			related, err := cmd.Flags().GetStringArray("related")
			if err != nil {
				return err
			}
			text, _ := cmd.Flags().GetString("text")
			branch, _ := cmd.Flags().GetString("branch")

			cfg := slackFromViper()
			cfg.Channel = strings.TrimSpace(configutil.FlagOrViperString(cmd, "channel", "slack.channel"))
			cfg.ThreadTS = strings.TrimSpace(configutil.FlagOrViperString(cmd, "thread-ts", "slack.thread_ts"))

			req, err := buildRequest(args, text, related, branch, cfg.Channel)
			if err != nil {
				return err
			}

			logger, err := loggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			stateDir, err := stateDirFromViper()
			if err != nil {
				return err
			}
			if err := statepaths.EnsureSecureDir(stateDir); err != nil {
				return err
			}
			catalog, err := catalogFromViper()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			gw, _ := cfg.Connect(ctx, logger)
			if cfg.BotToken == "" {
				logger.Warn("run_headless", "reason", "slack.bot_token is not set")
			}

			opts := dispatch.Options{
				MaxConcurrency: 1,
				Catalog:        catalog,
				DefaultChannel: cfg.Channel,
				Orchestrator:   orchestratorOptionsFromViper(),
				Stdout:         cmd.OutOrStdout(),
				Logger:         logger,
			}
			ledger, err := ledgerFromViper(ctx, stateDir)
			if err != nil {
				return err
			}
			if ledger != nil {
				defer func() { _ = ledger.Close() }()
				opts.Recorder = ledger
			}
			transcriptDir := filepath.Join(stateDir, "transcripts")
			if err := os.MkdirAll(transcriptDir, 0o700); err == nil {
				opts.TranscriptDir = transcriptDir
			}

			launcher := worker.NewPTYLauncher(workerConfig(cmd), logger)
			out, err := dispatch.New(ctx, gw, launcher, opts).Run(ctx, req, cfg.ThreadTS)
			if err != nil {
				return err
			}
			return exitFor(out)
		},
	}

	cmd.Flags().String("text", "", "Whole task command as one string, e.g. \"agent 12 main fix the login\".")
	cmd.Flags().String("channel", "", "Slack channel to report into (defaults to slack.channel).")
	cmd.Flags().String("thread-ts", "", "Resume this Slack thread instead of posting a new parent message.")
	cmd.Flags().String("branch", "", "Branch name for the worktree.")
	cmd.Flags().StringArray("related", nil, "Related repository as name[:branch] (repeatable).")
	cmd.Flags().StringSlice("worker-command", nil, "Worker argv prefix (defaults to worker.command).")

	return cmd
}

func workerConfig(cmd *cobra.Command) worker.Config {
	cfg := workerConfigFromViper()
	if argv := configutil.FlagOrViperStringSlice(cmd, "worker-command", "worker.command"); len(argv) > 0 {
		cfg.Command = argv
	}
	return cfg
}

// buildRequest turns positional args or --text into a start request.
func buildRequest(args []string, text string, related []string, branch, channel string) (slackhttp.StartRequest, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		text = strings.Join(args, " ")
	} else if len(args) > 0 {
		return slackhttp.StartRequest{}, fmt.Errorf("use either --text or positional arguments, not both")
	}
	req, err := slackhttp.ParseCommandText(text, channel)
	if err != nil {
		return slackhttp.StartRequest{}, fmt.Errorf("%w: usage: run <repo> <issue> [base-branch] [request...]", err)
	}
	for _, raw := range related {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, b, _ := strings.Cut(raw, ":")
		req.RelatedRepos = append(req.RelatedRepos, command.RelatedRepo{Name: name, Branch: b})
	}
	req.BranchName = strings.TrimSpace(branch)
	req.Source = "cli"
	return req, nil
}

func exitFor(out orchestrator.Outcome) error {
	if out.ExitCode != 0 {
		return ExitError{Code: out.ExitCode}
	}
	if out.Aborted {
		return ExitError{Code: 1}
	}
	return nil
}
