package slackcmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yosuke0517/dev-assistant-agent/internal/configutil"
	"github.com/yosuke0517/dev-assistant-agent/internal/daemonruntime"
	"github.com/yosuke0517/dev-assistant-agent/internal/dispatch"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackhttp"
	"github.com/yosuke0517/dev-assistant-agent/internal/statepaths"
	"github.com/yosuke0517/dev-assistant-agent/internal/worker"
	"golang.org/x/sync/errgroup"
)

const transcriptsDirName = "transcripts"

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept tasks from Slack (HTTP and Socket Mode) and the task API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := loggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			cfg := slackFromViper()
			cfg.BotToken = strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-bot-token", "slack.bot_token"))
			if cfg.BotToken == "" {
				return fmt.Errorf("missing slack.bot_token (set via --slack-bot-token, FINEGATE_SLACK_BOT_TOKEN or SLACK_BOT_TOKEN)")
			}
			cfg.AppToken = strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-app-token", "slack.app_token"))
			cfg.SigningSecret = strings.TrimSpace(configutil.FlagOrViperString(cmd, "slack-signing-secret", "slack.signing_secret"))
			if !configutil.FlagOrViperBool(cmd, "socket-mode", "slack.socket_mode") {
				cfg.AppToken = ""
			}

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
			gw, api := cfg.Connect(ctx, logger)
			launcher := worker.NewPTYLauncher(workerConfig(cmd), logger)

			ledger, err := ledgerFromViper(ctx, stateDir)
			if err != nil {
				return err
			}
			var recorder dispatch.Recorder
			if ledger != nil {
				defer func() { _ = ledger.Close() }()
				lost, err := ledger.RecoverOrphaned(ctx)
				if err != nil {
					return err
				}
				if lost > 0 {
					logger.Warn("ledger_orphans_recovered", "count", lost)
				}
				recorder = ledger
			}

			transcriptDir := filepath.Join(stateDir, transcriptsDirName)
			if err := os.MkdirAll(transcriptDir, 0o700); err != nil {
				return err
			}
			if n, err := statepaths.Prune(transcriptDir, viper.GetDuration("transcripts.max_age"), viper.GetInt("transcripts.max_files")); err != nil {
				logger.Warn("transcripts_prune_error", "error", err.Error())
			} else if n > 0 {
				logger.Info("transcripts_pruned", "count", n)
			}

			maxConc := configutil.FlagOrViperInt(cmd, "max-concurrency", "slack.max_concurrency")
			store := daemonruntime.NewMemoryStore(viper.GetInt("server.max_tasks"))
			disp := dispatch.New(ctx, gw, launcher, dispatch.Options{
				MaxConcurrency: maxConc,
				Catalog:        catalog,
				DefaultChannel: cfg.Channel,
				Orchestrator:   orchestratorOptionsFromViper(),
				Store:          store,
				Recorder:       recorder,
				TranscriptDir:  transcriptDir,
				Logger:         logger,
			})

			var opener slackhttp.ViewOpener
			if api != nil {
				opener = slackhttp.ClientViewOpener{Client: api}
			}
			handler := slackhttp.New(disp, opener, slackhttp.Options{
				SigningSecret: cfg.SigningSecret,
				Catalog:       catalog,
				Logger:        logger,
			})

			listen := strings.TrimSpace(configutil.FlagOrViperString(cmd, "listen", "server.listen"))
			if _, err := daemonruntime.StartServer(ctx, logger, daemonruntime.ServerOptions{
				Listen: listen,
				Routes: daemonruntime.RoutesOptions{
					AuthToken:     strings.TrimSpace(viper.GetString("server.auth_token")),
					TaskReader:    store,
					Submit:        disp.Submit,
					HealthEnabled: true,
				},
				Mount: func(mux *http.ServeMux) {
					handler.Register(mux)
				},
			}); err != nil {
				return err
			}

			logger.Info("serve_start",
				"state_dir", stateDir,
				"listen", listen,
				"max_concurrency", maxConc,
				"socket_mode", cfg.AppToken != "",
				"signing_secret", cfg.SigningSecret != "",
				"ledger", ledger != nil,
				"repos", len(catalog.Aliases()),
			)

			g, gctx := errgroup.WithContext(ctx)
			if cfg.AppToken != "" {
				socket := newSocketAPI(nil, cfg.APIURL, cfg.AppToken)
				g.Go(func() error {
					return runSocketMode(gctx, socket, handler, logger)
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				return nil
			})
			err = g.Wait()

			logger.Info("serve_draining", "active_tasks", store.Active())
			disp.Wait()
			logger.Info("serve_stop")
			return err
		},
	}

	cmd.Flags().String("slack-bot-token", "", "Slack bot token (xoxb-...).")
	cmd.Flags().String("slack-app-token", "", "Slack app-level token for Socket Mode (xapp-...). Socket Mode is off when empty.")
	cmd.Flags().String("slack-signing-secret", "", "Signing secret used to verify HTTP slash command and interaction requests.")
	cmd.Flags().Bool("socket-mode", true, "Connect over Socket Mode when slack.app_token is set.")
	cmd.Flags().String("listen", "127.0.0.1:8787", "HTTP listen address for /do, /slack/interactions, /health and /tasks.")
	cmd.Flags().Int("max-concurrency", dispatch.DefaultMaxConcurrency, "Max number of tasks running at once.")
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
