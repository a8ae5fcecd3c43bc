package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yosuke0517/dev-assistant-agent/cmd/finegate/askcmd"
	"github.com/yosuke0517/dev-assistant-agent/cmd/finegate/runcmd"
	"github.com/yosuke0517/dev-assistant-agent/cmd/finegate/slackcmd"
	"github.com/yosuke0517/dev-assistant-agent/cmd/finegate/taskscmd"
	"github.com/yosuke0517/dev-assistant-agent/internal/logutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		var exitErr runcmd.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "finegate",
		Short:         "Run coding-agent tasks supervised from Slack threads",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(configFile)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Config file (YAML). Defaults to <file_state_dir>/config.yaml when present.")
	root.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error.")
	root.PersistentFlags().String("log-format", "", "Log format: text|json|auto.")
	_ = viper.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(slackcmd.NewCommand(slackcmd.Dependencies{
		LoggerFromViper:              logutil.FromViper,
		StateDirFromViper:            stateDirFromViper,
		CatalogFromViper:             catalogFromViper,
		SlackFromViper:               slackFromViper,
		WorkerConfigFromViper:        workerConfigFromViper,
		OrchestratorOptionsFromViper: orchestratorOptionsFromViper,
		LedgerFromViper:              ledgerFromViper,
	}))
	root.AddCommand(runcmd.NewCommand(runcmd.Dependencies{
		LoggerFromViper:              logutil.FromViper,
		StateDirFromViper:            stateDirFromViper,
		CatalogFromViper:             catalogFromViper,
		SlackFromViper:               slackFromViper,
		WorkerConfigFromViper:        workerConfigFromViper,
		OrchestratorOptionsFromViper: orchestratorOptionsFromViper,
		LedgerFromViper:              ledgerFromViper,
	}))
	root.AddCommand(askcmd.NewCommand(askcmd.Dependencies{
		LoggerFromViper: logutil.FromViper,
		SlackFromViper:  slackFromViper,
	}))
	root.AddCommand(taskscmd.NewCommand(taskscmd.Dependencies{
		LoggerFromViper:   logutil.FromViper,
		StateDirFromViper: stateDirFromViper,
		LedgerFromViper:   ledgerFromViper,
	}))
	return root
}

func initConfig(configFile string) error {
	// .env is optional; variables already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	viper.SetEnvPrefix("FINEGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	for key, legacy := range legacyEnv {
		_ = viper.BindEnv(key, "FINEGATE_"+strings.ToUpper(strings.NewReplacer(".", "_").Replace(key)), legacy)
	}
	setDefaults()

	configFile = strings.TrimSpace(configFile)
	if configFile == "" {
		dir, err := stateDirFromViper()
		if err != nil {
			return err
		}
		candidate := dir + string(os.PathSeparator) + "config.yaml"
		if _, err := os.Stat(candidate); err != nil {
			return nil
		}
		configFile = candidate
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", configFile, err)
	}
	return nil
}

// legacyEnv maps config keys to the unprefixed variables older deployments set.
var legacyEnv = map[string]string{
	"slack.bot_token":       "SLACK_BOT_TOKEN",
	"slack.app_token":       "SLACK_APP_TOKEN",
	"slack.signing_secret":  "SLACK_SIGNING_SECRET",
	"slack.owner_member_id": "OWNER_SLACK_MEMBER_ID",
	"slack.channel":         "SLACK_CHANNEL",
	"slack.thread_ts":       "SLACK_THREAD_TS",
}
