// Package taskscmd inspects and submits tasks on a running serve process and
// reads finished tasks back from the local ledger.
package taskscmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yosuke0517/dev-assistant-agent/internal/configutil"
	"github.com/yosuke0517/dev-assistant-agent/internal/daemonruntime"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect tasks of a running finegate serve",
	}
	cmd.PersistentFlags().String("server-url", "", "Base URL of the serve HTTP API (defaults to http://<server.listen>).")
	cmd.PersistentFlags().String("auth-token", "", "Bearer token for /tasks (defaults to server.auth_token).")

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}

func clientFromCmd(cmd *cobra.Command) *daemonClient {
	base := strings.TrimSpace(configutil.FlagOrViperString(cmd, "server-url", "server.url"))
	if base == "" {
		base = serverURLFromListen(viper.GetString("server.listen"))
	}
	return newDaemonClient(base, configutil.FlagOrViperString(cmd, "auth-token", "server.auth_token"))
}

// serverURLFromListen turns a listen address such as ":8787" into a dialable URL.
func serverURLFromListen(listen string) string {
	listen = strings.TrimSpace(listen)
	if listen == "" {
		return ""
	}
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen
}

func parseStatusFlag(cmd *cobra.Command) (daemonruntime.TaskStatus, error) {
	raw, _ := cmd.Flags().GetString("status")
	status, ok := daemonruntime.ParseTaskStatus(raw)
	if !ok {
		return "", fmt.Errorf("invalid --status %q", raw)
	}
	return status, nil
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("status")
			filter, ok := daemonruntime.ParseFilter(raw)
			if !ok {
				return fmt.Errorf("invalid --status %q", raw)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			items, err := clientFromCmd(cmd).List(cmd.Context(), filter, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), items)
		},
	}
	cmd.Flags().String("status", "", "Only tasks in this status, or one of: active, awaiting, terminal.")
	cmd.Flags().Int("limit", 20, "Max number of tasks.")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := clientFromCmd(cmd).Get(cmd.Context(), args[0])
			if errors.Is(err, errTaskNotFound) {
				return fmt.Errorf("task %s not found", strings.TrimSpace(args[0]))
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), info)
		},
	}
}

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <repo> <issue> [base-branch] [request...]",
		Short: "Queue a task on the running serve",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := configutil.FlagOrViperString(cmd, "channel", "slack.channel")
			resp, err := clientFromCmd(cmd).Submit(cmd.Context(), daemonruntime.SubmitTaskRequest{
				Text:      strings.Join(args, " "),
				ChannelID: strings.TrimSpace(channel),
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().String("channel", "", "Slack channel for the task thread (defaults to slack.channel).")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that serve is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := clientFromCmd(cmd).Health(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), h)
		},
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [task-id]",
		Short: "Read tasks from the local ledger, including ones lost to a restart",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := loggerFromViper()
			if err != nil {
				return err
			}
			stateDir, err := stateDirFromViper()
			if err != nil {
				return err
			}
			ledger, err := ledgerFromViper(cmd.Context(), stateDir)
			if err != nil {
				return err
			}
			if ledger == nil {
				return fmt.Errorf("ledger is disabled (ledger.enabled=false)")
			}
			defer func() { _ = ledger.Close() }()
			logger.Debug("tasks_history_open", "path", ledger.Path())

			if len(args) == 1 {
				info, ok, err := ledger.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("task %s not found", strings.TrimSpace(args[0]))
				}
				return writeJSON(cmd.OutOrStdout(), info)
			}
			status, err := parseStatusFlag(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			items, err := ledger.List(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), items)
		},
	}
	cmd.Flags().String("status", "", "Only tasks in this status.")
	cmd.Flags().Int("limit", 50, "Max number of tasks.")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
