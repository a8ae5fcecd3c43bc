// Package askcmd lets a running worker put a question to the human in its
// task thread and block until the answer arrives.
package askcmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/yosuke0517/dev-assistant-agent/internal/configutil"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
)

const DefaultTimeout = 30 * time.Minute

// Answer is the human reply, or a timeout notice when none arrived.
type Answer struct {
	Text     string
	TimedOut bool
}

type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Ask the human in the current Slack thread and print the reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := loggerFromViper()
			if err != nil {
				return err
			}
			cfg := slackFromViper()
			thread := slackgw.ThreadRef{
				Channel:  strings.TrimSpace(configutil.FlagOrViperString(cmd, "channel", "slack.channel")),
				ThreadTS: strings.TrimSpace(configutil.FlagOrViperString(cmd, "thread-ts", "slack.thread_ts")),
			}
			question, _ := cmd.Flags().GetString("question")
			background, _ := cmd.Flags().GetString("context")

			gw, _ := cfg.Connect(cmd.Context(), logger)
			answer, err := Ask(cmd.Context(), gw, thread, question, background, Options{
				Timeout:      configutil.FlagOrViperDuration(cmd, "timeout", "ask.timeout"),
				PollInterval: cfg.PollInterval,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), answer.Text)
			return nil
		},
	}

	cmd.Flags().String("question", "", "Question to ask (required).")
	cmd.Flags().String("context", "", "Background or options that help the human answer.")
	cmd.Flags().String("channel", "", "Slack channel (defaults to SLACK_CHANNEL).")
	cmd.Flags().String("thread-ts", "", "Slack thread (defaults to SLACK_THREAD_TS).")
	cmd.Flags().Duration("timeout", DefaultTimeout, "How long to wait for a reply.")
	_ = cmd.MarkFlagRequired("question")

	return cmd
}

// Ask posts question into thread and waits for the first human reply after it.
// Running out of time is not an error: the returned Answer says so instead.
func Ask(ctx context.Context, gw slackgw.Gateway, thread slackgw.ThreadRef, question, background string, opts Options) (Answer, error) {
	question = strings.TrimSpace(question)
	background = strings.TrimSpace(background)
	if question == "" {
		return Answer{}, fmt.Errorf("question is empty")
	}
	if !thread.Configured() {
		return Answer{}, fmt.Errorf("slack is not configured: SLACK_CHANNEL and SLACK_THREAD_TS are required to ask a question")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	minutes := int(opts.Timeout / time.Minute)

	questionTS, err := gw.PostMessage(ctx, thread.Channel, questionMessage(question, background, minutes), thread.ThreadTS)
	if err != nil {
		return Answer{}, fmt.Errorf("post question: %w", err)
	}
	if strings.TrimSpace(questionTS) == "" {
		return Answer{}, fmt.Errorf("post question: no message timestamp returned")
	}

	reply, err := gw.WaitForReply(ctx, thread.Channel, thread.ThreadTS, questionTS, slackgw.WaitOptions{
		Interval: opts.PollInterval,
		Timeout:  opts.Timeout,
	})
	if errors.Is(err, slackgw.ErrReplyTimeout) {
		return Answer{
			Text:     fmt.Sprintf("Timed out: the question was posted to Slack but no reply arrived within %d minutes.", minutes),
			TimedOut: true,
		}, nil
	}
	if err != nil {
		return Answer{}, fmt.Errorf("wait for reply: %w", err)
	}
	return Answer{Text: reply.Text}, nil
}

func questionMessage(question, background string, minutes int) string {
	var b strings.Builder
	b.WriteString("❓ *Question from the agent*\n\n")
	b.WriteString(question)
	if background != "" {
		b.WriteString("\n\n📋 *Background*\n")
		b.WriteString(background)
	}
	fmt.Fprintf(&b, "\n\n_Reply in this thread (within %d minutes)_", minutes)
	return b.String()
}
