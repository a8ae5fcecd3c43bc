package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
)

const (
	DefaultTimeout = 3 * time.Hour

	errorSummaryMax = 500
)

type Options struct {
	Timeout         time.Duration
	PollInterval    time.Duration
	MentionMemberID string
	// OriginalCommand is echoed in the error prompt so the human can rerun it by hand.
	OriginalCommand string
	Logger          *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type asker struct {
	gw     slackgw.Gateway
	thread slackgw.ThreadRef
	opts   Options
}

// ask posts prompt into the thread and waits for the first human reply after it.
// A non-empty Reason means no usable reply was obtained.
func (a asker) ask(ctx context.Context, kind, prompt string) (slackgw.Reply, Reason) {
	if !a.thread.Configured() || a.gw == nil {
		a.opts.Logger.Warn("decision_not_configured", "kind", kind)
		return slackgw.Reply{}, ReasonNotConfigured
	}
	questionTS, err := a.gw.PostMessage(ctx, a.thread.Channel, prompt, a.thread.ThreadTS)
	if err != nil || strings.TrimSpace(questionTS) == "" {
		a.opts.Logger.Warn("decision_prompt_send_failed", "kind", kind, "channel", a.thread.Channel)
		return slackgw.Reply{}, ReasonSendFailed
	}
	a.opts.Logger.Info("decision_waiting", "kind", kind, "channel", a.thread.Channel, "question_ts", questionTS)
	reply, err := a.gw.WaitForReply(ctx, a.thread.Channel, a.thread.ThreadTS, questionTS, slackgw.WaitOptions{
		Interval: a.opts.PollInterval,
		Timeout:  a.opts.Timeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			a.opts.Logger.Info("decision_wait_canceled", "kind", kind, "error", ctx.Err().Error())
			return slackgw.Reply{}, ReasonCanceled
		}
		if !errors.Is(err, slackgw.ErrReplyTimeout) {
			a.opts.Logger.Warn("decision_wait_error", "kind", kind, "error", err.Error())
		}
		return slackgw.Reply{}, ReasonTimeout
	}
	return reply, ""
}

func timeoutMinutes(d time.Duration) int {
	return int(d / time.Minute)
}

// ErrorResolver asks how to continue after a failed worker run.
type ErrorResolver struct {
	asker
}

func NewErrorResolver(gw slackgw.Gateway, thread slackgw.ThreadRef, opts Options) *ErrorResolver {
	return &ErrorResolver{asker{gw: gw, thread: thread, opts: opts.withDefaults()}}
}

func (h *ErrorResolver) Ask(ctx context.Context, errorSummary string) Decision {
	reply, reason := h.ask(ctx, "error_resolution", h.prompt(errorSummary))
	if reason != "" {
		return Decision{Action: ActionAbort, Message: terminalMessage(reason), Reason: reason}
	}
	return ResolveErrorReply(reply.Text)
}

func (h *ErrorResolver) prompt(errorSummary string) string {
	lines := []string{
		slackgw.FormatMention(h.opts.MentionMemberID) + "⚠️ *An error occurred*",
		"```",
		slackgw.Truncate(errorSummary, errorSummaryMax),
		"```",
	}
	if cmd := strings.TrimSpace(h.opts.OriginalCommand); cmd != "" {
		lines = append(lines, "", "*Command:*", "`/do "+cmd+"`", "")
	} else {
		lines = append(lines, "")
	}
	lines = append(lines,
		"Reply in this thread to continue:",
		"• `retry` or `再実行` → run the same task again",
		"• `abort` or `中断` → abort the task",
		"• anything else → added to the prompt as an instruction, then retried",
		"",
		fmt.Sprintf("_The task is aborted automatically if there is no reply within %d minutes_", timeoutMinutes(h.opts.Timeout)),
	)
	return strings.Join(lines, "\n")
}

// FollowUpHandler offers the human a chance to request more work after a
// successful run.
type FollowUpHandler struct {
	asker
}

func NewFollowUpHandler(gw slackgw.Gateway, thread slackgw.ThreadRef, opts Options) *FollowUpHandler {
	return &FollowUpHandler{asker{gw: gw, thread: thread, opts: opts.withDefaults()}}
}

func (h *FollowUpHandler) Ask(ctx context.Context, issueLabel string) Decision {
	reply, reason := h.ask(ctx, "follow_up", h.prompt(issueLabel))
	if reason != "" {
		return Decision{Action: ActionEnd, Message: terminalMessage(reason), Reason: reason}
	}
	return ResolveFollowUpReply(reply.Text)
}

func (h *FollowUpHandler) prompt(issueLabel string) string {
	return strings.Join([]string{
		slackgw.FormatMention(h.opts.MentionMemberID) + "💡 *" + issueLabel + "* is done. Reply in this thread if you have a follow-up request.",
		"",
		"• describe the fix or additional work freely",
		"• `end` or `終了` → end the session",
		"",
		fmt.Sprintf("_The session ends automatically if there is no reply within %d minutes_", timeoutMinutes(h.opts.Timeout)),
	}, "\n")
}

func terminalMessage(reason Reason) string {
	switch reason {
	case ReasonNotConfigured:
		return MessageNotConfigured
	case ReasonSendFailed:
		return MessageSendFailed
	case ReasonTimeout:
		return MessageTimeout
	case ReasonCanceled:
		return MessageCanceled
	default:
		return string(reason)
	}
}
