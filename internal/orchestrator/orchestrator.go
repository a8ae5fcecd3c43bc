// Package orchestrator drives one task from its first worker run through
// human-guided retries and follow-up requests.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yosuke0517/dev-assistant-agent/internal/command"
	"github.com/yosuke0517/dev-assistant-agent/internal/decision"
	"github.com/yosuke0517/dev-assistant-agent/internal/progress"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
	"github.com/yosuke0517/dev-assistant-agent/internal/streamevent"
	"github.com/yosuke0517/dev-assistant-agent/internal/worker"
)

const (
	DefaultMaxAttempts  = 3
	DefaultMaxFollowUps = 5

	// ExitInterrupted is reported when host shutdown stops a task and no
	// worker exit code is available.
	ExitInterrupted = 130
	// AbortInterrupted is the abort reason recorded for such a task.
	AbortInterrupted = "interrupted"

	resultTextMax = 1500
	noticeTimeout = 10 * time.Second
)

// Task is a unit of work requested by a human.
type Task struct {
	ID           string
	Repo         string
	DisplayName  string
	IssueID      string
	IssueLabel   string
	BaseBranch   string
	BranchName   string
	UserRequest  string
	RelatedRepos []command.RelatedRepo
	ChannelID    string
	// ThreadTS resumes an existing thread instead of posting a new parent message.
	ThreadTS   string
	RawCommand string
}

func (t Task) label() string {
	if strings.TrimSpace(t.IssueLabel) != "" {
		return t.IssueLabel
	}
	return t.IssueID
}

func (t Task) displayName() string {
	if strings.TrimSpace(t.DisplayName) != "" {
		return t.DisplayName
	}
	return t.Repo
}

type Outcome struct {
	TaskID      string
	ThreadTS    string
	Attempts    int
	ExitCode    int
	Aborted     bool
	AbortReason string
	FollowUps   int
	PRURL       string
}

type Options struct {
	MaxAttempts      int
	MaxFollowUps     int
	ProgressInterval time.Duration
	DecisionTimeout  time.Duration
	PollInterval     time.Duration
	MentionMemberID  string
	Interpreter      *streamevent.Interpreter
	Observer         Observer
	Logger           *slog.Logger
}

type Orchestrator struct {
	gw       slackgw.Gateway
	launcher worker.Launcher
	opts     Options
	interp   *streamevent.Interpreter
	logger   *slog.Logger
}

func New(gw slackgw.Gateway, launcher worker.Launcher, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.MaxFollowUps <= 0 {
		opts.MaxFollowUps = DefaultMaxFollowUps
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	interp := opts.Interpreter
	if interp == nil {
		interp = streamevent.NewInterpreter(nil)
	}
	return &Orchestrator{
		gw:       gw,
		launcher: launcher,
		opts:     opts,
		interp:   interp,
		logger:   opts.Logger,
	}
}

// Run executes task to the end of its follow-up session. It never returns an
// error: every failure is reported into the thread and reflected in the outcome.
func (o *Orchestrator) Run(ctx context.Context, task Task) Outcome {
	label := task.label()
	logger := o.logger.With("task_id", task.ID, "repo", task.Repo, "issue_id", task.IssueID)
	logger.Info("task_start", "display_name", task.displayName(), "channel", task.ChannelID, "resume", task.ThreadTS != "")

	parentTS := strings.TrimSpace(task.ThreadTS)
	if parentTS == "" && strings.TrimSpace(task.ChannelID) != "" {
		text := fmt.Sprintf("🚀 Started *%s* on *%s*.\nProgress will be reported in this thread.", label, task.displayName())
		ts, err := o.gw.PostMessage(ctx, task.ChannelID, text, "")
		if err != nil {
			logger.Warn("task_parent_post_failed", "error", err.Error())
		}
		parentTS = ts
	}
	thread := slackgw.ThreadRef{Channel: task.ChannelID, ThreadTS: parentTS}
	out := Outcome{TaskID: task.ID, ThreadTS: parentTS}
	snap := Snapshot{TaskID: task.ID, ThreadTS: parentTS}

	tracker := progress.New(o.gw, thread, task.IssueID, progress.Options{
		Interval: o.opts.ProgressInterval,
		Logger:   logger,
	})
	tracker.Start(ctx)
	defer tracker.Stop()

	resolver := decision.NewErrorResolver(o.gw, thread, o.decisionOptions(task.RawCommand, logger))
	inv := worker.Invocation{
		Repo:         task.Repo,
		DisplayName:  task.displayName(),
		IssueID:      task.IssueID,
		BaseBranch:   task.BaseBranch,
		BranchName:   task.BranchName,
		UserRequest:  task.UserRequest,
		RelatedRepos: task.RelatedRepos,
		Thread:       thread,
	}

	var last worker.Result
	interrupted := false
	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			logger.Warn("task_interrupted", "attempt", attempt)
			interrupted = true
			break
		}
		out.Attempts = attempt
		snap.Attempt = attempt
		if attempt > 1 {
			o.post(ctx, thread, fmt.Sprintf("🔄 Retrying *%s* (%d/%d)", label, attempt, o.opts.MaxAttempts), logger)
		}
		o.observe(&snap, StateRunning, "")

		last = o.launch(ctx, inv, tracker, logger)
		snap.ExitCode = intPtr(last.ExitCode)
		if last.ExitCode == 0 {
			break
		}
		if ctx.Err() != nil {
			logger.Warn("task_interrupted", "attempt", attempt, "exit_code", last.ExitCode)
			interrupted = true
			break
		}
		if attempt >= o.opts.MaxAttempts {
			logger.Warn("task_max_attempts", "max_attempts", o.opts.MaxAttempts, "exit_code", last.ExitCode)
			break
		}

		o.observe(&snap, StateAwaitingDecision, "")
		dec := resolver.Ask(ctx, streamevent.ExtractErrorSummary(last.Output))
		if dec.Reason == decision.ReasonCanceled {
			interrupted = true
			break
		}
		if dec.Action == decision.ActionAbort {
			logger.Info("task_aborted", "reason", string(dec.Reason), "message", dec.Message)
			out.Aborted = true
			out.AbortReason = dec.Message
			o.post(ctx, thread, "⛔ Aborted: "+dec.Message, logger)
			break
		}
		inv.ExtraPrompt = dec.Instruction
		if dec.Instruction != "" {
			logger.Info("task_retry_instruction", "instruction", dec.Instruction)
		}
		o.observe(&snap, StateRetrying, dec.Instruction)
	}
	tracker.Stop()
	if interrupted {
		return o.interrupt(ctx, thread, label, out, last, &snap, logger)
	}
	out.ExitCode = last.ExitCode
	if pr, ok := streamevent.ExtractLastPRURL(last.Output); ok {
		out.PRURL = pr
		snap.PRURL = pr
	}

	if thread.Configured() {
		o.post(ctx, thread, o.completionMessage(label, last, out.Attempts), logger)
	}
	o.observe(&snap, StateCompleted, "")

	if last.ExitCode == 0 && thread.Configured() && ctx.Err() == nil {
		out.FollowUps = o.followUps(ctx, thread, inv, tracker, label, &snap, logger)
	}
	o.observe(&snap, StateSessionEnded, "")
	logger.Info("task_end",
		"attempts", out.Attempts,
		"exit_code", out.ExitCode,
		"aborted", out.Aborted,
		"follow_ups", out.FollowUps,
		"pr_url", out.PRURL,
	)
	return out
}

func (o *Orchestrator) followUps(ctx context.Context, thread slackgw.ThreadRef, inv worker.Invocation, tracker *progress.Tracker, label string, snap *Snapshot, logger *slog.Logger) int {
	handler := decision.NewFollowUpHandler(o.gw, thread, o.decisionOptions("", logger))
	count := 0
	for count < o.opts.MaxFollowUps {
		o.observe(snap, StateAwaitingFollowUp, "")
		dec := handler.Ask(ctx, label)
		if dec.Action == decision.ActionEnd {
			logger.Info("follow_up_session_end", "reason", string(dec.Reason), "message", dec.Message)
			switch dec.Reason {
			case decision.ReasonNotConfigured, decision.ReasonSendFailed, decision.ReasonCanceled:
			default:
				o.post(ctx, thread, "📋 Session ended. Thanks!", logger)
			}
			return count
		}

		count++
		snap.FollowUps = count
		logger.Info("follow_up_start", "count", count, "max", o.opts.MaxFollowUps)
		o.post(ctx, thread, fmt.Sprintf("🔄 Running follow-up request (#%d)\n> %s", count, dec.Message), logger)
		o.observe(snap, StateRunningFollowUp, dec.Message)

		fu := inv
		fu.ExtraPrompt = ""
		fu.UserRequest = ""
		fu.FollowUpMessage = dec.Message
		tracker.Start(ctx)
		res := o.launch(ctx, fu, tracker, logger)
		tracker.Stop()
		snap.ExitCode = intPtr(res.ExitCode)
		if res.ExitCode != 0 && ctx.Err() != nil {
			logger.Warn("follow_up_interrupted", "count", count, "exit_code", res.ExitCode)
			return count
		}

		icon, verb := "✅", "finished"
		if res.ExitCode != 0 {
			icon, verb = "❌", "ended"
		}
		o.post(ctx, thread, fmt.Sprintf("%s%s Follow-up request %s (exit code: %d)",
			slackgw.FormatMention(o.opts.MentionMemberID), icon, verb, res.ExitCode), logger)
		if res.ExitCode != 0 {
			return count
		}
	}
	o.post(ctx, thread, fmt.Sprintf("📋 Reached the maximum number of follow-ups (%d). Ending the session.", o.opts.MaxFollowUps), logger)
	return count
}

// interrupt ends a task stopped by host shutdown. The run never counts as a
// success, and the notice is sent on a detached context since ctx is done.
func (o *Orchestrator) interrupt(ctx context.Context, thread slackgw.ThreadRef, label string, out Outcome, last worker.Result, snap *Snapshot, logger *slog.Logger) Outcome {
	out.Aborted = true
	out.AbortReason = AbortInterrupted
	out.ExitCode = last.ExitCode
	if out.ExitCode <= 0 {
		out.ExitCode = ExitInterrupted
	}
	if thread.Configured() {
		noticeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
		o.post(noticeCtx, thread, fmt.Sprintf("⚠️ *%s* was interrupted before it finished (finegate is shutting down).", label), logger)
		cancel()
	}
	o.observe(snap, StateSessionEnded, AbortInterrupted)
	logger.Warn("task_end",
		"attempts", out.Attempts,
		"exit_code", out.ExitCode,
		"aborted", out.Aborted,
		"abort_reason", out.AbortReason,
	)
	return out
}

func (o *Orchestrator) launch(ctx context.Context, inv worker.Invocation, tracker *progress.Tracker, logger *slog.Logger) worker.Result {
	res, err := o.launcher.Launch(ctx, inv, func(line string) {
		o.interp.Process(line, tracker)
	})
	if err != nil {
		logger.Error("worker_launch_error", "error", err.Error())
		if res.ExitCode == 0 {
			res.ExitCode = -1
		}
	}
	if res.ExitCode != 0 && strings.TrimSpace(res.Output) == "" {
		logger.Warn("worker_exit_without_output", "exit_code", res.ExitCode)
	}
	logger.Info("worker_finished", "exit_code", res.ExitCode, "follow_up", inv.FollowUpMessage != "")
	return res
}

func (o *Orchestrator) completionMessage(label string, last worker.Result, attempts int) string {
	icon, verb := "✅", "finished!"
	if last.ExitCode != 0 {
		icon, verb = "❌", "ended."
	}
	retryInfo := ""
	if attempts > 1 {
		retryInfo = fmt.Sprintf(" (attempts: %d)", attempts)
	}
	var result string
	if pr, ok := streamevent.ExtractLastPRURL(last.Output); ok {
		result = "\nPull request created: " + pr
	} else if text, ok := streamevent.ExtractResultText(last.Output); ok {
		cut := slackgw.Truncate(text, resultTextMax)
		if len(cut) < len(text) {
			cut += "..."
		}
		result = "\n📝 Result:\n" + cut
	} else {
		result = "\nCould not confirm a pull request. Check the terminal log for details."
	}
	return fmt.Sprintf("%s%s *%s* %s (exit code: %d)%s%s",
		slackgw.FormatMention(o.opts.MentionMemberID), icon, label, verb, last.ExitCode, retryInfo, result)
}

func (o *Orchestrator) decisionOptions(rawCommand string, logger *slog.Logger) decision.Options {
	return decision.Options{
		Timeout:         o.opts.DecisionTimeout,
		PollInterval:    o.opts.PollInterval,
		MentionMemberID: o.opts.MentionMemberID,
		OriginalCommand: rawCommand,
		Logger:          logger,
	}
}

// post sends a status message. Failures are already logged by the gateway.
func (o *Orchestrator) post(ctx context.Context, thread slackgw.ThreadRef, text string, logger *slog.Logger) {
	if strings.TrimSpace(thread.Channel) == "" {
		return
	}
	if _, err := o.gw.PostMessage(ctx, thread.Channel, text, thread.ThreadTS); err != nil {
		logger.Debug("task_post_failed", "error", err.Error())
	}
}

func (o *Orchestrator) observe(snap *Snapshot, state State, detail string) {
	snap.State = state
	snap.Detail = detail
	snap.At = time.Now().UTC()
	if o.opts.Observer != nil {
		o.opts.Observer.Observe(*snap)
	}
}

func intPtr(v int) *int {
	return &v
}
