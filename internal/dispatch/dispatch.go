// Package dispatch accepts task start requests from every intake path, runs
// each task on its own goroutine and keeps the task view and ledger in step
// with the orchestrator. The concurrency cap applies to worker processes, not
// to tasks: a task waiting on a human holds no slot.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yosuke0517/dev-assistant-agent/internal/command"
	"github.com/yosuke0517/dev-assistant-agent/internal/daemonruntime"
	"github.com/yosuke0517/dev-assistant-agent/internal/orchestrator"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackhttp"
	"github.com/yosuke0517/dev-assistant-agent/internal/streamevent"
	"github.com/yosuke0517/dev-assistant-agent/internal/worker"
	"golang.org/x/sync/semaphore"
)

const DefaultMaxConcurrency = 3

// Recorder persists task snapshots. *runledger.Ledger implements it.
type Recorder interface {
	Record(ctx context.Context, info daemonruntime.TaskInfo) error
}

type Options struct {
	MaxConcurrency int
	Catalog        *command.Catalog
	// DefaultChannel is used when a request carries no channel.
	DefaultChannel string
	Orchestrator   orchestrator.Options
	Store          *daemonruntime.MemoryStore
	Recorder       Recorder
	// TranscriptDir receives one <task-id>.log per task when set.
	TranscriptDir string
	Stdout        io.Writer
	Logger        *slog.Logger
	NewID         func() (string, error)
	Now           func() time.Time
}

type Dispatcher struct {
	ctx      context.Context
	gw       slackgw.Gateway
	launcher worker.Launcher
	opts     Options
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// New returns a dispatcher whose tasks run under ctx, not under the context of
// the request that started them.
func New(ctx context.Context, gw slackgw.Gateway, launcher worker.Launcher, opts Options) *Dispatcher {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.Catalog == nil {
		opts.Catalog = command.DefaultCatalog()
	}
	if opts.Store == nil {
		opts.Store = daemonruntime.NewMemoryStore(0)
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = newTaskID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		ctx:      ctx,
		gw:       gw,
		launcher: &slotLauncher{
			next:   launcher,
			sem:    semaphore.NewWeighted(int64(opts.MaxConcurrency)),
			gw:     gw,
			logger: opts.Logger,
		},
		opts:   opts,
		logger: opts.Logger,
	}
}

const slotWaitNotice = "⏳ Waiting for a free worker slot. The run starts as soon as another task's worker exits."

// slotLauncher bounds the number of worker processes running at once.
type slotLauncher struct {
	next   worker.Launcher
	sem    *semaphore.Weighted
	gw     slackgw.Gateway
	logger *slog.Logger
}

func (l *slotLauncher) Launch(ctx context.Context, inv worker.Invocation, onLine func(string)) (worker.Result, error) {
	if !l.sem.TryAcquire(1) {
		l.logger.Info("worker_slot_wait", "repo", inv.Repo, "issue_id", inv.IssueID)
		if inv.Thread.Configured() && l.gw != nil {
			if _, err := l.gw.PostMessage(ctx, inv.Thread.Channel, slotWaitNotice, inv.Thread.ThreadTS); err != nil {
				l.logger.Debug("worker_slot_notice_failed", "error", err.Error())
			}
		}
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return worker.Result{ExitCode: -1}, fmt.Errorf("wait for worker slot: %w", err)
		}
	}
	defer l.sem.Release(1)
	return l.next.Launch(ctx, inv, onLine)
}

func newTaskID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (d *Dispatcher) Store() *daemonruntime.MemoryStore {
	return d.opts.Store
}

// Start registers the task as queued and runs it in the background.
func (d *Dispatcher) Start(_ context.Context, req slackhttp.StartRequest) (string, error) {
	task, err := d.prepare(req, "")
	if err != nil {
		return "", err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(d.ctx, task)
	}()
	return task.ID, nil
}

// Submit adapts Start to the daemon POST /tasks route.
func (d *Dispatcher) Submit(ctx context.Context, req daemonruntime.SubmitTaskRequest) (daemonruntime.SubmitTaskResponse, error) {
	start, err := slackhttp.ParseCommandText(req.Text, req.ChannelID)
	if err != nil {
		return daemonruntime.SubmitTaskResponse{}, daemonruntime.BadRequest(err.Error())
	}
	start.Source = "http"
	id, err := d.Start(ctx, start)
	if err != nil {
		return daemonruntime.SubmitTaskResponse{}, err
	}
	return daemonruntime.SubmitTaskResponse{ID: id, Status: daemonruntime.TaskQueued}, nil
}

// Run executes one task synchronously. threadTS resumes an existing thread.
func (d *Dispatcher) Run(ctx context.Context, req slackhttp.StartRequest, threadTS string) (orchestrator.Outcome, error) {
	task, err := d.prepare(req, threadTS)
	if err != nil {
		return orchestrator.Outcome{}, err
	}
	return d.run(ctx, task), nil
}

// Wait blocks until every started task has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) prepare(req slackhttp.StartRequest, threadTS string) (orchestrator.Task, error) {
	repo := strings.TrimSpace(req.Repo)
	issue := strings.TrimSpace(req.IssueID)
	if repo == "" || issue == "" {
		return orchestrator.Task{}, slackhttp.ErrMissingFields
	}
	channel := strings.TrimSpace(req.ChannelID)
	if channel == "" {
		channel = strings.TrimSpace(d.opts.DefaultChannel)
	}
	id, err := d.opts.NewID()
	if err != nil {
		return orchestrator.Task{}, fmt.Errorf("task id: %w", err)
	}
	cfg := d.opts.Catalog.Lookup(repo)
	rawCommand := strings.TrimSpace(req.RawCommand)
	if rawCommand == "" {
		rawCommand = command.RawCommand(repo, issue, req.BaseBranch)
	}
	task := orchestrator.Task{
		ID:           id,
		Repo:         repo,
		DisplayName:  cfg.DisplayName,
		IssueID:      issue,
		IssueLabel:   command.IssueLabel(cfg, issue),
		BaseBranch:   strings.TrimSpace(req.BaseBranch),
		BranchName:   strings.TrimSpace(req.BranchName),
		UserRequest:  strings.TrimSpace(req.UserRequest),
		RelatedRepos: req.RelatedRepos,
		ChannelID:    channel,
		ThreadTS:     strings.TrimSpace(threadTS),
		RawCommand:   rawCommand,
	}
	info := daemonruntime.TaskInfo{
		ID:          id,
		Status:      daemonruntime.TaskQueued,
		Source:      strings.TrimSpace(req.Source),
		Repo:        repo,
		DisplayName: cfg.DisplayName,
		IssueID:     issue,
		ChannelID:   channel,
		ThreadTS:    task.ThreadTS,
		CreatedAt:   d.opts.Now().UTC(),
	}
	d.opts.Store.Upsert(info)
	d.record(info)
	d.logger.Info("task_queued", "task_id", id, "repo", repo, "issue_id", issue, "source", info.Source, "channel", channel)
	return task, nil
}

func (d *Dispatcher) run(ctx context.Context, task orchestrator.Task) orchestrator.Outcome {
	out := d.opts.Stdout
	transcript := d.openTranscript(task.ID)
	if transcript != nil {
		defer transcript.Close()
		out = io.MultiWriter(out, transcript)
	}

	opts := d.opts.Orchestrator
	opts.Interpreter = streamevent.NewInterpreter(out)
	opts.Logger = d.logger
	opts.Observer = orchestrator.ObserverFunc(d.observe)
	outcome := orchestrator.New(d.gw, d.launcher, opts).Run(ctx, task)

	d.opts.Store.Update(task.ID, func(info *daemonruntime.TaskInfo) {
		info.Aborted = outcome.Aborted
		if outcome.Aborted {
			info.Detail = outcome.AbortReason
		}
	})
	if info, ok := d.opts.Store.Get(task.ID); ok {
		d.record(*info)
	}
	return outcome
}

func (d *Dispatcher) observe(s orchestrator.Snapshot) {
	var snapshot daemonruntime.TaskInfo
	ok := d.opts.Store.Update(s.TaskID, func(info *daemonruntime.TaskInfo) {
		info.Status = daemonruntime.TaskStatus(s.State)
		info.ThreadTS = s.ThreadTS
		info.Attempt = s.Attempt
		info.FollowUps = s.FollowUps
		info.ExitCode = s.ExitCode
		info.PRURL = s.PRURL
		info.Detail = s.Detail
		at := s.At
		if at.IsZero() {
			at = d.opts.Now().UTC()
		}
		if info.StartedAt == nil && s.State == orchestrator.StateRunning {
			info.StartedAt = &at
		}
		if s.State == orchestrator.StateSessionEnded {
			info.FinishedAt = &at
		}
		snapshot = *info
	})
	if ok {
		d.record(snapshot)
	}
}

func (d *Dispatcher) record(info daemonruntime.TaskInfo) {
	if d.opts.Recorder == nil {
		return
	}
	// Final snapshots are written after the host context is canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.opts.Recorder.Record(ctx, info); err != nil {
		d.logger.Warn("ledger_record_error", "task_id", info.ID, "status", string(info.Status), "error", err.Error())
	}
}

func (d *Dispatcher) openTranscript(id string) *os.File {
	dir := strings.TrimSpace(d.opts.TranscriptDir)
	if dir == "" {
		return nil
	}
	path := filepath.Join(dir, id+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		d.logger.Warn("transcript_open_error", "task_id", id, "path", path, "error", err.Error())
		return nil
	}
	return f
}
