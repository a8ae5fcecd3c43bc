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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yosuke0517/dev-assistant-agent/internal/command"
	"github.com/yosuke0517/dev-assistant-agent/internal/daemonruntime"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackhttp"
	"github.com/yosuke0517/dev-assistant-agent/internal/worker"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type endingGateway struct {
	mu    sync.Mutex
	seq   int
	posts []string
}

func (g *endingGateway) PostMessage(_ context.Context, _, text, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.posts = append(g.posts, text)
	return fmt.Sprintf("1700000000.%06d", g.seq), nil
}

func (g *endingGateway) WaitForReply(context.Context, string, string, string, slackgw.WaitOptions) (slackgw.Reply, error) {
	return slackgw.Reply{Text: "end", TS: "1800000000.000000"}, nil
}

func (g *endingGateway) count(substr string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, p := range g.posts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

// parkedGateway holds every reply wait open until release is closed.
type parkedGateway struct {
	endingGateway
	release chan struct{}
	waiting atomic.Int32
}

func (g *parkedGateway) WaitForReply(ctx context.Context, channel, threadTS, afterTS string, opts slackgw.WaitOptions) (slackgw.Reply, error) {
	g.waiting.Add(1)
	defer g.waiting.Add(-1)
	select {
	case <-g.release:
		return g.endingGateway.WaitForReply(ctx, channel, threadTS, afterTS, opts)
	case <-ctx.Done():
		return slackgw.Reply{}, ctx.Err()
	}
}

type gatedLauncher struct {
	gate    chan struct{}
	running atomic.Int32
	peak    atomic.Int32
	mu      sync.Mutex
	invs    []worker.Invocation
}

func (l *gatedLauncher) Launch(ctx context.Context, inv worker.Invocation, onLine func(string)) (worker.Result, error) {
	n := l.running.Add(1)
	defer l.running.Add(-1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}
	l.mu.Lock()
	l.invs = append(l.invs, inv)
	l.mu.Unlock()
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return worker.Result{ExitCode: -1}, ctx.Err()
		}
	}
	onLine(`{"type":"system","session_id":"s1"}`)
	return worker.Result{ExitCode: 0, Output: "https://github.com/acme/app/pull/7"}, nil
}

type memRecorder struct {
	mu   sync.Mutex
	rows []daemonruntime.TaskInfo
}

func (r *memRecorder) Record(_ context.Context, info daemonruntime.TaskInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, info)
	return nil
}

func (r *memRecorder) statuses(id string) []daemonruntime.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []daemonruntime.TaskStatus
	for _, row := range r.rows {
		if row.ID == id {
			out = append(out, row.Status)
		}
	}
	return out
}

func sequentialIDs() func() (string, error) {
	var n atomic.Int32
	return func() (string, error) {
		return fmt.Sprintf("task-%d", n.Add(1)), nil
	}
}

func newTestDispatcher(ctx context.Context, l worker.Launcher, opts Options) (*Dispatcher, *endingGateway) {
	gw := &endingGateway{}
	opts.Stdout = io.Discard
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.NewID = sequentialIDs()
	return New(ctx, gw, l, opts), gw
}

func TestRunRecordsLifecycle(t *testing.T) {
	t.Parallel()

	rec := &memRecorder{}
	transcripts := t.TempDir()
	d, gw := newTestDispatcher(context.Background(), &gatedLauncher{}, Options{
		Recorder:      rec,
		TranscriptDir: transcripts,
	})

	out, err := d.Run(context.Background(), slackhttp.StartRequest{
		Repo:      "agent",
		IssueID:   "12",
		ChannelID: "C1",
		Source:    "cli",
	}, "")
	require.NoError(t, err)
	require.Equal(t, 0, out.ExitCode)
	require.Equal(t, "https://github.com/acme/app/pull/7", out.PRURL)
	require.Contains(t, gw.posts[0], "*GitHub Issue #12* on *dev-assistant-agent*")

	info, ok := d.Store().Get("task-1")
	require.True(t, ok)
	require.Equal(t, daemonruntime.TaskSessionEnded, info.Status)
	require.Equal(t, "cli", info.Source)
	require.Equal(t, "1700000000.000001", info.ThreadTS)
	require.Equal(t, 1, info.Attempt)
	require.NotNil(t, info.StartedAt)
	require.NotNil(t, info.FinishedAt)
	require.Equal(t, "https://github.com/acme/app/pull/7", info.PRURL)

	statuses := rec.statuses("task-1")
	require.Equal(t, daemonruntime.TaskQueued, statuses[0])
	require.Contains(t, statuses, daemonruntime.TaskRunning)
	require.Contains(t, statuses, daemonruntime.TaskCompleted)
	require.Equal(t, daemonruntime.TaskSessionEnded, statuses[len(statuses)-1])

	raw, err := os.ReadFile(filepath.Join(transcripts, "task-1.log"))
	require.NoError(t, err)
	require.Contains(t, string(raw), "session started (session: s1)")
}

func TestRunResumesThread(t *testing.T) {
	t.Parallel()

	d, gw := newTestDispatcher(context.Background(), &gatedLauncher{}, Options{})
	out, err := d.Run(context.Background(), slackhttp.StartRequest{Repo: "agent", IssueID: "1", ChannelID: "C1"}, "1699999999.000009")
	require.NoError(t, err)
	require.Equal(t, "1699999999.000009", out.ThreadTS)
	for _, p := range gw.posts {
		require.NotContains(t, p, "🚀 Started")
	}
}

func TestStartRejectsMissingFields(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(context.Background(), &gatedLauncher{}, Options{})
	_, err := d.Start(context.Background(), slackhttp.StartRequest{Repo: "agent"})
	require.ErrorIs(t, err, slackhttp.ErrMissingFields)
	require.Empty(t, d.Store().List("", 10))
}

func TestStartUsesDefaultChannelAndCatalog(t *testing.T) {
	t.Parallel()

	catalog, err := command.NewCatalog([]command.RepoConfig{{Alias: "svc", DisplayName: "service-repo"}})
	require.NoError(t, err)
	l := &gatedLauncher{}
	d, _ := newTestDispatcher(context.Background(), l, Options{Catalog: catalog, DefaultChannel: "CDEF"})

	id, err := d.Start(context.Background(), slackhttp.StartRequest{Repo: "svc", IssueID: "PBI-9", BranchName: "feat/x"})
	require.NoError(t, err)
	d.Wait()

	info, ok := d.Store().Get(id)
	require.True(t, ok)
	require.Equal(t, "CDEF", info.ChannelID)
	require.Equal(t, "service-repo", info.DisplayName)
	require.Len(t, l.invs, 1)
	require.Equal(t, "feat/x", l.invs[0].BranchName)
	require.Equal(t, "service-repo", l.invs[0].DisplayName)
}

func TestConcurrencyCap(t *testing.T) {
	t.Parallel()

	l := &gatedLauncher{gate: make(chan struct{})}
	d, gw := newTestDispatcher(context.Background(), l, Options{MaxConcurrency: 2})

	for i := 0; i < 4; i++ {
		_, err := d.Start(context.Background(), slackhttp.StartRequest{Repo: "agent", IssueID: fmt.Sprint(i), ChannelID: "C1"})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return l.running.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return gw.count(slotWaitNotice) == 2 }, 2*time.Second, 5*time.Millisecond)

	close(l.gate)
	d.Wait()
	require.EqualValues(t, 2, l.peak.Load())
	require.Len(t, d.Store().List(daemonruntime.TaskSessionEnded, 10), 4)
}

func TestCanceledHostEndsQueuedTasks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	l := &gatedLauncher{gate: make(chan struct{})}
	d, _ := newTestDispatcher(ctx, l, Options{MaxConcurrency: 1})

	first, err := d.Start(context.Background(), slackhttp.StartRequest{Repo: "agent", IssueID: "1", ChannelID: "C1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return l.running.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	second, err := d.Start(context.Background(), slackhttp.StartRequest{Repo: "agent", IssueID: "2", ChannelID: "C1"})
	require.NoError(t, err)

	cancel()
	d.Wait()

	require.Len(t, l.invs, 1)
	for _, id := range []string{first, second} {
		info, _ := d.Store().Get(id)
		require.Equal(t, daemonruntime.TaskSessionEnded, info.Status)
		require.True(t, info.Aborted)
		require.Equal(t, "interrupted", info.Detail)
	}
}

func TestTaskAwaitingFollowUpHoldsNoWorkerSlot(t *testing.T) {
	t.Parallel()

	gw := &parkedGateway{release: make(chan struct{})}
	l := &gatedLauncher{}
	d := New(context.Background(), gw, l, Options{
		MaxConcurrency: 1,
		Stdout:         io.Discard,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewID:          sequentialIDs(),
	})

	first, err := d.Start(context.Background(), slackhttp.StartRequest{Repo: "agent", IssueID: "1", ChannelID: "C1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return gw.waiting.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	info, _ := d.Store().Get(first)
	require.Equal(t, daemonruntime.TaskAwaitingFollowUp, info.Status)

	second, err := d.Start(context.Background(), slackhttp.StartRequest{Repo: "agent", IssueID: "2", ChannelID: "C1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return gw.waiting.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	l.mu.Lock()
	require.Len(t, l.invs, 2)
	require.Equal(t, "2", l.invs[1].IssueID)
	l.mu.Unlock()
	require.Zero(t, gw.count(slotWaitNotice))

	close(gw.release)
	d.Wait()
	info, _ = d.Store().Get(second)
	require.Equal(t, daemonruntime.TaskSessionEnded, info.Status)
}

func TestSubmitParsesText(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(context.Background(), &gatedLauncher{}, Options{})
	resp, err := d.Submit(context.Background(), daemonruntime.SubmitTaskRequest{Text: "jjp 5 main --related agent", ChannelID: "C1"})
	require.NoError(t, err)
	require.Equal(t, daemonruntime.TaskQueued, resp.Status)
	d.Wait()

	info, ok := d.Store().Get(resp.ID)
	require.True(t, ok)
	require.Equal(t, "http", info.Source)
	require.Equal(t, "jjp", info.Repo)

	_, err = d.Submit(context.Background(), daemonruntime.SubmitTaskRequest{Text: "jjp"})
	require.ErrorContains(t, err, "repository and issue are required")
}
