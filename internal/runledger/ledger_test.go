package runledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yosuke0517/dev-assistant-agent/internal/daemonruntime"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path, err := ResolvePath("", filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	l, err := Open(context.Background(), DefaultConfig(path))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordUpsertKeepsCreatedAt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := openTestLedger(t)
	created := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(ctx, daemonruntime.TaskInfo{
		ID:        "t1",
		Status:    daemonruntime.TaskRunning,
		Source:    "slash",
		Repo:      "agent",
		IssueID:   "12",
		ChannelID: "C1",
		ThreadTS:  "1700000000.000100",
		Attempt:   1,
		CreatedAt: created,
	}))

	exit := 0
	finished := created.Add(10 * time.Minute)
	require.NoError(t, l.Record(ctx, daemonruntime.TaskInfo{
		ID:         "t1",
		Status:     daemonruntime.TaskSessionEnded,
		Source:     "slash",
		Repo:       "agent",
		IssueID:    "12",
		ChannelID:  "C1",
		ThreadTS:   "1700000000.000100",
		Attempt:    2,
		FollowUps:  1,
		ExitCode:   &exit,
		PRURL:      "https://github.com/acme/app/pull/3",
		CreatedAt:  created.Add(time.Hour),
		FinishedAt: &finished,
	}))

	got, ok, err := l.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, daemonruntime.TaskSessionEnded, got.Status)
	require.Equal(t, created, got.CreatedAt)
	require.Equal(t, 2, got.Attempt)
	require.Equal(t, 1, got.FollowUps)
	require.NotNil(t, got.ExitCode)
	require.Equal(t, 0, *got.ExitCode)
	require.Equal(t, "https://github.com/acme/app/pull/3", got.PRURL)
	require.NotNil(t, got.FinishedAt)
	require.True(t, finished.Equal(*got.FinishedAt))
	require.Nil(t, got.StartedAt)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	l := openTestLedger(t)
	_, ok, err := l.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListNewestFirstWithFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := openTestLedger(t)
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	for i, status := range []daemonruntime.TaskStatus{
		daemonruntime.TaskSessionEnded,
		daemonruntime.TaskRunning,
		daemonruntime.TaskSessionEnded,
	} {
		require.NoError(t, l.Record(ctx, daemonruntime.TaskInfo{
			ID:        string(rune('a' + i)),
			Status:    status,
			Repo:      "agent",
			IssueID:   "1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := l.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	ended, err := l.List(ctx, daemonruntime.TaskSessionEnded, 1)
	require.NoError(t, err)
	require.Len(t, ended, 1)
	require.Equal(t, "c", ended[0].ID)
}

func TestRecoverOrphanedMarksInFlightTasksLost(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := openTestLedger(t)
	now := time.Now().UTC()
	for id, status := range map[string]daemonruntime.TaskStatus{
		"running":  daemonruntime.TaskRunning,
		"deciding": daemonruntime.TaskAwaitingDecision,
		"followup": daemonruntime.TaskAwaitingFollowUp,
		"ended":    daemonruntime.TaskSessionEnded,
	} {
		require.NoError(t, l.Record(ctx, daemonruntime.TaskInfo{ID: id, Status: status, Repo: "r", IssueID: "1", CreatedAt: now}))
	}

	n, err := l.RecoverOrphaned(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	lost, err := l.List(ctx, daemonruntime.TaskLost, 10)
	require.NoError(t, err)
	require.Len(t, lost, 3)
	for _, info := range lost {
		require.NotNil(t, info.FinishedAt)
	}

	n, err = l.RecoverOrphaned(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestReopenKeepsRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.sqlite")
	l, err := Open(ctx, DefaultConfig(path))
	require.NoError(t, err)
	require.NoError(t, l.Record(ctx, daemonruntime.TaskInfo{ID: "t1", Status: daemonruntime.TaskQueued, Repo: "r", IssueID: "1"}))
	require.NoError(t, l.Close())

	l, err = Open(ctx, DefaultConfig(path))
	require.NoError(t, err)
	defer l.Close()
	_, ok, err := l.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestResolvePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	got, err := ResolvePath("", dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, DefaultFileName), got)

	got, err = ResolvePath(" "+filepath.Join(dir, "x", "l.db")+" ", "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "x", "l.db"), got)

	_, err = ResolvePath("", "")
	require.Error(t, err)

	_, err = Open(context.Background(), Config{})
	require.Error(t, err)
}
