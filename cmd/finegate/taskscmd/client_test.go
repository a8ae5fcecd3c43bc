package taskscmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yosuke0517/dev-assistant-agent/internal/daemonruntime"
)

func newTestDaemon(t *testing.T) (*httptest.Server, *[]daemonruntime.SubmitTaskRequest) {
	t.Helper()
	store := daemonruntime.NewMemoryStore(10)
	now := time.Now().UTC()
	store.Upsert(daemonruntime.TaskInfo{ID: "t1", Status: daemonruntime.TaskSessionEnded, Repo: "agent", IssueID: "1", CreatedAt: now.Add(-time.Minute)})
	store.Upsert(daemonruntime.TaskInfo{ID: "t2", Status: daemonruntime.TaskRunning, Repo: "agent", IssueID: "2", CreatedAt: now})

	var submitted []daemonruntime.SubmitTaskRequest
	mux := http.NewServeMux()
	daemonruntime.RegisterRoutes(mux, daemonruntime.RoutesOptions{
		AuthToken:  "secret",
		TaskReader: store,
		Submit:     func(_ context.Context, req daemonruntime.SubmitTaskRequest) (daemonruntime.SubmitTaskResponse, error) {
			submitted = append(submitted, req)
			return daemonruntime.SubmitTaskResponse{ID: "t3", Status: daemonruntime.TaskQueued}, nil
		},
		HealthEnabled: true,
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &submitted
}

func TestDaemonClientHealth(t *testing.T) {
	srv, _ := newTestDaemon(t)
	h, err := newDaemonClient(srv.URL+"/", "").Health(context.Background())
	require.NoError(t, err)
	require.True(t, h.OK)
	require.Equal(t, daemonruntime.Summary{Total: 2, Active: 1}, h.Summary)
}

func TestDaemonClientListAndGet(t *testing.T) {
	srv, _ := newTestDaemon(t)
	c := newDaemonClient(srv.URL, "secret")

	items, err := c.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "t2", items[0].ID)

	items, err = c.List(context.Background(), daemonruntime.Filter(daemonruntime.TaskSessionEnded), 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "t1", items[0].ID)

	items, err = c.List(context.Background(), daemonruntime.FilterActive, 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "t2", items[0].ID)

	info, err := c.Get(context.Background(), "t2")
	require.NoError(t, err)
	require.Equal(t, daemonruntime.TaskRunning, info.Status)

	_, err = c.Get(context.Background(), "missing")
	require.True(t, errors.Is(err, errTaskNotFound), "got %v", err)
}

func TestDaemonClientSubmit(t *testing.T) {
	srv, submitted := newTestDaemon(t)
	resp, err := newDaemonClient(srv.URL, "secret").Submit(context.Background(), daemonruntime.SubmitTaskRequest{Text: "agent 3", ChannelID: "C1"})
	require.NoError(t, err)
	require.Equal(t, "t3", resp.ID)
	require.Equal(t, daemonruntime.TaskQueued, resp.Status)
	require.Equal(t, []daemonruntime.SubmitTaskRequest{{Text: "agent 3", ChannelID: "C1"}}, *submitted)
}

func TestDaemonClientAuthErrors(t *testing.T) {
	srv, _ := newTestDaemon(t)

	_, err := newDaemonClient(srv.URL, "").List(context.Background(), "", 0)
	require.ErrorContains(t, err, "auth token is not configured")

	_, err = newDaemonClient(srv.URL, "wrong").List(context.Background(), "", 0)
	require.ErrorContains(t, err, "daemon http 401")

	_, err = newDaemonClient("", "secret").Get(context.Background(), "t1")
	require.ErrorContains(t, err, "url is not configured")
}

func TestServerURLFromListen(t *testing.T) {
	cases := map[string]string{
		"":               "",
		":8787":          "http://127.0.0.1:8787",
		"127.0.0.1:9000": "http://127.0.0.1:9000",
	}
	for in, want := range cases {
		if got := serverURLFromListen(in); got != want {
			t.Fatalf("serverURLFromListen(%q) mismatch: got %q want %q", in, got, want)
		}
	}
}
