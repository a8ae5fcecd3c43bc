package daemonruntime

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListLimit = 20
	maxSubmitBody    = 1 << 20
	shutdownTimeout  = 2 * time.Second
)

type SubmitFunc func(ctx context.Context, req SubmitTaskRequest) (SubmitTaskResponse, error)

type badRequestError struct {
	msg string
}

func (e badRequestError) Error() string {
	return strings.TrimSpace(e.msg)
}

// BadRequest marks a submit error as the caller's fault (HTTP 400).
func BadRequest(msg string) error {
	return badRequestError{msg: msg}
}

type RoutesOptions struct {
	// AuthToken guards every /tasks route. With no token the routes always answer 401.
	AuthToken     string
	TaskReader    TaskReader
	Submit        SubmitFunc
	HealthEnabled bool
}

type taskAPI struct {
	authToken string
	reader    TaskReader
	submit    SubmitFunc
	now       func() time.Time
}

// RegisterRoutes mounts the task API:
//
//	GET  /health       liveness and task counts, no auth
//	GET  /tasks        ?status=<status|active|awaiting|terminal>&limit=N
//	POST /tasks        {"text": "...", "channel_id": "..."}
//	GET  /tasks/{id}
func RegisterRoutes(mux *http.ServeMux, opts RoutesOptions) {
	if mux == nil {
		return
	}
	api := &taskAPI{
		authToken: strings.TrimSpace(opts.AuthToken),
		reader:    opts.TaskReader,
		submit:    opts.Submit,
		now:       time.Now,
	}
	if opts.HealthEnabled {
		mux.HandleFunc("GET /health", api.health)
	}
	mux.HandleFunc("GET /tasks", api.authorized(api.list))
	mux.HandleFunc("GET /tasks/{id}", api.authorized(api.get))
	if api.submit != nil {
		mux.HandleFunc("POST /tasks", api.authorized(api.create))
	}
}

func (a *taskAPI) health(w http.ResponseWriter, r *http.Request) {
	report := HealthReport{OK: true, Time: a.now().UTC()}
	if a.reader != nil {
		report.Summary = a.reader.Summary()
	}
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *taskAPI) list(w http.ResponseWriter, r *http.Request) {
	if !a.readable(w) {
		return
	}
	q := r.URL.Query()
	filter, ok := ParseFilter(q.Get("status"))
	if !ok {
		http.Error(w, "invalid status: want a task status or active, awaiting, terminal", http.StatusBadRequest)
		return
	}
	limit := defaultListLimit
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, TaskList{Items: a.reader.Select(filter, limit)})
}

func (a *taskAPI) get(w http.ResponseWriter, r *http.Request) {
	if !a.readable(w) {
		return
	}
	info, ok := a.reader.Get(r.PathValue("id"))
	if !ok || info == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *taskAPI) create(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSubmitBody)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	if req.Text == "" {
		http.Error(w, "missing text", http.StatusBadRequest)
		return
	}
	resp, err := a.submit(r.Context(), req)
	var reqErr badRequestError
	switch {
	case errors.As(err, &reqErr):
		http.Error(w, reqErr.Error(), http.StatusBadRequest)
	case err != nil:
		http.Error(w, strings.TrimSpace(err.Error()), http.StatusServiceUnavailable)
	default:
		writeJSON(w, http.StatusAccepted, resp)
	}
}

func (a *taskAPI) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !bearerMatches(r, a.authToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (a *taskAPI) readable(w http.ResponseWriter) bool {
	if a.reader == nil {
		http.Error(w, "task view is unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func bearerMatches(r *http.Request, token string) bool {
	if token == "" {
		return false
	}
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	return subtle.ConstantTimeCompare([]byte(got), []byte("Bearer "+token)) == 1
}

type ServerOptions struct {
	Listen string
	Routes RoutesOptions
	// Mount registers additional handlers, such as the Slack slash command endpoints.
	Mount func(mux *http.ServeMux)
}

// StartServer listens on opts.Listen and serves until ctx is done.
func StartServer(ctx context.Context, logger *slog.Logger, opts ServerOptions) (*http.Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	listen := strings.TrimSpace(opts.Listen)
	if listen == "" {
		return nil, errors.New("empty listen address")
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, opts.Routes)
	if opts.Mount != nil {
		opts.Mount(mux)
	}
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "finegate\n")
	})

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", "addr", srv.Addr, "error", err.Error())
		}
	}()

	logger.Info("http_server_start",
		"addr", srv.Addr,
		"health", opts.Routes.HealthEnabled,
		"submit", opts.Routes.Submit != nil,
		"tasks_auth", strings.TrimSpace(opts.Routes.AuthToken) != "",
	)
	return srv, nil
}
