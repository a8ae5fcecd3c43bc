package taskscmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yosuke0517/dev-assistant-agent/internal/daemonruntime"
)

var errTaskNotFound = errors.New("task not found")

// daemonClient talks to the /health and /tasks routes of a running serve.
type daemonClient struct {
	baseURL   string
	authToken string
	client    *http.Client
}

func newDaemonClient(baseURL, authToken string) *daemonClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	authToken = strings.TrimSpace(authToken)
	return &daemonClient{
		baseURL:   baseURL,
		authToken: authToken,
		client:    &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *daemonClient) readyBaseURL() error {
	if c == nil || strings.TrimSpace(c.baseURL) == "" {
		return fmt.Errorf("daemon server url is not configured")
	}
	return nil
}

func (c *daemonClient) ready() error {
	if err := c.readyBaseURL(); err != nil {
		return err
	}
	if strings.TrimSpace(c.authToken) == "" {
		return fmt.Errorf("daemon server auth token is not configured")
	}
	return nil
}

func (c *daemonClient) Health(ctx context.Context) (daemonruntime.HealthReport, error) {
	var out daemonruntime.HealthReport
	if err := c.readyBaseURL(); err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return out, err
	}
	raw, status, err := c.do(req, 1<<20)
	if err != nil {
		return out, err
	}
	if status < 200 || status >= 300 {
		return out, fmt.Errorf("daemon health http %d: %s", status, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("invalid daemon health response: %w", err)
	}
	return out, nil
}

func (c *daemonClient) List(ctx context.Context, filter daemonruntime.Filter, limit int) ([]daemonruntime.TaskInfo, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{}
	if f := strings.TrimSpace(string(filter)); f != "" {
		q.Set("status", f)
	}
	q.Set("limit", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	raw, code, err := c.do(req, 8<<20)
	if err != nil {
		return nil, err
	}
	if code < 200 || code >= 300 {
		return nil, fmt.Errorf("daemon http %d: %s", code, strings.TrimSpace(string(raw)))
	}

	var out daemonruntime.TaskList
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid daemon response: %w", err)
	}
	return out.Items, nil
}

func (c *daemonClient) Get(ctx context.Context, id string) (*daemonruntime.TaskInfo, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("missing task id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	raw, code, err := c.do(req, 8<<20)
	if err != nil {
		return nil, err
	}
	if code == http.StatusNotFound {
		return nil, errTaskNotFound
	}
	if code < 200 || code >= 300 {
		return nil, fmt.Errorf("daemon http %d: %s", code, strings.TrimSpace(string(raw)))
	}

	var out daemonruntime.TaskInfo
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid daemon response: %w", err)
	}
	return &out, nil
}

func (c *daemonClient) Submit(ctx context.Context, in daemonruntime.SubmitTaskRequest) (daemonruntime.SubmitTaskResponse, error) {
	if err := c.ready(); err != nil {
		return daemonruntime.SubmitTaskResponse{}, err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return daemonruntime.SubmitTaskResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks", bytes.NewReader(body))
	if err != nil {
		return daemonruntime.SubmitTaskResponse{}, err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	raw, code, err := c.do(req, 1<<20)
	if err != nil {
		return daemonruntime.SubmitTaskResponse{}, err
	}
	if code < 200 || code >= 300 {
		return daemonruntime.SubmitTaskResponse{}, fmt.Errorf("daemon http %d: %s", code, strings.TrimSpace(string(raw)))
	}
	var out daemonruntime.SubmitTaskResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return daemonruntime.SubmitTaskResponse{}, fmt.Errorf("invalid daemon response: %w", err)
	}
	return out, nil
}

func (c *daemonClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.authToken)
}

func (c *daemonClient) do(req *http.Request, limit int64) ([]byte, int, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, limit))
	return raw, resp.StatusCode, nil
}
