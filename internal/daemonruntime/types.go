package daemonruntime

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskQueued           TaskStatus = "queued"
	TaskRunning          TaskStatus = "running"
	TaskAwaitingDecision TaskStatus = "awaiting_decision"
	TaskRetrying         TaskStatus = "retrying"
	TaskCompleted        TaskStatus = "completed"
	TaskAwaitingFollowUp TaskStatus = "awaiting_follow_up"
	TaskRunningFollowUp  TaskStatus = "running_follow_up"
	TaskSessionEnded     TaskStatus = "session_ended"
	// TaskLost marks a task that was in flight when the previous process exited.
	TaskLost TaskStatus = "lost"
)

var knownStatuses = []TaskStatus{
	TaskQueued,
	TaskRunning,
	TaskAwaitingDecision,
	TaskRetrying,
	TaskCompleted,
	TaskAwaitingFollowUp,
	TaskRunningFollowUp,
	TaskSessionEnded,
	TaskLost,
}

// Terminal reports whether no further transitions are expected.
func (s TaskStatus) Terminal() bool {
	return s == TaskSessionEnded || s == TaskLost
}

// AwaitingHuman reports whether the task is parked on a question in its thread.
func (s TaskStatus) AwaitingHuman() bool {
	return s == TaskAwaitingDecision || s == TaskAwaitingFollowUp
}

// Filter selects tasks by exact status or by one of the status groups.
// The empty filter matches everything.
type Filter string

const (
	FilterActive   Filter = "active"
	FilterAwaiting Filter = "awaiting"
	FilterTerminal Filter = "terminal"
)

func ParseFilter(raw string) (Filter, bool) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	switch f := Filter(raw); f {
	case FilterActive, FilterAwaiting, FilterTerminal:
		return f, true
	}
	status, ok := ParseTaskStatus(raw)
	return Filter(status), ok
}

func (f Filter) Match(s TaskStatus) bool {
	switch f {
	case "":
		return true
	case FilterActive:
		return !s.Terminal()
	case FilterAwaiting:
		return s.AwaitingHuman()
	case FilterTerminal:
		return s.Terminal()
	default:
		return s == TaskStatus(f)
	}
}

// Summary counts the tasks held by a view.
type Summary struct {
	Total         int `json:"total_tasks"`
	Active        int `json:"active_tasks"`
	AwaitingHuman int `json:"awaiting_human"`
}

// HealthReport is the body of GET /health.
type HealthReport struct {
	OK   bool      `json:"ok"`
	Time time.Time `json:"time"`
	Summary
}

// TaskList is the body of GET /tasks.
type TaskList struct {
	Items []TaskInfo `json:"items"`
}

// SubmitTaskRequest starts a task from command text, e.g. "agent 12 main fix the login".
type SubmitTaskRequest struct {
	Text      string `json:"text"`
	ChannelID string `json:"channel_id,omitempty"`
}

type SubmitTaskResponse struct {
	ID     string     `json:"id"`
	Status TaskStatus `json:"status"`
}

type TaskInfo struct {
	ID          string     `json:"id"`
	Status      TaskStatus `json:"status"`
	Source      string     `json:"source,omitempty"`
	Repo        string     `json:"repo"`
	DisplayName string     `json:"display_name,omitempty"`
	IssueID     string     `json:"issue_id"`
	ChannelID   string     `json:"channel_id,omitempty"`
	ThreadTS    string     `json:"thread_ts,omitempty"`
	Attempt     int        `json:"attempt"`
	FollowUps   int        `json:"follow_ups"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	PRURL       string     `json:"pr_url,omitempty"`
	Aborted     bool       `json:"aborted,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func ParseTaskStatus(raw string) (TaskStatus, bool) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return "", true
	}
	for _, s := range knownStatuses {
		if raw == string(s) {
			return s, true
		}
	}
	return "", false
}
