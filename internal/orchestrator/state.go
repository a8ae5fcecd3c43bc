package orchestrator

import "time"

type State string

const (
	StateRunning          State = "running"
	StateAwaitingDecision State = "awaiting_decision"
	StateRetrying         State = "retrying"
	StateCompleted        State = "completed"
	StateAwaitingFollowUp State = "awaiting_follow_up"
	StateRunningFollowUp  State = "running_follow_up"
	StateSessionEnded     State = "session_ended"
)

// Snapshot describes a task at one state transition.
type Snapshot struct {
	TaskID    string
	State     State
	ThreadTS  string
	Attempt   int
	FollowUps int
	// ExitCode is set once a worker run has finished.
	ExitCode *int
	PRURL    string
	Detail   string
	At       time.Time
}

type Observer interface {
	Observe(Snapshot)
}

type ObserverFunc func(Snapshot)

func (f ObserverFunc) Observe(s Snapshot) {
	f(s)
}
