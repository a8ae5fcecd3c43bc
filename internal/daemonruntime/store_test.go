package daemonruntime

import (
	"fmt"
	"testing"
	"time"
)

func TestMemoryStoreUpsertListGetUpdate(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(100)
	createdAt := time.Now().UTC().Add(-1 * time.Minute)
	s.Upsert(TaskInfo{
		ID:        "01920000-aaaa",
		Status:    TaskQueued,
		Repo:      "agent",
		IssueID:   "12",
		ChannelID: "C1",
		CreatedAt: createdAt,
	})

	items := s.List("", 20)
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].Status != TaskQueued {
		t.Fatalf("status = %q, want %q", items[0].Status, TaskQueued)
	}

	if !s.Update("01920000-aaaa", func(info *TaskInfo) {
		now := time.Now().UTC()
		info.Status = TaskRunning
		info.StartedAt = &now
		info.Attempt = 1
	}) {
		t.Fatalf("Update() = false, want true")
	}
	s.Update("01920000-aaaa", func(info *TaskInfo) {
		now := time.Now().UTC()
		info.Status = TaskSessionEnded
		info.FinishedAt = &now
	})

	item, ok := s.Get("01920000-aaaa")
	if !ok || item == nil {
		t.Fatalf("Get() not found")
	}
	if item.Status != TaskSessionEnded {
		t.Fatalf("status = %q, want %q", item.Status, TaskSessionEnded)
	}
	if item.StartedAt == nil || item.FinishedAt == nil {
		t.Fatalf("expected started/finished timestamps")
	}
	if s.Active() != 0 {
		t.Fatalf("Active() = %d, want 0", s.Active())
	}
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(10)
	if s.Update("nope", func(*TaskInfo) {}) {
		t.Fatalf("Update() on missing id = true, want false")
	}
	if _, ok := s.Get("nope"); ok {
		t.Fatalf("Update() must not create tasks")
	}
}

func TestMemoryStoreListFilterAndOrder(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(10)
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	s.Upsert(TaskInfo{ID: "a", Status: TaskRunning, CreatedAt: base})
	s.Upsert(TaskInfo{ID: "b", Status: TaskSessionEnded, CreatedAt: base.Add(time.Minute)})
	s.Upsert(TaskInfo{ID: "c", Status: TaskRunning, CreatedAt: base.Add(2 * time.Minute)})

	running := s.List(TaskRunning, 10)
	if len(running) != 2 || running[0].ID != "c" || running[1].ID != "a" {
		t.Fatalf("running = %+v, want [c a]", running)
	}
	if got := s.List("", 1); len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("List(limit=1) = %+v", got)
	}
	if s.Active() != 2 {
		t.Fatalf("Active() = %d, want 2", s.Active())
	}
}

func TestMemoryStorePruneKeepsActiveTasks(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(3)
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	s.Upsert(TaskInfo{ID: "old-running", Status: TaskAwaitingDecision, CreatedAt: base})
	for i := 1; i <= 4; i++ {
		s.Upsert(TaskInfo{ID: fmt.Sprintf("done-%d", i), Status: TaskSessionEnded, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	if _, ok := s.Get("old-running"); !ok {
		t.Fatalf("active task was pruned")
	}
	if got := len(s.List("", 100)); got != 3 {
		t.Fatalf("len = %d, want 3", got)
	}
	if _, ok := s.Get("done-1"); ok {
		t.Fatalf("oldest finished task should be pruned")
	}
}

func TestParseTaskStatus(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		want TaskStatus
		ok   bool
	}{
		"":                     {"", true},
		"Running":              {TaskRunning, true},
		" awaiting_follow_up ": {TaskAwaitingFollowUp, true},
		"lost":                 {TaskLost, true},
		"done":                 {"", false},
	}
	for raw, tc := range cases {
		got, ok := ParseTaskStatus(raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseTaskStatus(%q) = (%q, %v), want (%q, %v)", raw, got, ok, tc.want, tc.ok)
		}
	}
}
