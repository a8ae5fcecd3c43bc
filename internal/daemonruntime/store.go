package daemonruntime

import (
	"sort"
	"strings"
	"sync"
)

const defaultMaxItems = 1000

// TaskReader is the read side of the task API.
type TaskReader interface {
	Select(filter Filter, limit int) []TaskInfo
	Get(id string) (*TaskInfo, bool)
	Summary() Summary
}

// MemoryStore is the in-memory view of tasks started by this process.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string]TaskInfo
	maxItems int
}

func NewMemoryStore(maxItems int) *MemoryStore {
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	return &MemoryStore{
		items:    make(map[string]TaskInfo),
		maxItems: maxItems,
	}
}

func (s *MemoryStore) Upsert(info TaskInfo) {
	if s == nil {
		return
	}
	id := strings.TrimSpace(info.ID)
	if id == "" {
		return
	}
	info.ID = id
	info.Status, _ = ParseTaskStatus(string(info.Status))

	s.mu.Lock()
	s.items[id] = info
	s.pruneLocked()
	s.mu.Unlock()
}

// Update applies fn to the stored task and reports whether the task exists.
func (s *MemoryStore) Update(id string, fn func(*TaskInfo)) bool {
	if s == nil || fn == nil {
		return false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return false
	}
	fn(&item)
	item.ID = id
	item.Status, _ = ParseTaskStatus(string(item.Status))
	s.items[id] = item
	return true
}

// Active counts tasks that have not reached a terminal status.
func (s *MemoryStore) Active() int {
	return s.Summary().Active
}

func (s *MemoryStore) Summary() Summary {
	if s == nil {
		return Summary{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := Summary{Total: len(s.items)}
	for _, item := range s.items {
		if !item.Status.Terminal() {
			sum.Active++
		}
		if item.Status.AwaitingHuman() {
			sum.AwaitingHuman++
		}
	}
	return sum
}

func (s *MemoryStore) Get(id string) (*TaskInfo, bool) {
	if s == nil {
		return nil, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false
	}
	s.mu.RLock()
	item, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	cp := item
	return &cp, true
}

// List returns tasks in one status (all when empty), newest first.
func (s *MemoryStore) List(status TaskStatus, limit int) []TaskInfo {
	return s.Select(Filter(strings.TrimSpace(strings.ToLower(string(status)))), limit)
}

// Select returns tasks matching filter, newest first, at most limit (capped at 200).
func (s *MemoryStore) Select(filter Filter, limit int) []TaskInfo {
	if s == nil {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}

	s.mu.RLock()
	out := make([]TaskInfo, 0, len(s.items))
	for _, item := range s.items {
		if !filter.Match(item.Status) {
			continue
		}
		out = append(out, item)
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) pruneLocked() {
	if s.maxItems <= 0 || len(s.items) <= s.maxItems {
		return
	}
	all := make([]TaskInfo, 0, len(s.items))
	for _, item := range s.items {
		all = append(all, item)
	}
	sortNewestFirst(all)
	// Terminal tasks are dropped first; running ones are kept whatever their age.
	sort.SliceStable(all, func(i, j int) bool {
		return !all[i].Status.Terminal() && all[j].Status.Terminal()
	})
	keep := make(map[string]TaskInfo, s.maxItems)
	for i := 0; i < len(all) && i < s.maxItems; i++ {
		keep[all[i].ID] = all[i]
	}
	s.items = keep
}

func sortNewestFirst(items []TaskInfo) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
