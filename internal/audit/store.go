package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/approvo/pkg/api"
)

// EventStore is the storage backend of the audit journal. Implementations
// only ever append; nothing is updated or deleted.
type EventStore interface {
	Append(ctx context.Context, ev api.AuditEvent) error

	ByInstance(ctx context.Context, instanceID string) ([]api.AuditEvent, error)
	ByTask(ctx context.Context, taskID string) ([]api.AuditEvent, error)
	ByActor(ctx context.Context, actor string) ([]api.AuditEvent, error)
	ByEventType(ctx context.Context, t api.EventType) ([]api.AuditEvent, error)
	ByDateRange(ctx context.Context, start, end time.Time) ([]api.AuditEvent, error)

	CountSince(ctx context.Context, t api.EventType, since time.Time) (int64, error)
	InstancesWithBreach(ctx context.Context, since time.Time) ([]string, error)
}

// MemoryEventStore keeps the journal in a slice. Suited for tests and
// single-process deployments that do not need the journal to survive
// restarts.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []api.AuditEvent
}

// NewMemoryEventStore creates an empty MemoryEventStore.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

var _ EventStore = (*MemoryEventStore)(nil)

func (s *MemoryEventStore) Append(ctx context.Context, ev api.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryEventStore) ByInstance(ctx context.Context, instanceID string) ([]api.AuditEvent, error) {
	out := s.filter(func(ev api.AuditEvent) bool { return ev.InstanceID == instanceID })
	sortBySeq(out)
	return out, nil
}

// sortBySeq orders a per-instance slice by assigned sequence number. Backends
// that append concurrently accepted records in arrival order still satisfy
// the per-instance ordering contract through this sort.
func sortBySeq(events []api.AuditEvent) {
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
}

func (s *MemoryEventStore) ByTask(ctx context.Context, taskID string) ([]api.AuditEvent, error) {
	return s.filter(func(ev api.AuditEvent) bool { return ev.TaskID == taskID }), nil
}

func (s *MemoryEventStore) ByActor(ctx context.Context, actor string) ([]api.AuditEvent, error) {
	return s.filter(func(ev api.AuditEvent) bool { return ev.Actor == actor }), nil
}

func (s *MemoryEventStore) ByEventType(ctx context.Context, t api.EventType) ([]api.AuditEvent, error) {
	return s.filter(func(ev api.AuditEvent) bool { return ev.Type == t }), nil
}

func (s *MemoryEventStore) ByDateRange(ctx context.Context, start, end time.Time) ([]api.AuditEvent, error) {
	return s.filter(func(ev api.AuditEvent) bool {
		return !ev.At.Before(start) && !ev.At.After(end)
	}), nil
}

func (s *MemoryEventStore) CountSince(ctx context.Context, t api.EventType, since time.Time) (int64, error) {
	var n int64
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range s.events {
		if ev.Type == t && !ev.At.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryEventStore) InstancesWithBreach(ctx context.Context, since time.Time) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range s.events {
		if ev.Type != api.EventSLABreach || ev.At.Before(since) {
			continue
		}
		if !seen[ev.InstanceID] {
			seen[ev.InstanceID] = true
			ids = append(ids, ev.InstanceID)
		}
	}
	return ids, nil
}

func (s *MemoryEventStore) filter(keep func(api.AuditEvent) bool) []api.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []api.AuditEvent
	for _, ev := range s.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}
