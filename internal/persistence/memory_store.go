package persistence

import (
	"slices"
	"sync"
	"time"

	"github.com/petrijr/approvo/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of InstanceStore and
// TaskStore backed by maps. Values are copied on the way in and out so
// callers can never mutate stored state without going through an update.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*api.ProcessInstance
	tasks     map[string]*api.Task
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[string]*api.ProcessInstance),
		tasks:     make(map[string]*api.Task),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ InstanceStore = (*InMemoryStore)(nil)

var _ TaskStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveInstance(inst *api.ProcessInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

func (s *InMemoryStore) UpdateInstance(inst *api.ProcessInstance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.instances[inst.ID]
	if !ok {
		return api.ErrInstanceNotFound
	}
	if stored.Version != expectedVersion {
		return api.ErrStaleVersion
	}

	inst.Version = expectedVersion + 1
	inst.UpdatedAt = time.Now()
	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

func (s *InMemoryStore) GetInstance(id string) (*api.ProcessInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, api.ErrInstanceNotFound
	}
	return cloneInstance(inst), nil
}

func (s *InMemoryStore) ListInstances(filter InstanceFilter) ([]*api.ProcessInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.ProcessInstance
	for _, inst := range s.instances {
		if filter.Topology != "" && inst.Topology != filter.Topology {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		result = append(result, cloneInstance(inst))
	}
	return result, nil
}

func (s *InMemoryStore) SaveTask(t *api.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[t.ID] = cloneTask(t)
	return nil
}

func (s *InMemoryStore) UpdateTask(t *api.Task, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[t.ID]
	if !ok {
		return api.ErrTaskNotFound
	}
	if stored.Version != expectedVersion {
		return api.ErrStaleVersion
	}

	t.Version = expectedVersion + 1
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

func (s *InMemoryStore) GetTask(id string) (*api.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, api.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (s *InMemoryStore) ListTasks(filter TaskFilter) ([]*api.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Task
	for _, t := range s.tasks {
		if !matchTask(t, filter) {
			continue
		}
		result = append(result, cloneTask(t))
	}
	return result, nil
}

func matchTask(t *api.Task, filter TaskFilter) bool {
	if filter.InstanceID != "" && t.InstanceID != filter.InstanceID {
		return false
	}
	if filter.Stage != "" && t.Stage != filter.Stage {
		return false
	}
	if filter.Assignee != "" && t.Assignee != filter.Assignee {
		return false
	}
	if filter.RoleGroup != "" && !slices.Contains(t.RoleGroups, filter.RoleGroup) {
		return false
	}
	if filter.Topic != "" && t.Topic != filter.Topic {
		return false
	}
	if filter.OpenOnly && !t.State.IsOpen() {
		return false
	}
	return true
}

func cloneInstance(inst *api.ProcessInstance) *api.ProcessInstance {
	c := *inst
	if inst.Variables != nil {
		c.Variables = make(map[string]any, len(inst.Variables))
		for k, v := range inst.Variables {
			c.Variables[k] = v
		}
	}
	return &c
}

func cloneTask(t *api.Task) *api.Task {
	c := *t
	c.RoleGroups = slices.Clone(t.RoleGroups)
	if t.Variables != nil {
		c.Variables = make(map[string]any, len(t.Variables))
		for k, v := range t.Variables {
			c.Variables[k] = v
		}
	}
	return &c
}
