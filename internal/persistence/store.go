package persistence

import (
	"github.com/petrijr/approvo/pkg/api"
)

// InstanceFilter is used to select process instances from the store.
// Empty string / zero status mean "no filter" for that field.
type InstanceFilter struct {
	Topology string
	Status   api.Status
}

// InstanceStore handles storage of process instances.
//
// UpdateInstance is a compare-and-set: it succeeds only when the stored
// version equals expectedVersion, and bumps the version on success. Losers
// receive api.ErrStaleVersion and must re-read.
type InstanceStore interface {
	SaveInstance(inst *api.ProcessInstance) error
	UpdateInstance(inst *api.ProcessInstance, expectedVersion int64) error
	GetInstance(id string) (*api.ProcessInstance, error)
	ListInstances(filter InstanceFilter) ([]*api.ProcessInstance, error)
}

// TaskFilter is used to select tasks from the store.
type TaskFilter struct {
	InstanceID string
	Stage      string
	Assignee   string
	RoleGroup  string
	Topic      string

	// OpenOnly limits results to tasks in Created or Assigned state.
	OpenOnly bool
}

// TaskStore handles storage of tasks. UpdateTask has the same
// compare-and-set contract as InstanceStore.UpdateInstance.
type TaskStore interface {
	SaveTask(t *api.Task) error
	UpdateTask(t *api.Task, expectedVersion int64) error
	GetTask(id string) (*api.Task, error)
	ListTasks(filter TaskFilter) ([]*api.Task, error)
}

// Store bundles the two stores an engine needs.
type Store struct {
	Instances InstanceStore
	Tasks     TaskStore
}
