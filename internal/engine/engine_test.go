package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petrijr/approvo/internal/audit"
	"github.com/petrijr/approvo/internal/persistence"
	"github.com/petrijr/approvo/pkg/api"
)

// stubTasks records CreateTask / ExpireOpenTasks calls.
type stubTasks struct {
	mu      sync.Mutex
	created []string // stage names
	expired []string // instance ids
}

func (s *stubTasks) CreateTask(ctx context.Context, inst *api.ProcessInstance, spec api.StageSpec) (*api.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, spec.Name)
	return &api.Task{ID: "task-" + spec.Name, InstanceID: inst.ID, Stage: spec.Name}, nil
}

func (s *stubTasks) ExpireOpenTasks(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = append(s.expired, instanceID)
	return nil
}

func twoStageTopology() api.Topology {
	return api.Topology{
		Name: "two-stage",
		Stages: []api.StageSpec{
			{
				Name:        "Review",
				TaskName:    "Review",
				Kind:        api.TaskKindHuman,
				RoleGroups:  []string{"reviewers"},
				DecisionVar: "reviewDecision",
				Transitions: map[string]api.Transition{
					api.DecisionApproved: {NextStage: "FinalApproval"},
					api.DecisionRejected: {Terminal: api.StatusRejected},
				},
			},
			{
				Name:        "FinalApproval",
				TaskName:    "Final Approval",
				Kind:        api.TaskKindHuman,
				RoleGroups:  []string{"admins"},
				DecisionVar: "finalDecision",
				Transitions: map[string]api.Transition{
					api.DecisionApproved: {Terminal: api.StatusApproved},
					api.DecisionRejected: {Terminal: api.StatusRejected},
				},
			},
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *stubTasks, *audit.Log) {
	t.Helper()

	store := persistence.NewInMemoryStore()
	log := audit.New(audit.NewMemoryEventStore(), nil)
	t.Cleanup(log.Close)

	tasks := &stubTasks{}
	m := New(persistence.Store{Instances: store, Tasks: store}, log, nil, nil)
	m.BindTasks(tasks)

	if err := m.RegisterTopology(twoStageTopology()); err != nil {
		t.Fatalf("RegisterTopology failed: %v", err)
	}
	return m, tasks, log
}

func TestRegisterTopologyRejectsInvalid(t *testing.T) {
	m, _, _ := newTestManager(t)

	bad := api.Topology{
		Name: "bad",
		Stages: []api.StageSpec{
			{
				Name:        "Review",
				Kind:        api.TaskKindHuman,
				RoleGroups:  []string{"reviewers"},
				DecisionVar: "d",
				Transitions: map[string]api.Transition{
					api.DecisionApproved: {NextStage: "Missing"},
				},
			},
		},
	}
	if err := m.RegisterTopology(bad); !errors.Is(err, api.ErrInvalidTopology) {
		t.Fatalf("expected ErrInvalidTopology, got %v", err)
	}
}

func TestStartSeedsFirstStage(t *testing.T) {
	m, tasks, log := newTestManager(t)
	ctx := context.Background()

	inst, err := m.Start(ctx, "two-stage", map[string]any{"submitterId": "alice"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if inst.Stage != "Review" || inst.Status != api.StatusPending {
		t.Fatalf("unexpected instance: stage=%s status=%s", inst.Stage, inst.Status)
	}
	if inst.Variables["escalated"] != false {
		t.Fatal("escalated variable not seeded")
	}
	if len(tasks.created) != 1 || tasks.created[0] != "Review" {
		t.Fatalf("first task not created: %v", tasks.created)
	}

	log.Flush()
	events, _ := log.ByInstance(ctx, inst.ID)
	if len(events) != 1 || events[0].Type != api.EventWorkflowStarted {
		t.Fatalf("expected WORKFLOW_STARTED, got %+v", events)
	}
}

func TestStartLeavesCallerVariablesAlone(t *testing.T) {
	m, _, _ := newTestManager(t)

	input := map[string]any{"submitterId": "alice"}
	inst, err := m.Start(context.Background(), "two-stage", input)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, ok := input["escalated"]; ok {
		t.Fatal("Start wrote into the caller's map")
	}
	if len(input) != 1 {
		t.Fatalf("caller's map changed: %+v", input)
	}
	if inst.Variables["submitterId"] != "alice" || inst.Variables["escalated"] != false {
		t.Fatalf("instance variables not seeded: %+v", inst.Variables)
	}
}

func TestStartUnknownTopology(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Start(context.Background(), "no-such", nil)
	if !errors.Is(err, api.ErrTopologyNotFound) {
		t.Fatalf("expected ErrTopologyNotFound, got %v", err)
	}
}

func TestAdvanceMovesToNextStage(t *testing.T) {
	m, tasks, _ := newTestManager(t)
	ctx := context.Background()

	inst, _ := m.Start(ctx, "two-stage", nil)

	next, err := m.Advance(ctx, inst.ID, "reviewDecision", api.DecisionApproved, map[string]any{"comment": "fine"})
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if next != "FinalApproval" {
		t.Fatalf("expected FinalApproval, got %q", next)
	}

	got, _ := m.GetInstance(ctx, inst.ID)
	if got.Stage != "FinalApproval" {
		t.Fatalf("instance stage %q", got.Stage)
	}
	if got.Status != api.StatusInReview {
		t.Fatalf("first transition left status %s, want IN_REVIEW", got.Status)
	}
	if got.Variables["reviewDecision"] != api.DecisionApproved || got.Variables["comment"] != "fine" {
		t.Fatalf("variables not merged: %+v", got.Variables)
	}
	if len(tasks.created) != 2 || tasks.created[1] != "FinalApproval" {
		t.Fatalf("next stage task not created: %v", tasks.created)
	}
}

func TestAdvanceUnknownDecision(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	inst, _ := m.Start(ctx, "two-stage", nil)

	if _, err := m.Advance(ctx, inst.ID, "reviewDecision", "MAYBE", nil); !errors.Is(err, api.ErrUnknownTransition) {
		t.Fatalf("expected ErrUnknownTransition for unknown value, got %v", err)
	}
	// Decision values are case-sensitive.
	if _, err := m.Advance(ctx, inst.ID, "reviewDecision", "approved", nil); !errors.Is(err, api.ErrUnknownTransition) {
		t.Fatalf("expected ErrUnknownTransition for lowercase value, got %v", err)
	}
	if _, err := m.Advance(ctx, inst.ID, "wrongVar", api.DecisionApproved, nil); !errors.Is(err, api.ErrUnknownTransition) {
		t.Fatalf("expected ErrUnknownTransition for wrong variable, got %v", err)
	}

	got, _ := m.GetInstance(ctx, inst.ID)
	if got.Stage != "Review" {
		t.Fatalf("failed advance moved the instance to %q", got.Stage)
	}
}

func TestAdvanceToTerminal(t *testing.T) {
	m, tasks, log := newTestManager(t)
	ctx := context.Background()

	inst, _ := m.Start(ctx, "two-stage", nil)
	if _, err := m.Advance(ctx, inst.ID, "reviewDecision", api.DecisionApproved, nil); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	next, err := m.Advance(ctx, inst.ID, "finalDecision", api.DecisionApproved, nil)
	if err != nil {
		t.Fatalf("terminal Advance failed: %v", err)
	}
	if next != "" {
		t.Fatalf("expected empty next stage, got %q", next)
	}

	got, _ := m.GetInstance(ctx, inst.ID)
	if got.Status != api.StatusApproved {
		t.Fatalf("status %s, want APPROVED", got.Status)
	}
	if got.CompletedAt.IsZero() {
		t.Fatal("CompletedAt not set")
	}
	if len(tasks.created) != 2 {
		t.Fatalf("terminal transition created a task: %v", tasks.created)
	}

	// A terminal instance accepts no further decisions.
	if _, err := m.Advance(ctx, inst.ID, "finalDecision", api.DecisionRejected, nil); !errors.Is(err, api.ErrUnknownTransition) {
		t.Fatalf("expected ErrUnknownTransition on terminal instance, got %v", err)
	}

	log.Flush()
	completed, _ := log.ByEventType(ctx, api.EventWorkflowCompleted)
	if len(completed) != 1 {
		t.Fatalf("expected 1 WORKFLOW_COMPLETED, got %d", len(completed))
	}
}

func TestAdvanceClearsEscalatedStatus(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	inst, _ := m.Start(ctx, "two-stage", nil)

	// Simulate an SLA breach having flagged the instance.
	stored, _ := m.store.Instances.GetInstance(inst.ID)
	stored.Status = api.StatusEscalated
	if err := m.store.Instances.UpdateInstance(stored, stored.Version); err != nil {
		t.Fatalf("UpdateInstance failed: %v", err)
	}

	if _, err := m.Advance(ctx, inst.ID, "reviewDecision", api.DecisionApproved, nil); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	got, _ := m.GetInstance(ctx, inst.ID)
	if got.Status != api.StatusInReview {
		t.Fatalf("escalated status not cleared: %s", got.Status)
	}
}

func TestTerminate(t *testing.T) {
	m, tasks, log := newTestManager(t)
	ctx := context.Background()

	inst, _ := m.Start(ctx, "two-stage", nil)

	if err := m.Terminate(ctx, inst.ID, "withdrawn by submitter"); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	got, _ := m.GetInstance(ctx, inst.ID)
	if got.Status != api.StatusTerminated {
		t.Fatalf("status %s, want TERMINATED", got.Status)
	}
	if len(tasks.expired) != 1 || tasks.expired[0] != inst.ID {
		t.Fatalf("open tasks not expired: %v", tasks.expired)
	}

	// Idempotent.
	if err := m.Terminate(ctx, inst.ID, "again"); err != nil {
		t.Fatalf("repeated Terminate failed: %v", err)
	}
	if len(tasks.expired) != 1 {
		t.Fatalf("repeated Terminate expired tasks again: %v", tasks.expired)
	}

	log.Flush()
	events, _ := log.ByEventType(ctx, api.EventWorkflowTerminated)
	if len(events) != 1 || events[0].Comment != "withdrawn by submitter" {
		t.Fatalf("unexpected termination events: %+v", events)
	}
}

func TestListInstances(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	a, _ := m.Start(ctx, "two-stage", map[string]any{"submitterId": "alice"})
	b, _ := m.Start(ctx, "two-stage", map[string]any{"submitterId": "bob"})
	if err := m.Terminate(ctx, b.ID, "test"); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}

	// Nobody picked up a's first task yet.
	pending, err := m.ListInstances(ctx, api.InstanceListOptions{Status: api.StatusPending})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != a.ID {
		t.Fatalf("unexpected pending instances: %+v", pending)
	}

	bySubmitter, err := m.ListInstances(ctx, api.InstanceListOptions{Submitter: "bob"})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(bySubmitter) != 1 || bySubmitter[0].ID != b.ID {
		t.Fatalf("unexpected submitter instances: %+v", bySubmitter)
	}
}

func TestResolveStage(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	inst, _ := m.Start(ctx, "two-stage", nil)

	spec, err := m.ResolveStage(ctx, inst.ID, "Review")
	if err != nil {
		t.Fatalf("ResolveStage failed: %v", err)
	}
	if spec.DecisionVar != "reviewDecision" {
		t.Fatalf("unexpected spec: %+v", spec)
	}

	if _, err := m.ResolveStage(ctx, inst.ID, "NoSuchStage"); !errors.Is(err, api.ErrUnknownTransition) {
		t.Fatalf("expected ErrUnknownTransition, got %v", err)
	}
}

func TestStartStampsTimes(t *testing.T) {
	m, _, _ := newTestManager(t)

	before := time.Now()
	inst, err := m.Start(context.Background(), "two-stage", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if inst.CreatedAt.Before(before) {
		t.Fatalf("CreatedAt %v before test start %v", inst.CreatedAt, before)
	}
}
