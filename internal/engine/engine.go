// Package engine implements the process-instance manager: topology
// registration, instance start, decision-driven stage transitions, and
// termination. Task state belongs to the registry; the engine only asks it
// to create tasks for stages an instance enters and to close tasks on
// termination.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/approvo/internal/audit"
	"github.com/petrijr/approvo/internal/persistence"
	"github.com/petrijr/approvo/pkg/api"
)

// TaskCreator is the slice of the registry the engine needs. Implemented by
// *registry.Registry.
type TaskCreator interface {
	CreateTask(ctx context.Context, inst *api.ProcessInstance, spec api.StageSpec) (*api.Task, error)
	ExpireOpenTasks(ctx context.Context, instanceID string) error
}

// Manager implements api.Engine.
type Manager struct {
	store  persistence.Store
	tasks  TaskCreator
	log    *audit.Log
	logger *slog.Logger
	obs    api.Observer

	mu         sync.RWMutex
	topologies map[string]api.Topology
}

var _ api.Engine = (*Manager)(nil)

// New creates a Manager. The registry is attached afterwards via BindTasks;
// construction order puts the registry first because it also needs the
// manager as its decision sink. If logger is nil, slog.Default() is used;
// if obs is nil, the noop observer is used.
func New(store persistence.Store, log *audit.Log, logger *slog.Logger, obs api.Observer) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &Manager{
		store:      store,
		log:        log,
		logger:     logger,
		obs:        obs,
		topologies: make(map[string]api.Topology),
	}
}

// BindTasks attaches the task registry.
func (m *Manager) BindTasks(t TaskCreator) { m.tasks = t }

// RegisterTopology validates the topology and makes it available to Start.
// Registering the same name again replaces the previous definition; running
// instances keep the stage names they already carry.
func (m *Manager) RegisterTopology(def api.Topology) error {
	if err := def.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.topologies[def.Name] = def
	m.mu.Unlock()

	m.logger.Info("topology_registered",
		slog.String("topology", def.Name),
		slog.Int("stages", len(def.Stages)),
	)
	return nil
}

func (m *Manager) topology(name string) (api.Topology, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	def, ok := m.topologies[name]
	if !ok {
		return api.Topology{}, fmt.Errorf("%w: %q", api.ErrTopologyNotFound, name)
	}
	return def, nil
}

// Start creates a process instance in the topology's first stage and seeds
// the first task. The instance stays PENDING until work begins on it: a
// claim on its first task, or the first stage transition.
func (m *Manager) Start(ctx context.Context, topology string, variables map[string]any) (*api.ProcessInstance, error) {
	def, err := m.topology(topology)
	if err != nil {
		return nil, err
	}
	first, err := def.Initial()
	if err != nil {
		return nil, err
	}

	// The instance owns its variable bag; the caller's map stays untouched.
	vars := make(map[string]any, len(variables)+1)
	for k, v := range variables {
		vars[k] = v
	}
	vars["escalated"] = false

	now := time.Now()
	inst := &api.ProcessInstance{
		ID:        uuid.NewString(),
		Topology:  def.Name,
		Stage:     first.Name,
		Status:    api.StatusPending,
		Variables: vars,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Instances.SaveInstance(inst); err != nil {
		return nil, fmt.Errorf("save instance: %w", err)
	}

	m.log.Record(api.AuditEvent{
		InstanceID: inst.ID,
		Type:       api.EventWorkflowStarted,
		NewValue:   first.Name,
		Actor:      api.SystemActor,
	})

	if _, err := m.tasks.CreateTask(ctx, inst, first); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "workflow_started",
		slog.String("instance_id", inst.ID),
		slog.String("topology", def.Name),
		slog.String("stage", first.Name),
	)
	m.obs.OnWorkflowStarted(ctx, inst)

	return inst, nil
}

// Advance applies the transition for (current stage, variable=value). The
// decision variable and value are merged into the instance's variable bag
// along with the supplied variables. It returns the next stage name, or the
// empty string when the instance reached a terminal status.
func (m *Manager) Advance(ctx context.Context, instanceID, variable, value string, variables map[string]any) (string, error) {
	for {
		inst, err := m.store.Instances.GetInstance(instanceID)
		if err != nil {
			return "", err
		}
		if inst.Status.IsTerminal() {
			return "", fmt.Errorf("%w: instance %s is %s", api.ErrUnknownTransition, instanceID, inst.Status)
		}

		def, err := m.topology(inst.Topology)
		if err != nil {
			return "", err
		}
		spec, ok := def.Stage(inst.Stage)
		if !ok {
			return "", fmt.Errorf("%w: instance %s is in unknown stage %q", api.ErrUnknownTransition, instanceID, inst.Stage)
		}
		if variable != spec.DecisionVar {
			return "", fmt.Errorf("%w: stage %q decides via %q, got %q", api.ErrUnknownTransition, inst.Stage, spec.DecisionVar, variable)
		}
		tr, ok := spec.Transitions[value]
		if !ok {
			return "", fmt.Errorf("%w: stage %q has no transition for %s=%q", api.ErrUnknownTransition, inst.Stage, variable, value)
		}

		if inst.Variables == nil {
			inst.Variables = map[string]any{}
		}
		for k, v := range variables {
			inst.Variables[k] = v
		}
		inst.Variables[variable] = value

		oldStage := inst.Stage
		if tr.Terminal != "" {
			inst.Status = tr.Terminal
			inst.CompletedAt = time.Now()
		} else {
			inst.Stage = tr.NextStage
			if inst.Status == api.StatusEscalated || inst.Status == api.StatusPending {
				// Leaving a stage clears an escalation and ends the
				// pre-review grace state alike.
				inst.Status = api.StatusInReview
			}
		}

		if err := m.store.Instances.UpdateInstance(inst, inst.Version); err != nil {
			if errors.Is(err, api.ErrStaleVersion) {
				continue
			}
			return "", err
		}

		if tr.Terminal != "" {
			m.log.Record(api.AuditEvent{
				InstanceID: inst.ID,
				Type:       api.EventWorkflowCompleted,
				OldValue:   oldStage,
				NewValue:   string(tr.Terminal),
				Actor:      api.SystemActor,
			})
			m.logger.InfoContext(ctx, "workflow_completed",
				slog.String("instance_id", inst.ID),
				slog.String("status", string(tr.Terminal)),
			)
			m.obs.OnWorkflowEnded(ctx, inst)
			return "", nil
		}

		next, _ := def.Stage(tr.NextStage)
		if _, err := m.tasks.CreateTask(ctx, inst, next); err != nil {
			return "", err
		}

		m.logger.InfoContext(ctx, "stage_advanced",
			slog.String("instance_id", inst.ID),
			slog.String("from", oldStage),
			slog.String("to", tr.NextStage),
			slog.String("decision", value),
		)
		return tr.NextStage, nil
	}
}

// Terminate forces the instance to TERMINATED, expiring its open tasks.
// Terminating an already-terminal instance is a no-op success.
func (m *Manager) Terminate(ctx context.Context, instanceID, reason string) error {
	for {
		inst, err := m.store.Instances.GetInstance(instanceID)
		if err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return nil
		}

		oldStage := inst.Stage
		inst.Status = api.StatusTerminated
		inst.CompletedAt = time.Now()

		if err := m.store.Instances.UpdateInstance(inst, inst.Version); err != nil {
			if errors.Is(err, api.ErrStaleVersion) {
				continue
			}
			return err
		}

		if err := m.tasks.ExpireOpenTasks(ctx, instanceID); err != nil {
			return err
		}

		m.log.Record(api.AuditEvent{
			InstanceID: inst.ID,
			Type:       api.EventWorkflowTerminated,
			OldValue:   oldStage,
			NewValue:   string(api.StatusTerminated),
			Comment:    reason,
			Actor:      api.SystemActor,
		})
		m.logger.InfoContext(ctx, "workflow_terminated",
			slog.String("instance_id", inst.ID),
			slog.String("stage", oldStage),
			slog.String("reason", reason),
		)
		m.obs.OnWorkflowEnded(ctx, inst)
		return nil
	}
}

// GetInstance looks up a process instance by ID.
func (m *Manager) GetInstance(ctx context.Context, id string) (*api.ProcessInstance, error) {
	return m.store.Instances.GetInstance(id)
}

// ListInstances returns instances matching the options. The submitter filter
// matches the submitterId variable, which the embedding application sets at
// Start.
func (m *Manager) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.ProcessInstance, error) {
	instances, err := m.store.Instances.ListInstances(persistence.InstanceFilter{
		Topology: opts.Topology,
		Status:   opts.Status,
	})
	if err != nil {
		return nil, err
	}
	if opts.Submitter == "" {
		return instances, nil
	}

	filtered := instances[:0]
	for _, inst := range instances {
		if sub, ok := inst.Variables["submitterId"].(string); ok && sub == opts.Submitter {
			filtered = append(filtered, inst)
		}
	}
	return filtered, nil
}

// ResolveStage returns the stage spec for one of the instance's stages.
// Part of the registry's Sink contract.
func (m *Manager) ResolveStage(ctx context.Context, instanceID, stage string) (api.StageSpec, error) {
	inst, err := m.store.Instances.GetInstance(instanceID)
	if err != nil {
		return api.StageSpec{}, err
	}
	def, err := m.topology(inst.Topology)
	if err != nil {
		return api.StageSpec{}, err
	}
	spec, ok := def.Stage(stage)
	if !ok {
		return api.StageSpec{}, fmt.Errorf("%w: topology %q has no stage %q", api.ErrUnknownTransition, inst.Topology, stage)
	}
	return spec, nil
}
