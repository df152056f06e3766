package api

import (
	"fmt"
	"time"
)

// Transition is one entry of a stage's transition table. Exactly one of
// NextStage or Terminal is set: either the workflow moves to another stage,
// or it ends with a terminal status.
type Transition struct {
	NextStage string
	Terminal  Status
}

// StageSpec describes a named step in the topology: who works on it, how a
// decision is expressed, how long it may remain unresolved, and where each
// decision value leads.
type StageSpec struct {
	Name string

	// TaskName is the human-readable task title, e.g. "Initial Review".
	TaskName string

	Kind TaskKind

	// RoleGroups are candidate groups for human stages.
	RoleGroups []string

	// Topic is the worker queue for worker stages.
	Topic string

	// DecisionVar names the process variable that carries this stage's
	// decision. It is explicit configuration; decisions are never inferred
	// from task names.
	DecisionVar string

	// SLA is the maximum time the stage's task may stay unresolved before
	// escalation fires. Zero means no deadline.
	SLA time.Duration

	// EscalationRole is the role group the escalation task is created for
	// when the SLA is breached.
	EscalationRole string

	// Transitions maps decision values to the next stage or terminal status.
	Transitions map[string]Transition
}

// Topology is the fixed stage graph of a workflow: a linear happy path plus
// named escalation branches. It is configuration, not an arbitrary graph.
type Topology struct {
	Name   string
	Stages []StageSpec
}

// Initial returns the first stage of the topology.
func (t Topology) Initial() (StageSpec, error) {
	if len(t.Stages) == 0 {
		return StageSpec{}, fmt.Errorf("%w: topology %q has no stages", ErrInvalidTopology, t.Name)
	}
	return t.Stages[0], nil
}

// Stage looks up a stage by name.
func (t Topology) Stage(name string) (StageSpec, bool) {
	for _, s := range t.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageSpec{}, false
}

// Validate checks that the topology is usable: it is non-empty, every
// transition references a known stage or a terminal status, each stage
// declares a decision variable, and the happy path contains no cycle that
// would keep an instance from ever reaching a terminal status.
func (t Topology) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: topology name is required", ErrInvalidTopology)
	}
	if len(t.Stages) == 0 {
		return fmt.Errorf("%w: topology %q has no stages", ErrInvalidTopology, t.Name)
	}

	byName := make(map[string]StageSpec, len(t.Stages))
	for _, s := range t.Stages {
		if s.Name == "" {
			return fmt.Errorf("%w: stage name is required", ErrInvalidTopology)
		}
		if _, dup := byName[s.Name]; dup {
			return fmt.Errorf("%w: duplicate stage %q", ErrInvalidTopology, s.Name)
		}
		byName[s.Name] = s
	}

	for _, s := range t.Stages {
		if s.DecisionVar == "" {
			return fmt.Errorf("%w: stage %q has no decision variable", ErrInvalidTopology, s.Name)
		}
		switch s.Kind {
		case TaskKindHuman:
			if len(s.RoleGroups) == 0 {
				return fmt.Errorf("%w: human stage %q has no role groups", ErrInvalidTopology, s.Name)
			}
		case TaskKindWorker:
			if s.Topic == "" {
				return fmt.Errorf("%w: worker stage %q has no topic", ErrInvalidTopology, s.Name)
			}
		default:
			return fmt.Errorf("%w: stage %q has unknown kind %q", ErrInvalidTopology, s.Name, s.Kind)
		}
		if len(s.Transitions) == 0 {
			return fmt.Errorf("%w: stage %q has no transitions", ErrInvalidTopology, s.Name)
		}
		for value, tr := range s.Transitions {
			if (tr.NextStage == "") == (tr.Terminal == "") {
				return fmt.Errorf("%w: stage %q decision %q must set exactly one of next stage or terminal status",
					ErrInvalidTopology, s.Name, value)
			}
			if tr.NextStage != "" {
				if _, ok := byName[tr.NextStage]; !ok {
					return fmt.Errorf("%w: stage %q decision %q references unknown stage %q",
						ErrInvalidTopology, s.Name, value, tr.NextStage)
				}
			}
			if tr.Terminal != "" && !tr.Terminal.IsTerminal() {
				return fmt.Errorf("%w: stage %q decision %q targets non-terminal status %q",
					ErrInvalidTopology, s.Name, value, tr.Terminal)
			}
		}
	}

	return t.checkHappyPath(byName)
}

// checkHappyPath walks the primary transition of each stage (the first
// non-escalation, non-loop decision in a stable order) and rejects cycles.
// Escalation and needs-info branches may legitimately point backwards.
func (t Topology) checkHappyPath(byName map[string]StageSpec) error {
	seen := make(map[string]bool, len(t.Stages))
	current := t.Stages[0].Name

	for current != "" {
		if seen[current] {
			return fmt.Errorf("%w: happy path revisits stage %q", ErrInvalidTopology, current)
		}
		seen[current] = true

		next := ""
		spec := byName[current]
		for _, value := range []string{DecisionApproved, DecisionPass} {
			if tr, ok := spec.Transitions[value]; ok {
				if tr.Terminal != "" {
					return nil
				}
				next = tr.NextStage
				break
			}
		}
		if next == "" {
			// No approval-style transition: the happy path ends here.
			return nil
		}
		current = next
	}
	return nil
}
