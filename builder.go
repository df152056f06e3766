package approvo

import (
	"time"

	"github.com/petrijr/approvo/pkg/api"
)

// TopologyBuilder assembles a Topology stage by stage. Stage-scoped methods
// (SLA, On, OnTerminal) apply to the most recently added stage.
//
//	topo, err := approvo.NewTopology("expense-approval").
//		HumanStage("Review", "Expense Review", "reviewDecision", "FINANCE").
//		SLA(24*time.Hour, "MANAGER").
//		On(approvo.DecisionApproved, "Payout").
//		OnTerminal(approvo.DecisionRejected, approvo.StatusRejected).
//		WorkerStage("Payout", "Payout", "payoutResult", "payments").
//		OnTerminal(approvo.DecisionPass, approvo.StatusApproved).
//		Build()
type TopologyBuilder struct {
	topo api.Topology
}

// NewTopology starts building a topology with the given name.
func NewTopology(name string) *TopologyBuilder {
	return &TopologyBuilder{topo: api.Topology{Name: name}}
}

// HumanStage appends a human stage assigned to the given role groups.
func (b *TopologyBuilder) HumanStage(name, taskName, decisionVar string, roleGroups ...string) *TopologyBuilder {
	b.topo.Stages = append(b.topo.Stages, api.StageSpec{
		Name:        name,
		TaskName:    taskName,
		Kind:        api.TaskKindHuman,
		RoleGroups:  roleGroups,
		DecisionVar: decisionVar,
		Transitions: map[string]api.Transition{},
	})
	return b
}

// WorkerStage appends an automated stage served by workers on a topic.
func (b *TopologyBuilder) WorkerStage(name, taskName, decisionVar, topic string) *TopologyBuilder {
	b.topo.Stages = append(b.topo.Stages, api.StageSpec{
		Name:        name,
		TaskName:    taskName,
		Kind:        api.TaskKindWorker,
		Topic:       topic,
		DecisionVar: decisionVar,
		Transitions: map[string]api.Transition{},
	})
	return b
}

// SLA sets the current stage's deadline and escalation role group.
func (b *TopologyBuilder) SLA(d time.Duration, escalationRole string) *TopologyBuilder {
	if s := b.current(); s != nil {
		s.SLA = d
		s.EscalationRole = escalationRole
	}
	return b
}

// On routes the given decision value of the current stage to another stage.
func (b *TopologyBuilder) On(decision, nextStage string) *TopologyBuilder {
	if s := b.current(); s != nil {
		s.Transitions[decision] = api.Transition{NextStage: nextStage}
	}
	return b
}

// OnTerminal ends the workflow with the given status on the given decision
// value of the current stage.
func (b *TopologyBuilder) OnTerminal(decision string, status Status) *TopologyBuilder {
	if s := b.current(); s != nil {
		s.Transitions[decision] = api.Transition{Terminal: status}
	}
	return b
}

func (b *TopologyBuilder) current() *api.StageSpec {
	if len(b.topo.Stages) == 0 {
		return nil
	}
	return &b.topo.Stages[len(b.topo.Stages)-1]
}

// Build validates and returns the assembled topology.
func (b *TopologyBuilder) Build() (Topology, error) {
	if err := b.topo.Validate(); err != nil {
		return api.Topology{}, err
	}
	return b.topo, nil
}
