package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTopology() Topology {
	return Topology{
		Name: "t",
		Stages: []StageSpec{
			{
				Name:           "Review",
				TaskName:       "Review",
				Kind:           TaskKindHuman,
				RoleGroups:     []string{"REVIEWER"},
				DecisionVar:    "reviewDecision",
				SLA:            time.Hour,
				EscalationRole: "MANAGER",
				Transitions: map[string]Transition{
					DecisionApproved: {NextStage: "Check"},
					DecisionRejected: {Terminal: StatusRejected},
				},
			},
			{
				Name:        "Check",
				Kind:        TaskKindWorker,
				Topic:       "checks",
				DecisionVar: "checkResult",
				Transitions: map[string]Transition{
					DecisionPass: {Terminal: StatusApproved},
				},
			},
		},
	}
}

func TestValidateAcceptsWellFormedTopology(t *testing.T) {
	require.NoError(t, validTopology().Validate())
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Topology)
	}{
		{"empty name", func(topo *Topology) { topo.Name = "" }},
		{"no stages", func(topo *Topology) { topo.Stages = nil }},
		{"duplicate stage", func(topo *Topology) {
			topo.Stages = append(topo.Stages, topo.Stages[0])
		}},
		{"missing decision var", func(topo *Topology) { topo.Stages[0].DecisionVar = "" }},
		{"human stage without roles", func(topo *Topology) { topo.Stages[0].RoleGroups = nil }},
		{"worker stage without topic", func(topo *Topology) { topo.Stages[1].Topic = "" }},
		{"unknown kind", func(topo *Topology) { topo.Stages[0].Kind = "ROBOT" }},
		{"no transitions", func(topo *Topology) { topo.Stages[1].Transitions = nil }},
		{"unknown next stage", func(topo *Topology) {
			topo.Stages[0].Transitions[DecisionApproved] = Transition{NextStage: "Nowhere"}
		}},
		{"both next and terminal", func(topo *Topology) {
			topo.Stages[0].Transitions[DecisionApproved] = Transition{NextStage: "Check", Terminal: StatusApproved}
		}},
		{"non-terminal terminal status", func(topo *Topology) {
			topo.Stages[0].Transitions[DecisionRejected] = Transition{Terminal: StatusInReview}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			topo := validTopology()
			tc.mutate(&topo)
			require.ErrorIs(t, topo.Validate(), ErrInvalidTopology)
		})
	}
}

func TestValidateRejectsHappyPathCycle(t *testing.T) {
	topo := validTopology()
	topo.Stages[1].Transitions[DecisionPass] = Transition{NextStage: "Review"}
	err := topo.Validate()
	require.ErrorIs(t, err, ErrInvalidTopology)
	assert.Contains(t, err.Error(), "revisits")
}

func TestValidateAllowsBackwardNeedsInfoBranch(t *testing.T) {
	// Loops through a needs-info branch are legitimate; only the primary
	// approval path must terminate.
	topo := validTopology()
	topo.Stages[1].Transitions[DecisionNeedsInfo] = Transition{NextStage: "Review"}
	require.NoError(t, topo.Validate())
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusApproved.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusTerminated.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusInReview.IsTerminal())
	assert.False(t, StatusEscalated.IsTerminal())
}

func TestTaskStateIsOpen(t *testing.T) {
	assert.True(t, TaskCreated.IsOpen())
	assert.True(t, TaskAssigned.IsOpen())
	assert.False(t, TaskCompleted.IsOpen())
	assert.False(t, TaskExpired.IsOpen())
}
