package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/petrijr/approvo/pkg/api"
)

func TestObserverCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewObserver(reg)
	ctx := context.Background()

	inst := &api.ProcessInstance{ID: "inst-1", Status: api.StatusApproved}
	task := &api.Task{ID: "task-1", InstanceID: "inst-1", Kind: api.TaskKindHuman}

	obs.OnWorkflowStarted(ctx, inst)
	obs.OnWorkflowEnded(ctx, inst)
	obs.OnTaskCreated(ctx, task)
	obs.OnTaskCompleted(ctx, task, api.DecisionApproved, 5*time.Second)
	obs.OnEscalation(ctx, task, "senior-managers")

	assert.Equal(t, 1.0, testutil.ToFloat64(obs.workflowsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.workflowsEnded.WithLabelValues("APPROVED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.tasksCreated.WithLabelValues("HUMAN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.tasksCompleted.WithLabelValues("APPROVED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.escalations))
}
