package approvo

import (
	"time"

	"github.com/petrijr/approvo/pkg/api"
)

// Role groups used by the default topology.
const (
	RoleReviewer      = "REVIEWER"
	RoleManager       = "MANAGER"
	RoleSeniorManager = "SENIOR_MANAGER"
	RoleAdmin         = "ADMIN"
	RoleCompliance    = "COMPLIANCE"
	RoleSubmitter     = "SUBMITTER"
)

// DefaultTopology returns the regulatory approval workflow: human review
// stages interleaved with automated scoring, compliance, and notification
// stages. It is the topology the original deployment runs; embedders with
// different stage graphs register their own.
func DefaultTopology() Topology {
	return api.Topology{
		Name: "regulatory-approval",
		Stages: []api.StageSpec{
			{
				Name:           "InitialReview",
				TaskName:       "Initial Review",
				Kind:           api.TaskKindHuman,
				RoleGroups:     []string{RoleReviewer},
				DecisionVar:    "reviewDecision",
				SLA:            24 * time.Hour,
				EscalationRole: RoleManager,
				Transitions: map[string]api.Transition{
					api.DecisionApproved:  {NextStage: "RiskScoring"},
					api.DecisionRejected:  {Terminal: api.StatusRejected},
					api.DecisionNeedsInfo: {NextStage: "ProvideInformation"},
				},
			},
			{
				Name:        "RiskScoring",
				TaskName:    "Risk Scoring",
				Kind:        api.TaskKindWorker,
				Topic:       "risk-scoring",
				DecisionVar: "riskAssessment",
				Transitions: map[string]api.Transition{
					api.DecisionPass: {NextStage: "ManagerApproval"},
				},
			},
			{
				Name:           "ManagerApproval",
				TaskName:       "Manager Approval",
				Kind:           api.TaskKindHuman,
				RoleGroups:     []string{RoleManager},
				DecisionVar:    "managerDecision",
				SLA:            48 * time.Hour,
				EscalationRole: RoleSeniorManager,
				Transitions: map[string]api.Transition{
					api.DecisionApproved:  {NextStage: "ComplianceCheck"},
					api.DecisionRejected:  {Terminal: api.StatusRejected},
					api.DecisionEscalate:  {NextStage: "SeniorManagerReview"},
					api.DecisionNeedsInfo: {NextStage: "ProvideInformation"},
				},
			},
			{
				Name:           "SeniorManagerReview",
				TaskName:       "Senior Manager Review",
				Kind:           api.TaskKindHuman,
				RoleGroups:     []string{RoleSeniorManager},
				DecisionVar:    "seniorDecision",
				SLA:            48 * time.Hour,
				EscalationRole: RoleAdmin,
				Transitions: map[string]api.Transition{
					api.DecisionApproved: {NextStage: "ComplianceCheck"},
					api.DecisionRejected: {Terminal: api.StatusRejected},
				},
			},
			{
				Name:        "ComplianceCheck",
				TaskName:    "Compliance Check",
				Kind:        api.TaskKindWorker,
				Topic:       "compliance-check",
				DecisionVar: "complianceResult",
				Transitions: map[string]api.Transition{
					api.DecisionPass:      {NextStage: "FinalApproval"},
					api.DecisionFail:      {Terminal: api.StatusRejected},
					api.DecisionNeedsInfo: {NextStage: "ProvideInformation"},
				},
			},
			{
				Name:           "ProvideInformation",
				TaskName:       "Provide Additional Information",
				Kind:           api.TaskKindHuman,
				RoleGroups:     []string{RoleSubmitter},
				DecisionVar:    "infoDecision",
				SLA:            72 * time.Hour,
				EscalationRole: RoleManager,
				Transitions: map[string]api.Transition{
					api.DecisionPass: {NextStage: "ManagerApproval"},
					api.DecisionFail: {Terminal: api.StatusRejected},
				},
			},
			{
				Name:           "FinalApproval",
				TaskName:       "Final Approval",
				Kind:           api.TaskKindHuman,
				RoleGroups:     []string{RoleAdmin},
				DecisionVar:    "finalDecision",
				SLA:            24 * time.Hour,
				EscalationRole: RoleAdmin,
				Transitions: map[string]api.Transition{
					api.DecisionApproved: {NextStage: "Notification"},
					api.DecisionRejected: {Terminal: api.StatusRejected},
				},
			},
			{
				Name:        "Notification",
				TaskName:    "Stakeholder Notification",
				Kind:        api.TaskKindWorker,
				Topic:       "notification-service",
				DecisionVar: "notificationResult",
				Transitions: map[string]api.Transition{
					// A failed notification never blocks the approval.
					api.DecisionPass: {NextStage: "Completion"},
					api.DecisionFail: {NextStage: "Completion"},
				},
			},
			{
				Name:        "Completion",
				TaskName:    "Workflow Completion",
				Kind:        api.TaskKindWorker,
				Topic:       "workflow-completion",
				DecisionVar: "completionResult",
				Transitions: map[string]api.Transition{
					api.DecisionPass: {Terminal: api.StatusApproved},
				},
			},
		},
	}
}

// DefaultTopics returns the retry and fallback configuration for the worker
// topics of the default topology.
func DefaultTopics() []TopicConfig {
	return []api.TopicConfig{
		{
			Name:       "risk-scoring",
			MaxRetries: 3,
			BaseDelay:  5 * time.Second,
			Fallback: api.CompleteWithDefault(map[string]any{
				"riskAssessment": api.DecisionPass,
				"riskScore":      50,
				"riskCategory":   "MEDIUM",
			}),
		},
		{
			// Compliance may not be guessed at; exhausted retries block the
			// workflow pending manual intervention.
			Name:       "compliance-check",
			MaxRetries: 3,
			BaseDelay:  10 * time.Second,
			Fallback:   api.RaiseIncident(),
		},
		{
			Name:       "escalation-handler",
			MaxRetries: 3,
			BaseDelay:  5 * time.Second,
			Fallback:   api.CompleteWithFailureFlag(),
		},
		{
			Name:       "notification-service",
			MaxRetries: 3,
			BaseDelay:  5 * time.Second,
			Fallback:   api.CompleteWithFailureFlag(),
		},
		{
			Name:       "workflow-completion",
			MaxRetries: 3,
			BaseDelay:  5 * time.Second,
			Fallback:   api.RaiseIncident(),
		},
	}
}
