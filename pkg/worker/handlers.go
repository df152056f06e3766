package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/petrijr/approvo/pkg/api"
)

// AuditRecorder is the write side of the audit journal, injected into
// handlers that record domain events.
type AuditRecorder interface {
	Record(ev api.AuditEvent)
}

// RiskScoringHandler computes a risk score from the request type and the
// submitting department: a base of 30 plus per-attribute factors, clamped to
// 0..100. It outputs riskScore, riskCategory, and an assessment timestamp.
func RiskScoringHandler(ctx context.Context, task *api.Task) (map[string]any, error) {
	requestType := asString(task.Variables["requestType"])
	department := asString(task.Variables["department"])

	score := 30 + requestTypeRiskFactor(requestType) + departmentRiskFactor(department)
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return map[string]any{
		"riskAssessment":          api.DecisionPass,
		"riskScore":               score,
		"riskCategory":            CategorizeRisk(score),
		"riskAssessmentTimestamp": time.Now().UnixMilli(),
	}, nil
}

func requestTypeRiskFactor(requestType string) int {
	switch requestType {
	case "FINANCIAL_PRODUCT":
		return 25
	case "REGULATORY_CHANGE":
		return 30
	case "COMPLIANCE_EXEMPTION":
		return 35
	case "NEW_MARKET_ENTRY":
		return 20
	case "PRODUCT_MODIFICATION":
		return 15
	case "OPERATIONAL_CHANGE":
		return 10
	case "":
		return 10
	default:
		return 5
	}
}

func departmentRiskFactor(department string) int {
	switch department {
	case "TRADING":
		return 20
	case "INVESTMENT":
		return 15
	case "RISK":
		return 10
	case "COMPLIANCE":
		return 5
	case "OPERATIONS":
		return 8
	default:
		return 5
	}
}

// CategorizeRisk maps a 0..100 risk score onto the five risk categories.
func CategorizeRisk(score int) string {
	switch {
	case score >= 80:
		return "CRITICAL"
	case score >= 60:
		return "HIGH"
	case score >= 40:
		return "MEDIUM"
	case score >= 20:
		return "LOW"
	default:
		return "MINIMAL"
	}
}

// NewComplianceCheckHandler returns a handler that validates the request
// against compliance rules and records the outcome in the audit journal.
// High-risk requests require more information; low-risk requests auto-pass.
func NewComplianceCheckHandler(rec AuditRecorder) Handler {
	return func(ctx context.Context, task *api.Task) (map[string]any, error) {
		requestID := asString(task.Variables["requestId"])
		requestType := asString(task.Variables["requestType"])
		riskScore, ok := asInt(task.Variables["riskScore"])
		if !ok {
			riskScore = 50
		}

		result := performComplianceCheck(requestID, requestType, riskScore)

		output := map[string]any{
			"complianceResult":         result,
			"complianceCheckTimestamp": time.Now().UnixMilli(),
		}

		switch result {
		case api.DecisionPass:
			output["complianceComment"] = "Automated compliance check passed"
			rec.Record(api.AuditEvent{
				InstanceID: task.InstanceID,
				TaskID:     task.ID,
				TaskName:   task.Name,
				Type:       api.EventComplianceCheckPassed,
				NewValue:   result,
				Actor:      api.SystemActor,
				Role:       "COMPLIANCE",
				Comment:    "Automated compliance verification completed successfully",
			})
		case api.DecisionFail:
			output["complianceComment"] = "Automated compliance check failed, regulatory requirements not met"
			rec.Record(api.AuditEvent{
				InstanceID: task.InstanceID,
				TaskID:     task.ID,
				TaskName:   task.Name,
				Type:       api.EventComplianceCheckFailed,
				NewValue:   result,
				Actor:      api.SystemActor,
				Role:       "COMPLIANCE",
				Comment:    "Automated compliance verification failed",
			})
		default:
			output["complianceComment"] = "Requires manual compliance review"
		}

		return output, nil
	}
}

func performComplianceCheck(requestID, requestType string, riskScore int) string {
	if riskScore > 80 {
		return api.DecisionNeedsInfo
	}
	if riskScore > 60 && (requestType == "FINANCIAL_PRODUCT" || requestType == "REGULATORY_CHANGE") {
		return api.DecisionNeedsInfo
	}
	if riskScore < 30 {
		return api.DecisionPass
	}

	documentsComplete := requestID != ""
	requirementsMet := requestType != "" && requestType != "PROHIBITED"

	switch {
	case documentsComplete && requirementsMet:
		return api.DecisionPass
	case !documentsComplete:
		return api.DecisionNeedsInfo
	default:
		return api.DecisionFail
	}
}

// NewEscalationHandler returns a handler for escalation bookkeeping tasks:
// it stamps the escalation and passes the stage.
func NewEscalationHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, task *api.Task) (map[string]any, error) {
		logger.WarnContext(ctx, "escalation_handled",
			slog.String("instance_id", task.InstanceID),
			slog.String("task_id", task.ID),
			slog.String("stage", task.Stage),
		)
		return map[string]any{
			"escalationResult":    api.DecisionPass,
			"escalationTimestamp": time.Now().UnixMilli(),
		}, nil
	}
}

// NewNotificationHandler returns a handler that emits stakeholder
// notifications. Delivery here is a structured log line; the embedding
// application replaces it with a real channel.
func NewNotificationHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, task *api.Task) (map[string]any, error) {
		logger.InfoContext(ctx, "notification_sent",
			slog.String("instance_id", task.InstanceID),
			slog.String("request_id", asString(task.Variables["requestId"])),
			slog.String("submitter", asString(task.Variables["submitterId"])),
		)
		return map[string]any{
			"notificationResult": api.DecisionPass,
			"notifiedAt":         time.Now().UnixMilli(),
		}, nil
	}
}

// NewWorkflowCompletionHandler returns a handler for the final bookkeeping
// stage of the default topology.
func NewWorkflowCompletionHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, task *api.Task) (map[string]any, error) {
		logger.InfoContext(ctx, "workflow_completion_processed",
			slog.String("instance_id", task.InstanceID),
			slog.String("request_id", asString(task.Variables["requestId"])),
		)
		return map[string]any{
			"completionResult":    api.DecisionPass,
			"completionTimestamp": time.Now().UnixMilli(),
		}, nil
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
