package governance

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/models"
)

// PolicySource queries external policy compliance states for a resource.
type PolicySource interface {
	PolicyStates(ctx context.Context, resourceID string) ([]models.PolicyState, error)
}

// EvaluationResult is the pre-flight verdict for one action request.
type EvaluationResult struct {
	Decision           models.GovernanceDecision `json:"decision"`
	Violations         []models.PolicyViolation  `json:"violations"`
	ApprovalWorkflowID *uuid.UUID                `json:"approval_workflow_id,omitempty"`
	Reason             string                    `json:"reason,omitempty"`
	EvaluatedAt        time.Time                 `json:"evaluated_at"`
}

// IsApproved reports whether the action may proceed without further
// sign-off.
func (r *EvaluationResult) IsApproved() bool {
	return r.Decision == models.DecisionAllow || r.Decision == models.DecisionAuditOnly
}

// PostFlightResult is the post-execution violation check.
type PostFlightResult struct {
	Violations          []models.PolicyViolation `json:"violations"`
	RequiresRemediation bool                     `json:"requires_remediation"`
	RemediationActions  []string                 `json:"remediation_actions,omitempty"`
}

// Engine gates risky operations with a pre-execution decision and detects
// violations after execution. Evaluation never fails open: any internal
// error resolves to Deny.
type Engine struct {
	source    PolicySource
	workflows *Workflows
	cache     *policyCache
	logger    *slog.Logger
}

func NewEngine(source PolicySource, workflows *Workflows, cacheTTL time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if workflows == nil {
		workflows = NewWorkflows()
	}
	return &Engine{
		source:    source,
		workflows: workflows,
		cache:     newPolicyCache(cacheTTL),
		logger:    logger,
	}
}

func (e *Engine) Workflows() *Workflows {
	return e.workflows
}

// Evaluate produces the pre-flight decision for an action request.
func (e *Engine) Evaluate(ctx context.Context, req models.ActionRequest) (result *EvaluationResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("governance evaluation panicked", "action", req.Action, "panic", r)
			result = e.deny(req, "evaluation failed internally")
		}
	}()

	violations, err := e.detectViolations(ctx, req)
	if err != nil {
		e.logger.Warn("governance evaluation failed, denying",
			"action", req.Action, "resource_id", req.ResourceID, "error", err)
		return e.deny(req, "policy evaluation error: "+err.Error())
	}

	return e.decide(req, violations)
}

func (e *Engine) detectViolations(ctx context.Context, req models.ActionRequest) ([]models.PolicyViolation, error) {
	if req.ResourceID == "" {
		// No resource context resolvable; fall back to static heuristics
		// on the action itself.
		return heuristicViolations(req), nil
	}

	states, ok := e.cache.get(req.ResourceID)
	if !ok {
		var err error
		states, err = e.source.PolicyStates(ctx, req.ResourceID)
		if err != nil {
			return nil, err
		}
		e.cache.put(req.ResourceID, states)
	}

	var violations []models.PolicyViolation
	for _, state := range states {
		if !strings.EqualFold(state.ComplianceState, "NonCompliant") {
			continue
		}
		violations = append(violations, models.PolicyViolation{
			PolicyID:          state.PolicyID,
			PolicyName:        state.PolicyName,
			Severity:          SeverityFromEffect(state.Effect),
			Description:       "resource is non-compliant with policy " + state.PolicyName,
			RecommendedAction: recommendedActionFor(state.Effect),
		})
	}
	return violations, nil
}

func (e *Engine) decide(req models.ActionRequest, violations []models.PolicyViolation) *EvaluationResult {
	result := &EvaluationResult{
		Violations:  violations,
		EvaluatedAt: time.Now(),
	}

	if len(violations) == 0 {
		result.Decision = models.DecisionAllow
		return result
	}

	maxRank := 0
	highCount := 0
	for _, v := range violations {
		if rank := models.SeverityRank(v.Severity); rank > maxRank {
			maxRank = rank
		}
		if models.SeverityRank(v.Severity) >= models.SeverityRank(models.SeverityHigh) {
			highCount++
		}
	}

	switch {
	case maxRank >= models.SeverityRank(models.SeverityCritical):
		result.Decision = models.DecisionDeny
		result.Reason = "critical policy violation"

	case maxRank >= models.SeverityRank(models.SeverityHigh):
		result.Decision = models.DecisionRequiresApproval
		wf := e.workflows.Create(
			req.ID,
			req.Action,
			requiredApprovers(highCount),
			approvalPriority(highCount),
			"high-severity policy violations require sign-off before "+req.Action,
		)
		result.ApprovalWorkflowID = &wf.ID
		result.Reason = "high-severity violations require approval"

	default:
		// Only Medium/Low: allowed, but logged for audit.
		result.Decision = models.DecisionAuditOnly
		e.logger.Info("action allowed with audit",
			"action", req.Action,
			"resource_id", req.ResourceID,
			"violations", len(violations))
	}

	return result
}

// PostFlight evaluates an action after execution. An error result yields a
// Medium-severity violation referencing the error text; any violation of
// High or above sets RequiresRemediation.
func (e *Engine) PostFlight(ctx context.Context, req models.ActionRequest, actionResult models.ActionResult) *PostFlightResult {
	result := &PostFlightResult{}

	if actionResult.Error != "" {
		result.Violations = append(result.Violations, models.PolicyViolation{
			PolicyID:          "post-flight-error",
			PolicyName:        "Action execution error",
			Severity:          models.SeverityMedium,
			Description:       "action " + req.Action + " reported an error: " + actionResult.Error,
			RecommendedAction: "Investigate the failed action and re-run it after the cause is fixed",
		})
	}

	if req.ResourceID != "" {
		if violations, err := e.detectViolations(ctx, req); err == nil {
			result.Violations = append(result.Violations, violations...)
		} else {
			e.logger.Warn("post-flight policy check failed",
				"resource_id", req.ResourceID, "error", err)
		}
	}

	seen := make(map[string]bool)
	for _, v := range result.Violations {
		if models.SeverityRank(v.Severity) >= models.SeverityRank(models.SeverityHigh) {
			result.RequiresRemediation = true
		}
		if v.RecommendedAction != "" && !seen[v.RecommendedAction] {
			seen[v.RecommendedAction] = true
			result.RemediationActions = append(result.RemediationActions, v.RecommendedAction)
		}
	}

	return result
}

func (e *Engine) deny(req models.ActionRequest, reason string) *EvaluationResult {
	return &EvaluationResult{
		Decision:    models.DecisionDeny,
		Reason:      reason,
		EvaluatedAt: time.Now(),
	}
}

// SeverityFromEffect maps an external enforcement effect to a violation
// severity.
func SeverityFromEffect(effect models.PolicyEffect) models.Severity {
	switch effect {
	case models.EffectDeny:
		return models.SeverityCritical
	case models.EffectDeployIfNotExists:
		return models.SeverityHigh
	case models.EffectModify:
		return models.SeverityMedium
	case models.EffectAudit, models.EffectAuditIfNotExists:
		return models.SeverityLow
	default:
		return models.SeverityMedium
	}
}

func recommendedActionFor(effect models.PolicyEffect) string {
	switch effect {
	case models.EffectDeny:
		return "Bring the resource into compliance before retrying the action"
	case models.EffectDeployIfNotExists:
		return "Deploy the required companion configuration for the resource"
	case models.EffectModify:
		return "Apply the policy-mandated property changes to the resource"
	default:
		return "Review the audit finding and schedule remediation"
	}
}

// heuristicViolations covers requests with no resolvable resource context.
func heuristicViolations(req models.ActionRequest) []models.PolicyViolation {
	action := strings.ToLower(req.Action)
	var violations []models.PolicyViolation

	if strings.Contains(action, "delete") {
		violations = append(violations, models.PolicyViolation{
			PolicyID:          "heuristic-delete",
			PolicyName:        "Destructive action review",
			Severity:          models.SeverityHigh,
			Description:       "delete-type action on an unresolved resource",
			RecommendedAction: "Confirm the target resource and its dependents before deletion",
		})
	}
	if strings.Contains(action, "storage") || strings.Contains(strings.ToLower(req.ResourceType), "storage") {
		violations = append(violations, models.PolicyViolation{
			PolicyID:          "heuristic-storage",
			PolicyName:        "Storage action review",
			Severity:          models.SeverityMedium,
			Description:       "storage-resource action on an unresolved resource",
			RecommendedAction: "Verify data classification of the affected storage before proceeding",
		})
	}
	return violations
}

func requiredApprovers(highCount int) []string {
	approvers := []string{"security-lead"}
	if highCount >= 2 {
		approvers = append(approvers, "platform-owner")
	}
	return approvers
}

// approvalPriority maps violation pressure into the 3-5 band; more
// high-severity violations mean a more urgent (lower) number.
func approvalPriority(highCount int) int {
	switch {
	case highCount >= 3:
		return 3
	case highCount == 2:
		return 3
	case highCount == 1:
		return 4
	default:
		return 5
	}
}
