package batch

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/executor"
	"github.com/nelssec/atoguard/internal/models"
)

type fakeRemediator struct{}

func (f *fakeRemediator) CanAutoRemediate(models.Finding) bool {
	return true
}

func (f *fakeRemediator) GeneratePlan(ctx context.Context, finding models.Finding) (*executor.Plan, error) {
	return &executor.Plan{FindingID: finding.ID, Steps: []string{"fix"}}, nil
}

func (f *fakeRemediator) Execute(ctx context.Context, plan *executor.Plan, dryRun bool) (*executor.ExecuteOutcome, error) {
	return &executor.ExecuteOutcome{
		Success: true,
		Actions: []executor.ActionOutcome{{Step: "fix", Success: true, Detail: "applied fix"}},
	}, nil
}

func newFinding(severity models.Severity, findingType, resourceID string, auto bool, controlIDs ...string) models.Finding {
	return models.Finding{
		ID:             uuid.New(),
		FindingType:    findingType,
		ControlIDs:     models.StringArray(controlIDs),
		Severity:       severity,
		Resource:       models.ResourceRef{ID: resourceID, Type: "s3_bucket", Name: resourceID},
		AutoRemediable: auto,
	}
}

var scope = models.Scope{SubscriptionID: "sub-1"}

func newCoordinator() *Coordinator {
	exec := executor.New(&fakeRemediator{}, nil, nil)
	return NewCoordinator(exec, nil)
}

func TestExecuteBatchOneExecutionPerFinding(t *testing.T) {
	findings := []models.Finding{
		newFinding(models.SeverityHigh, "storage_encryption_disabled", "res-1", true, "SC-28"),
		newFinding(models.SeverityHigh, "manual_only_issue", "res-2", false, "CM-6"), // fails: manual
		newFinding(models.SeverityLow, "versioning_disabled", "res-3", true, "CP-9"),
	}

	result, err := newCoordinator().ExecuteBatch(context.Background(), scope, findings, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Executions) != len(findings) {
		t.Fatalf("expected %d executions, got %d", len(findings), len(result.Executions))
	}

	seen := make(map[uuid.UUID]bool)
	for _, exec := range result.Executions {
		if seen[exec.FindingID] {
			t.Errorf("finding %s has more than one execution", exec.FindingID)
		}
		seen[exec.FindingID] = true
	}
	for _, f := range findings {
		if !seen[f.ID] {
			t.Errorf("finding %s has no execution record", f.ID)
		}
	}

	if result.Succeeded != 2 {
		t.Errorf("expected 2 succeeded, got %d", result.Succeeded)
	}
	if result.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", result.Failed)
	}
}

func TestExecuteBatchRequiresSubscription(t *testing.T) {
	_, err := newCoordinator().ExecuteBatch(context.Background(), models.Scope{}, nil, Options{})
	if err == nil {
		t.Fatal("expected scope validation error")
	}
}

func TestExecuteBatchPendingWithApproval(t *testing.T) {
	findings := []models.Finding{
		newFinding(models.SeverityHigh, "storage_encryption_disabled", "res-1", true, "SC-28"),
		newFinding(models.SeverityHigh, "public_access_enabled", "res-2", true, "AC-3"),
	}

	opts := Options{Execution: executor.Options{RequireApproval: true}}
	result, err := newCoordinator().ExecuteBatch(context.Background(), scope, findings, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Pending != 2 {
		t.Errorf("expected 2 pending executions, got %d", result.Pending)
	}
	if result.Succeeded != 0 || result.Failed != 0 {
		t.Errorf("approval-gated batch must not complete or fail units")
	}
}

func TestExecuteBatchSummary(t *testing.T) {
	findings := []models.Finding{
		newFinding(models.SeverityCritical, "public_access_enabled", "res-1", true, "AC-3"),
		newFinding(models.SeverityHigh, "storage_encryption_disabled", "res-2", true, "SC-28", "SC-13"),
		newFinding(models.SeverityHigh, "manual_only_issue", "res-3", false, "CM-6"),
	}

	result, err := newCoordinator().ExecuteBatch(context.Background(), scope, findings, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary := result.Summary
	wantRate := 2.0 / 3.0 * 100
	if summary.SuccessRate < wantRate-0.01 || summary.SuccessRate > wantRate+0.01 {
		t.Errorf("expected success rate %.2f, got %.2f", wantRate, summary.SuccessRate)
	}
	if summary.RemediatedBySeverity[models.SeverityCritical] != 1 {
		t.Errorf("expected 1 remediated critical, got %d", summary.RemediatedBySeverity[models.SeverityCritical])
	}
	if summary.RemediatedBySeverity[models.SeverityHigh] != 1 {
		t.Errorf("expected 1 remediated high, got %d", summary.RemediatedBySeverity[models.SeverityHigh])
	}

	wantFamilies := []string{"AC", "CM", "SC"}
	if len(summary.AffectedFamilies) != len(wantFamilies) {
		t.Fatalf("expected families %v, got %v", wantFamilies, summary.AffectedFamilies)
	}
	for i, code := range wantFamilies {
		if summary.AffectedFamilies[i] != code {
			t.Errorf("expected families %v, got %v", wantFamilies, summary.AffectedFamilies)
			break
		}
	}
}

func TestExecuteBatchBoundedConcurrency(t *testing.T) {
	var findings []models.Finding
	for i := 0; i < 20; i++ {
		findings = append(findings, newFinding(models.SeverityLow, "versioning_disabled", uuid.NewString(), true, "CP-9"))
	}

	result, err := newCoordinator().ExecuteBatch(context.Background(), scope, findings, Options{MaxConcurrency: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Executions) != 20 {
		t.Fatalf("expected 20 executions, got %d", len(result.Executions))
	}
	if result.Succeeded != 20 {
		t.Errorf("expected all 20 to succeed, got %d", result.Succeeded)
	}
}
