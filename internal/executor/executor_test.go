package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/models"
)

type fakeRemediator struct {
	canAuto      bool
	steps        []string
	outcome      *ExecuteOutcome
	executeCalls int
	panicOnExec  bool
}

func (f *fakeRemediator) CanAutoRemediate(models.Finding) bool {
	return f.canAuto
}

func (f *fakeRemediator) GeneratePlan(ctx context.Context, finding models.Finding) (*Plan, error) {
	return &Plan{FindingID: finding.ID, Steps: f.steps}, nil
}

func (f *fakeRemediator) Execute(ctx context.Context, plan *Plan, dryRun bool) (*ExecuteOutcome, error) {
	f.executeCalls++
	if f.panicOnExec {
		panic("remediator exploded")
	}
	if f.outcome != nil {
		return f.outcome, nil
	}
	outcome := &ExecuteOutcome{Success: true}
	for _, step := range plan.Steps {
		outcome.Actions = append(outcome.Actions, ActionOutcome{Step: step, Success: true, Detail: "applied " + step})
	}
	return outcome, nil
}

func autoFinding() models.Finding {
	return models.Finding{
		ID:             uuid.New(),
		FindingType:    "storage_encryption_disabled",
		Severity:       models.SeverityHigh,
		Resource:       models.ResourceRef{ID: "res-1", Type: "s3_bucket", Name: "bucket-1"},
		AutoRemediable: true,
	}
}

var scope = models.Scope{SubscriptionID: "sub-1"}

func TestExecuteRequiresSubscription(t *testing.T) {
	e := New(&fakeRemediator{}, nil, nil)
	_, err := e.Execute(context.Background(), models.Scope{}, autoFinding(), Options{})
	if err == nil {
		t.Fatal("expected scope validation error")
	}
}

func TestExecuteDryRunNeverTouchesInfrastructure(t *testing.T) {
	rem := &fakeRemediator{canAuto: true, steps: []string{"enable-encryption"}}
	e := New(rem, nil, nil)

	exec, err := e.Execute(context.Background(), scope, autoFinding(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rem.executeCalls != 0 {
		t.Errorf("dry run invoked the remediator %d times", rem.executeCalls)
	}
	if exec.Status != models.ExecutionCompleted {
		t.Errorf("expected COMPLETED, got %s", exec.Status)
	}
	if !exec.DryRun || !exec.Success {
		t.Errorf("expected a successful dry-run record")
	}
	if len(exec.ChangesApplied) != 1 || !strings.HasPrefix(exec.ChangesApplied[0], "dry-run: ") {
		t.Errorf("expected dry-run prefixed changes, got %v", exec.ChangesApplied)
	}
}

func TestExecuteStopsAtPendingWhenApprovalRequired(t *testing.T) {
	rem := &fakeRemediator{canAuto: true, steps: []string{"step"}}
	e := New(rem, nil, nil)

	exec, err := e.Execute(context.Background(), scope, autoFinding(), Options{RequireApproval: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if exec.Status != models.ExecutionPending {
		t.Errorf("expected PENDING, got %s", exec.Status)
	}
	if rem.executeCalls != 0 {
		t.Errorf("pending execution must not run, remediator called %d times", rem.executeCalls)
	}
	if exec.CompletedAt != nil {
		t.Errorf("pending execution should not be finished")
	}
}

func TestApproveThenResume(t *testing.T) {
	rem := &fakeRemediator{canAuto: true, steps: []string{"step"}}
	e := New(rem, nil, nil)
	finding := autoFinding()

	exec, err := e.Execute(context.Background(), scope, finding, Options{RequireApproval: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := e.Approve(exec, "alice"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if exec.Status != models.ExecutionApproved {
		t.Fatalf("expected APPROVED, got %s", exec.Status)
	}
	if exec.ApprovedBy != "alice" || exec.ApprovedAt == nil {
		t.Errorf("expected approver identity to be captured")
	}
	if rem.executeCalls != 0 {
		t.Errorf("approval alone must not execute anything")
	}

	if err := e.Resume(context.Background(), exec, finding, Options{}); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if exec.Status != models.ExecutionCompleted {
		t.Errorf("expected COMPLETED after resume, got %s", exec.Status)
	}
	if rem.executeCalls != 1 {
		t.Errorf("expected one remediator execution, got %d", rem.executeCalls)
	}
}

func TestApproveRejectsNonPending(t *testing.T) {
	e := New(&fakeRemediator{canAuto: true, steps: []string{"s"}}, nil, nil)
	exec, err := e.Execute(context.Background(), scope, autoFinding(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := e.Approve(exec, "alice"); !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}
}

func TestRejectTerminates(t *testing.T) {
	rem := &fakeRemediator{canAuto: true, steps: []string{"s"}}
	e := New(rem, nil, nil)
	finding := autoFinding()

	exec, err := e.Execute(context.Background(), scope, finding, Options{RequireApproval: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := e.Reject(exec, "bob", "too risky"); err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if exec.Status != models.ExecutionRejected {
		t.Errorf("expected REJECTED, got %s", exec.Status)
	}
	if exec.Error != "too risky" {
		t.Errorf("expected rejection reason on the record, got %q", exec.Error)
	}

	if err := e.Resume(context.Background(), exec, finding, Options{}); !errors.Is(err, ErrNotApproved) {
		t.Errorf("expected ErrNotApproved resuming a rejected execution, got %v", err)
	}
}

func TestExecuteManualFindingFails(t *testing.T) {
	e := New(&fakeRemediator{}, nil, nil)
	finding := autoFinding()
	finding.AutoRemediable = false

	exec, err := e.Execute(context.Background(), scope, finding, Options{})
	if err != nil {
		t.Fatalf("execution-level failures must not surface as errors: %v", err)
	}

	if exec.Status != models.ExecutionFailed {
		t.Errorf("expected FAILED, got %s", exec.Status)
	}
	if !strings.Contains(exec.Error, ErrManualRemediation.Error()) {
		t.Errorf("expected manual remediation error, got %q", exec.Error)
	}
}

func TestExecuteRemediatorPanicBecomesFailure(t *testing.T) {
	rem := &fakeRemediator{canAuto: true, steps: []string{"s"}, panicOnExec: true}
	e := New(rem, nil, nil)

	exec, err := e.Execute(context.Background(), scope, autoFinding(), Options{})
	if err != nil {
		t.Fatalf("panic must be contained, got error: %v", err)
	}
	if exec.Status != models.ExecutionFailed {
		t.Errorf("expected FAILED after panic, got %s", exec.Status)
	}
	if !strings.Contains(exec.Error, "panicked") {
		t.Errorf("expected panic detail in error, got %q", exec.Error)
	}
}

func TestExecuteWithValidation(t *testing.T) {
	rem := &fakeRemediator{canAuto: true, steps: []string{"s"}}
	e := New(rem, nil, nil)

	exec, err := e.Execute(context.Background(), scope, autoFinding(), Options{AutoValidate: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if exec.Status != models.ExecutionCompleted {
		t.Errorf("expected COMPLETED, got %s", exec.Status)
	}
	if exec.Validation == nil || !exec.Validation.Valid {
		t.Errorf("expected a passing validation result")
	}
}

func TestExecuteRollbackOnFailedValidation(t *testing.T) {
	// The remediator reports success without applying any step, which
	// fails post-validation and triggers rollback from VALIDATING.
	rem := &fakeRemediator{canAuto: true, steps: []string{"s"}, outcome: &ExecuteOutcome{Success: true}}
	e := New(rem, nil, nil)

	exec, err := e.Execute(context.Background(), scope, autoFinding(), Options{
		AutoValidate:          true,
		CaptureSnapshots:      true,
		AutoRollbackOnFailure: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if exec.Status != models.ExecutionRolledBack {
		t.Errorf("expected ROLLED_BACK, got %s", exec.Status)
	}
	if exec.Success {
		t.Errorf("rolled-back execution must not report success")
	}
	if exec.Validation == nil || exec.Validation.Valid {
		t.Errorf("expected a failing validation result")
	}
}

func TestExecuteFailedValidationWithoutRollback(t *testing.T) {
	rem := &fakeRemediator{canAuto: true, steps: []string{"s"}, outcome: &ExecuteOutcome{Success: true}}
	e := New(rem, nil, nil)

	exec, err := e.Execute(context.Background(), scope, autoFinding(), Options{AutoValidate: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Status != models.ExecutionFailed {
		t.Errorf("expected FAILED without rollback enabled, got %s", exec.Status)
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to models.ExecutionStatus
		want     bool
	}{
		{models.ExecutionPending, models.ExecutionApproved, true},
		{models.ExecutionPending, models.ExecutionRejected, true},
		{models.ExecutionPending, models.ExecutionInProgress, false},
		{models.ExecutionApproved, models.ExecutionInProgress, true},
		{models.ExecutionInProgress, models.ExecutionValidating, true},
		{models.ExecutionInProgress, models.ExecutionCompleted, true},
		{models.ExecutionInProgress, models.ExecutionRolledBack, false},
		{models.ExecutionValidating, models.ExecutionRolledBack, true},
		{models.ExecutionCompleted, models.ExecutionInProgress, false},
		{models.ExecutionRejected, models.ExecutionApproved, false},
		{models.ExecutionRolledBack, models.ExecutionInProgress, false},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%s, %s): expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestAdvanceRefusalLeavesStatusUntouched(t *testing.T) {
	e := New(&fakeRemediator{}, nil, nil)
	exec := &models.RemediationExecution{ID: uuid.New(), Status: models.ExecutionCompleted}

	err := e.advance(exec, models.ExecutionInProgress)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if exec.Status != models.ExecutionCompleted {
		t.Errorf("refused transition must not change the status, got %s", exec.Status)
	}

	e.mustAdvance(exec, models.ExecutionInProgress)
	if exec.Status != models.ExecutionCompleted {
		t.Errorf("mustAdvance on a refused transition must not change the status, got %s", exec.Status)
	}
}

func TestHistoryRecent(t *testing.T) {
	h := NewHistory(2)
	for i := 0; i < 3; i++ {
		h.Append(&models.RemediationExecution{ID: uuid.New()})
	}

	recent := h.Recent(10)
	if len(recent) != 2 {
		t.Errorf("expected history capped at 2, got %d", len(recent))
	}
}
