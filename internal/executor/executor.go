package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/models"
)

var (
	ErrManualRemediation = errors.New("manual remediation required")
	ErrInvalidTransition = errors.New("invalid execution state transition")
	ErrNotPending        = errors.New("execution is not pending")
	ErrNotApproved       = errors.New("execution is not approved")
)

// Options control one executor pass.
type Options struct {
	DryRun                bool `json:"dry_run"`
	RequireApproval       bool `json:"require_approval"`
	CaptureSnapshots      bool `json:"capture_snapshots"`
	AutoValidate          bool `json:"auto_validate"`
	AutoRollbackOnFailure bool `json:"auto_rollback_on_failure"`
}

// Plan is a delegated remediation plan produced by an infrastructure
// remediator.
type Plan struct {
	FindingID uuid.UUID `json:"finding_id"`
	Steps     []string  `json:"steps"`
}

type ActionOutcome struct {
	Step    string `json:"step"`
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

type ExecuteOutcome struct {
	Success bool            `json:"success"`
	Actions []ActionOutcome `json:"actions"`
	Errors  []string        `json:"errors,omitempty"`
}

// InfrastructureRemediator is an external collaborator that can fix
// certain findings directly against the cloud provider.
type InfrastructureRemediator interface {
	CanAutoRemediate(f models.Finding) bool
	GeneratePlan(ctx context.Context, f models.Finding) (*Plan, error)
	Execute(ctx context.Context, plan *Plan, dryRun bool) (*ExecuteOutcome, error)
}

// transitions is the executor state machine. RolledBack is reachable only
// from Validating, after a failed post-validation.
var transitions = map[models.ExecutionStatus][]models.ExecutionStatus{
	models.ExecutionPending:    {models.ExecutionApproved, models.ExecutionRejected},
	models.ExecutionApproved:   {models.ExecutionInProgress},
	models.ExecutionInProgress: {models.ExecutionValidating, models.ExecutionCompleted, models.ExecutionFailed},
	models.ExecutionValidating: {models.ExecutionCompleted, models.ExecutionFailed, models.ExecutionRolledBack},
}

func canTransition(from, to models.ExecutionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Executor runs the per-finding remediation state machine.
type Executor struct {
	remediator InfrastructureRemediator
	history    *History
	logger     *slog.Logger
}

func New(remediator InfrastructureRemediator, history *History, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if history == nil {
		history = NewHistory(0)
	}
	return &Executor{remediator: remediator, history: history, logger: logger}
}

func (e *Executor) History() *History {
	return e.history
}

// Execute runs remediation for one finding. With RequireApproval the
// execution stops at Pending; resuming after approval is the caller's
// responsibility, not automatic. Failures during action execution are
// recorded on the returned execution, never raised to the caller.
func (e *Executor) Execute(ctx context.Context, scope models.Scope, finding models.Finding, opts Options) (*models.RemediationExecution, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	exec := &models.RemediationExecution{
		ID:         uuid.New(),
		FindingID:  finding.ID,
		ResourceID: finding.Resource.ID,
		Status:     models.ExecutionPending,
		DryRun:     opts.DryRun,
		StartedAt:  time.Now(),
	}

	if opts.RequireApproval {
		e.history.Append(exec)
		e.logger.Info("execution awaiting approval",
			"execution_id", exec.ID, "finding_id", finding.ID)
		return exec, nil
	}

	if err := e.advance(exec, models.ExecutionApproved); err != nil {
		return nil, err
	}
	e.run(ctx, exec, finding, opts)
	return exec, nil
}

// Approve moves a pending execution to Approved, capturing the approver
// identity. It does not resume execution.
func (e *Executor) Approve(exec *models.RemediationExecution, approver string) error {
	if exec.Status != models.ExecutionPending {
		return fmt.Errorf("%w: status %s", ErrNotPending, exec.Status)
	}
	if err := e.advance(exec, models.ExecutionApproved); err != nil {
		return err
	}
	now := time.Now()
	exec.ApprovedBy = approver
	exec.ApprovedAt = &now
	return nil
}

// Reject terminates a pending execution.
func (e *Executor) Reject(exec *models.RemediationExecution, approver, reason string) error {
	if exec.Status != models.ExecutionPending {
		return fmt.Errorf("%w: status %s", ErrNotPending, exec.Status)
	}
	if err := e.advance(exec, models.ExecutionRejected); err != nil {
		return err
	}
	exec.ApprovedBy = approver
	exec.Error = reason
	e.finish(exec)
	return nil
}

// Resume continues an approved execution.
func (e *Executor) Resume(ctx context.Context, exec *models.RemediationExecution, finding models.Finding, opts Options) error {
	if exec.Status != models.ExecutionApproved {
		return fmt.Errorf("%w: status %s", ErrNotApproved, exec.Status)
	}
	e.run(ctx, exec, finding, opts)
	return nil
}

func (e *Executor) run(ctx context.Context, exec *models.RemediationExecution, finding models.Finding, opts Options) {
	if opts.DryRun {
		e.dryRun(ctx, exec, finding)
		return
	}

	e.mustAdvance(exec, models.ExecutionInProgress)

	if opts.CaptureSnapshots {
		exec.BeforeSnapshot = snapshot(finding, "before")
	}
	exec.BackupRef = "bkp-" + uuid.New().String()[:8]

	changes, err := e.applyRemediation(ctx, finding)
	if err != nil {
		exec.Error = err.Error()
		e.mustAdvance(exec, models.ExecutionFailed)
		e.finish(exec)
		e.logger.Warn("remediation failed",
			"execution_id", exec.ID, "finding_id", finding.ID, "error", err)
		return
	}

	exec.ChangesApplied = models.StringArray(changes)
	exec.Success = true

	if opts.CaptureSnapshots {
		exec.AfterSnapshot = snapshot(finding, "after")
	}

	if opts.AutoValidate {
		e.mustAdvance(exec, models.ExecutionValidating)
		e.validate(exec, opts)
	} else {
		e.mustAdvance(exec, models.ExecutionCompleted)
	}
	e.finish(exec)
}

// dryRun computes the would-be changes without side effects; the
// remediator's execute path is never invoked.
func (e *Executor) dryRun(ctx context.Context, exec *models.RemediationExecution, finding models.Finding) {
	e.mustAdvance(exec, models.ExecutionInProgress)

	steps := e.plannedSteps(ctx, finding)
	changes := make([]string, len(steps))
	for i, step := range steps {
		changes[i] = "dry-run: " + step
	}

	exec.ChangesApplied = models.StringArray(changes)
	exec.Success = true
	e.mustAdvance(exec, models.ExecutionCompleted)
	e.finish(exec)
}

func (e *Executor) plannedSteps(ctx context.Context, finding models.Finding) []string {
	if e.remediator != nil && finding.AutoRemediable && e.remediator.CanAutoRemediate(finding) {
		if plan, err := e.remediator.GeneratePlan(ctx, finding); err == nil && len(plan.Steps) > 0 {
			return plan.Steps
		}
	}
	if len(finding.RemediationActions) > 0 {
		return finding.RemediationActions
	}
	return []string{fmt.Sprintf("remediate %s on %s", finding.FindingType, finding.Resource.Name)}
}

// applyRemediation executes the fix. Panics from collaborators are caught
// and surfaced as errors so a single finding can never take down a batch.
func (e *Executor) applyRemediation(ctx context.Context, finding models.Finding) (changes []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			changes = nil
			err = fmt.Errorf("remediation panicked: %v", r)
		}
	}()

	if !finding.AutoRemediable {
		return nil, ErrManualRemediation
	}

	if e.remediator != nil && e.remediator.CanAutoRemediate(finding) {
		plan, planErr := e.remediator.GeneratePlan(ctx, finding)
		if planErr != nil {
			return nil, fmt.Errorf("generating remediation plan: %w", planErr)
		}
		outcome, execErr := e.remediator.Execute(ctx, plan, false)
		if execErr != nil {
			return nil, fmt.Errorf("executing remediation plan: %w", execErr)
		}
		if !outcome.Success {
			return nil, fmt.Errorf("remediation plan failed: %s", strings.Join(outcome.Errors, "; "))
		}
		for _, action := range outcome.Actions {
			changes = append(changes, action.Detail)
		}
		return changes, nil
	}

	if len(finding.RemediationActions) > 0 {
		for _, action := range finding.RemediationActions {
			changes = append(changes, "applied: "+action)
		}
		return changes, nil
	}

	return nil, ErrManualRemediation
}

// validate checks that the execution succeeded and applied at least one
// step; on failure with rollback enabled it restores the before-snapshot.
func (e *Executor) validate(exec *models.RemediationExecution, opts Options) {
	valid := exec.Success && len(exec.ChangesApplied) >= 1
	exec.Validation = &models.ValidationResult{
		Valid: valid,
		Checks: []string{
			"execution reported success",
			"at least one remediation step executed",
		},
	}

	if valid {
		e.mustAdvance(exec, models.ExecutionCompleted)
		return
	}

	exec.Success = false
	exec.Validation.Message = "post-execution validation failed"

	if opts.AutoRollbackOnFailure && exec.BeforeSnapshot != nil {
		exec.ChangesApplied = append(exec.ChangesApplied, "restored configuration from before-snapshot "+exec.BackupRef)
		e.mustAdvance(exec, models.ExecutionRolledBack)
		e.logger.Warn("execution rolled back", "execution_id", exec.ID)
		return
	}

	e.mustAdvance(exec, models.ExecutionFailed)
}

func (e *Executor) advance(exec *models.RemediationExecution, to models.ExecutionStatus) error {
	if !canTransition(exec.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, exec.Status, to)
	}
	exec.Status = to
	return nil
}

// mustAdvance applies a transition the surrounding flow guarantees is
// legal. A refusal means the execution's status was mutated outside the
// state machine; the status is left untouched and the refusal is logged.
func (e *Executor) mustAdvance(exec *models.RemediationExecution, to models.ExecutionStatus) {
	if err := e.advance(exec, to); err != nil {
		e.logger.Error("state transition refused",
			"execution_id", exec.ID, "error", err)
	}
}

func (e *Executor) finish(exec *models.RemediationExecution) {
	now := time.Now()
	exec.CompletedAt = &now
	exec.Duration = now.Sub(exec.StartedAt)
	e.history.Append(exec)
}

func snapshot(finding models.Finding, phase string) models.JSONB {
	return models.JSONB{
		"phase":         phase,
		"resource_id":   finding.Resource.ID,
		"resource_type": finding.Resource.Type,
		"finding_type":  finding.FindingType,
		"captured_at":   time.Now().Format(time.RFC3339),
	}
}
