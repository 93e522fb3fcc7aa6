package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/executor"
	"github.com/nelssec/atoguard/internal/models"
)

const defaultMaxConcurrency = 5

// Options configure one batch run.
type Options struct {
	MaxConcurrency int              `json:"max_concurrency"`
	FailFast       bool             `json:"fail_fast"`
	Execution      executor.Options `json:"execution"`
}

type Summary struct {
	SuccessRate          float64                 `json:"success_rate"`
	RemediatedBySeverity map[models.Severity]int `json:"remediated_by_severity"`
	AffectedFamilies     []string                `json:"affected_families"`
	ByFindingType        map[string]int          `json:"by_finding_type"`
}

// Result aggregates a batch run. With FailFast disabled, Executions holds
// exactly one record per input finding.
type Result struct {
	Executions    []*models.RemediationExecution `json:"executions"`
	Succeeded     int                            `json:"succeeded"`
	Failed        int                            `json:"failed"`
	Pending       int                            `json:"pending"`
	TotalDuration time.Duration                  `json:"total_duration"`
	Summary       Summary                        `json:"summary"`
}

// Coordinator fans remediation work out over the executor with bounded
// concurrency and partial-failure isolation.
type Coordinator struct {
	executor *executor.Executor
	logger   *slog.Logger
}

func NewCoordinator(exec *executor.Executor, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{executor: exec, logger: logger}
}

// ExecuteBatch runs the executor once per finding, bounded by a counting
// semaphore of MaxConcurrency. With FailFast the first unit error aborts
// the batch; otherwise a failed unit yields a synthesized Failed record
// and the rest continue.
func (c *Coordinator) ExecuteBatch(ctx context.Context, scope models.Scope, findings []models.Finding, opts Options) (*Result, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}

	start := time.Now()

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		sem       = make(chan struct{}, opts.MaxConcurrency)
		execs     = make([]*models.RemediationExecution, len(findings))
		unitErrs  = make([]error, len(findings))
		failOnce  sync.Once
		firstFail error
	)

	for i, finding := range findings {
		select {
		case <-batchCtx.Done():
		case sem <- struct{}{}:
			wg.Add(1)
			go func(i int, finding models.Finding) {
				defer wg.Done()
				defer func() { <-sem }()

				exec, err := c.executeOne(batchCtx, scope, finding, opts.Execution)
				execs[i] = exec
				unitErrs[i] = err

				if err != nil && opts.FailFast {
					failOnce.Do(func() {
						firstFail = fmt.Errorf("remediating finding %s: %w", finding.ID, err)
						cancel()
					})
				}
			}(i, finding)
		}
		if batchCtx.Err() != nil {
			break
		}
	}
	wg.Wait()

	if opts.FailFast && firstFail != nil {
		return nil, firstFail
	}

	result := &Result{TotalDuration: time.Since(start)}
	for i, finding := range findings {
		exec := execs[i]
		if exec == nil {
			// Unit never produced a record; synthesize a failed one so the
			// result set stays one-to-one with the input.
			exec = synthesizeFailure(finding, unitErrs[i])
		}
		result.Executions = append(result.Executions, exec)
	}

	c.aggregate(result, findings)

	c.logger.Info("batch remediation finished",
		"total", len(findings),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"pending", result.Pending,
		"duration", result.TotalDuration)

	return result, nil
}

// executeOne isolates a single unit: errors and panics become a unit
// error, never an abort of the whole batch.
func (c *Coordinator) executeOne(ctx context.Context, scope models.Scope, finding models.Finding, opts executor.Options) (exec *models.RemediationExecution, err error) {
	defer func() {
		if r := recover(); r != nil {
			exec = nil
			err = fmt.Errorf("execution panicked: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.executor.Execute(ctx, scope, finding, opts)
}

func synthesizeFailure(finding models.Finding, unitErr error) *models.RemediationExecution {
	msg := "batch unit failed"
	if unitErr != nil {
		msg = unitErr.Error()
	}
	now := time.Now()
	return &models.RemediationExecution{
		ID:          uuid.New(),
		FindingID:   finding.ID,
		ResourceID:  finding.Resource.ID,
		Status:      models.ExecutionFailed,
		Error:       msg,
		StartedAt:   now,
		CompletedAt: &now,
	}
}

func (c *Coordinator) aggregate(result *Result, findings []models.Finding) {
	summary := Summary{
		RemediatedBySeverity: make(map[models.Severity]int),
		ByFindingType:        make(map[string]int),
	}
	families := make(map[string]bool)

	byID := make(map[uuid.UUID]models.Finding, len(findings))
	for _, f := range findings {
		byID[f.ID] = f
	}

	for _, exec := range result.Executions {
		switch exec.Status {
		case models.ExecutionCompleted:
			result.Succeeded++
		case models.ExecutionPending, models.ExecutionApproved:
			result.Pending++
		default:
			result.Failed++
		}

		finding, ok := byID[exec.FindingID]
		if !ok {
			continue
		}
		summary.ByFindingType[finding.FindingType]++
		if exec.Status == models.ExecutionCompleted && exec.Success {
			summary.RemediatedBySeverity[finding.Severity]++
		}
		for _, controlID := range finding.ControlIDs {
			if len(controlID) >= 2 {
				families[controlID[:2]] = true
			}
		}
	}

	if len(result.Executions) > 0 {
		summary.SuccessRate = float64(result.Succeeded) / float64(len(result.Executions)) * 100
	}
	for family := range families {
		summary.AffectedFamilies = append(summary.AffectedFamilies, family)
	}
	sort.Strings(summary.AffectedFamilies)
	result.Summary = summary
}
