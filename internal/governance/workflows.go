package governance

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/models"
)

var (
	ErrWorkflowNotFound = errors.New("approval workflow not found")
	ErrWorkflowDecided  = errors.New("approval workflow already decided")
)

// Workflows is the in-memory approval-workflow table. Interactive approval
// calls can race with evaluations creating new workflows, so all access is
// guarded.
type Workflows struct {
	mu    sync.RWMutex
	table map[uuid.UUID]*models.ApprovalWorkflow
}

func NewWorkflows() *Workflows {
	return &Workflows{table: make(map[uuid.UUID]*models.ApprovalWorkflow)}
}

func (w *Workflows) Create(requestID uuid.UUID, action string, approvers []string, priority int, justification string) *models.ApprovalWorkflow {
	wf := &models.ApprovalWorkflow{
		ID:                uuid.New(),
		RequestID:         requestID,
		RequestAction:     action,
		RequiredApprovers: models.StringArray(approvers),
		Priority:          priority,
		Status:            models.ApprovalPending,
		Justification:     justification,
		CreatedAt:         time.Now(),
	}

	w.mu.Lock()
	w.table[wf.ID] = wf
	w.mu.Unlock()

	return wf
}

func (w *Workflows) Get(id uuid.UUID) (*models.ApprovalWorkflow, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	wf, ok := w.table[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	copied := *wf
	return &copied, nil
}

// List returns workflows, optionally filtered by status.
func (w *Workflows) List(status *models.ApprovalStatus) []*models.ApprovalWorkflow {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var out []*models.ApprovalWorkflow
	for _, wf := range w.table {
		if status != nil && wf.Status != *status {
			continue
		}
		copied := *wf
		out = append(out, &copied)
	}
	return out
}

// Approve decides a pending workflow exactly once; no further transitions
// are possible afterwards.
func (w *Workflows) Approve(id uuid.UUID, approver, comment string) (*models.ApprovalWorkflow, error) {
	return w.decide(id, models.ApprovalApproved, approver, comment)
}

// Reject decides a pending workflow exactly once.
func (w *Workflows) Reject(id uuid.UUID, approver, comment string) (*models.ApprovalWorkflow, error) {
	return w.decide(id, models.ApprovalRejected, approver, comment)
}

func (w *Workflows) decide(id uuid.UUID, status models.ApprovalStatus, approver, comment string) (*models.ApprovalWorkflow, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	wf, ok := w.table[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if wf.Status != models.ApprovalPending {
		return nil, fmt.Errorf("%w: status %s", ErrWorkflowDecided, wf.Status)
	}

	now := time.Now()
	wf.Status = status
	wf.DecidedBy = approver
	wf.DecisionComment = comment
	wf.DecidedAt = &now

	copied := *wf
	return &copied, nil
}
