package executor

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/models"
)

const defaultHistoryLimit = 1000

// History is a concurrent-safe in-memory log of execution outcomes. Batch
// remediation and interactive approvals append to it while assessments
// read it, so all access is guarded.
type History struct {
	mu    sync.RWMutex
	limit int
	log   []*models.RemediationExecution
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &History{limit: limit}
}

func (h *History) Append(exec *models.RemediationExecution) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.log = append(h.log, exec)
	if len(h.log) > h.limit {
		h.log = h.log[len(h.log)-h.limit:]
	}
}

// Recent returns up to n most recent executions, newest first.
func (h *History) Recent(n int) []*models.RemediationExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.log) {
		n = len(h.log)
	}
	out := make([]*models.RemediationExecution, 0, n)
	for i := len(h.log) - 1; i >= len(h.log)-n; i-- {
		out = append(out, h.log[i])
	}
	return out
}

// ByFinding returns all recorded executions for one finding.
func (h *History) ByFinding(findingID uuid.UUID) []*models.RemediationExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*models.RemediationExecution
	for _, exec := range h.log {
		if exec.FindingID == findingID {
			out = append(out, exec)
		}
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.log)
}
