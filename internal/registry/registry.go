package registry

import (
	"context"
	"sync"

	"github.com/nelssec/atoguard/internal/catalog"
	"github.com/nelssec/atoguard/internal/models"
)

// Scanner evaluates one control against a scope and returns zero or more
// findings.
type Scanner interface {
	Scan(ctx context.Context, scope models.Scope, control catalog.Control) ([]models.Finding, error)
	ScanResourceGroup(ctx context.Context, scope models.Scope, resourceGroup string, control catalog.Control) ([]models.Finding, error)
}

// EvidenceCollector gathers typed evidence for one control family.
type EvidenceCollector interface {
	CollectConfiguration(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error)
	CollectLogs(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error)
	CollectMetrics(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error)
	CollectPolicies(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error)
	CollectAccessControl(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error)
}

// Registry maps control-family codes to scanner and collector
// implementations, with one default fallback each. It is populated at
// startup and read concurrently afterwards.
type Registry struct {
	mu               sync.RWMutex
	scanners         map[string]Scanner
	collectors       map[string]EvidenceCollector
	defaultScanner   Scanner
	defaultCollector EvidenceCollector
}

func New(defaultScanner Scanner, defaultCollector EvidenceCollector) *Registry {
	return &Registry{
		scanners:         make(map[string]Scanner),
		collectors:       make(map[string]EvidenceCollector),
		defaultScanner:   defaultScanner,
		defaultCollector: defaultCollector,
	}
}

func (r *Registry) RegisterScanner(familyCode string, s Scanner) {
	r.mu.Lock()
	r.scanners[familyCode] = s
	r.mu.Unlock()
}

func (r *Registry) RegisterCollector(familyCode string, c EvidenceCollector) {
	r.mu.Lock()
	r.collectors[familyCode] = c
	r.mu.Unlock()
}

// ScannerFor returns the scanner registered for the family, or the default.
func (r *Registry) ScannerFor(familyCode string) Scanner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.scanners[familyCode]; ok {
		return s
	}
	return r.defaultScanner
}

// CollectorFor returns the collector registered for the family, or the
// default.
func (r *Registry) CollectorFor(familyCode string) EvidenceCollector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.collectors[familyCode]; ok {
		return c
	}
	return r.defaultCollector
}
