package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/models"
	"github.com/nelssec/atoguard/internal/registry"
)

// Progress is emitted after each evidence type in the pipeline.
type Progress struct {
	CompletedTypes int                 `json:"completed_types"`
	TotalTypes     int                 `json:"total_types"`
	FamilyCode     string              `json:"family_code"`
	EvidenceType   models.EvidenceType `json:"evidence_type"`
	ItemCount      int                 `json:"item_count"`
}

// ProgressFunc receives progress notifications. Implementations must not
// block.
type ProgressFunc func(Progress)

// defaultTarget is the number of distinct evidence types a family needs
// for full completeness when no per-family target is set.
const defaultTarget = 3

// familyTargets holds per-family completeness targets (3-5).
var familyTargets = map[string]int{
	"AC": 5,
	"AU": 4,
	"SC": 4,
	"IA": 4,
	"CM": 3,
}

// Store persists evidence packages to an external evidence store.
type Store interface {
	SaveEvidencePackage(ctx context.Context, pkg *models.EvidencePackage) error
}

// Service runs the evidence collection pipeline for one family.
type Service struct {
	registry *registry.Registry
	store    Store
	logger   *slog.Logger
}

func NewService(reg *registry.Registry, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{registry: reg, store: store, logger: logger}
}

// CollectEvidence invokes the five typed sub-collectors sequentially,
// reporting progress after each. A failure in one evidence type is logged
// and skipped; the rest of the pipeline continues. Persistence failure is
// non-fatal.
func (s *Service) CollectEvidence(ctx context.Context, scope models.Scope, familyCode string, progress ProgressFunc) (*models.EvidencePackage, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	collector := s.registry.CollectorFor(familyCode)

	steps := []struct {
		typ     models.EvidenceType
		collect func(context.Context, models.Scope, string) ([]models.EvidenceItem, error)
	}{
		{models.EvidenceConfiguration, collector.CollectConfiguration},
		{models.EvidenceLogs, collector.CollectLogs},
		{models.EvidenceMetrics, collector.CollectMetrics},
		{models.EvidencePolicies, collector.CollectPolicies},
		{models.EvidenceAccessControl, collector.CollectAccessControl},
	}

	pkg := &models.EvidencePackage{
		ID:          uuid.New(),
		FamilyCode:  familyCode,
		CollectedAt: time.Now(),
	}

	for i, step := range steps {
		items, err := step.collect(ctx, scope, familyCode)
		if err != nil {
			s.logger.Warn("evidence collection failed for type",
				"family", familyCode,
				"evidence_type", step.typ,
				"error", err)
		} else {
			pkg.Items = append(pkg.Items, items...)
		}

		if progress != nil {
			progress(Progress{
				CompletedTypes: i + 1,
				TotalTypes:     len(steps),
				FamilyCode:     familyCode,
				EvidenceType:   step.typ,
				ItemCount:      len(pkg.Items),
			})
		}
	}

	pkg.Completeness = Completeness(pkg.Items, TargetFor(familyCode))
	pkg.Attestation = attestation(familyCode, pkg)

	if s.store != nil {
		if err := s.store.SaveEvidencePackage(ctx, pkg); err != nil {
			s.logger.Warn("persisting evidence package failed",
				"package_id", pkg.ID, "error", err)
		}
	}

	return pkg, nil
}

// TargetFor returns the distinct-type target for a family.
func TargetFor(familyCode string) int {
	if t, ok := familyTargets[familyCode]; ok {
		return t
	}
	return defaultTarget
}

// Completeness scores coverage as distinct evidence types collected versus
// the target, capped at 100. An empty package scores 0.
func Completeness(items []models.EvidenceItem, target int) float64 {
	if len(items) == 0 {
		return 0
	}
	if target <= 0 {
		target = defaultTarget
	}

	distinct := make(map[models.EvidenceType]bool)
	for _, item := range items {
		distinct[item.Type] = true
	}

	score := float64(len(distinct)) / float64(target) * 100
	if score > 100 {
		score = 100
	}
	return score
}

func attestation(familyCode string, pkg *models.EvidencePackage) string {
	return fmt.Sprintf(
		"Evidence package for control family %s: %d items collected on %s, completeness %.0f%%.",
		familyCode,
		len(pkg.Items),
		pkg.CollectedAt.Format(time.RFC3339),
		pkg.Completeness,
	)
}
