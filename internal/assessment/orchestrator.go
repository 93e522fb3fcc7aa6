package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/catalog"
	"github.com/nelssec/atoguard/internal/inventory"
	"github.com/nelssec/atoguard/internal/models"
	"github.com/nelssec/atoguard/internal/registry"
)

var ErrInvalidScope = errors.New("invalid assessment scope")

// Progress is a fire-and-forget notification emitted after each family.
type Progress struct {
	CompletedFamilies int     `json:"completed_families"`
	TotalFamilies     int     `json:"total_families"`
	FamilyCode        string  `json:"family_code"`
	FamilyScore       float64 `json:"family_score"`
	FindingCount      int     `json:"finding_count"`
}

// ProgressFunc receives progress notifications. Implementations must not
// block; there is no backpressure contract.
type ProgressFunc func(Progress)

// Store persists completed assessments. A storage failure never
// invalidates an in-memory assessment result.
type Store interface {
	SaveAssessment(ctx context.Context, a *models.ComplianceAssessment) error
}

// Orchestrator drives one assessment run: warm the resource cache once,
// iterate control families strictly sequentially, score, aggregate,
// persist.
type Orchestrator struct {
	registry *registry.Registry
	catalog  catalog.Catalog
	cache    *inventory.Cache
	store    Store
	logger   *slog.Logger
}

func NewOrchestrator(reg *registry.Registry, cat catalog.Catalog, cache *inventory.Cache, store Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: reg,
		catalog:  cat,
		cache:    cache,
		store:    store,
		logger:   logger,
	}
}

// RunAssessment assesses every control family for the scope. Cancellation
// is honored at family boundaries only; findings for completed families
// are kept on the returned partial assessment. Orchestration-level errors
// abort the run, are recorded on the partial assessment, and are returned.
func (o *Orchestrator) RunAssessment(ctx context.Context, scope models.Scope, progress ProgressFunc) (*models.ComplianceAssessment, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}

	a := &models.ComplianceAssessment{
		ID:             uuid.New(),
		SubscriptionID: scope.SubscriptionID,
		ResourceGroup:  scope.ResourceGroup,
		StartedAt:      time.Now(),
	}

	o.logger.Info("assessment started",
		"assessment_id", a.ID,
		"subscription_id", scope.SubscriptionID,
		"resource_group", scope.ResourceGroup)

	if err := o.cache.Warm(ctx, scope.SubscriptionID); err != nil {
		a.Error = err.Error()
		return a, fmt.Errorf("warming resource cache: %w", err)
	}

	families := o.catalog.Families()
	for i, family := range families {
		if err := ctx.Err(); err != nil {
			a.Error = err.Error()
			return a, err
		}

		fa, err := o.assessFamily(ctx, scope, family)
		if err != nil {
			a.Error = err.Error()
			return a, fmt.Errorf("assessing family %s: %w", family.Code, err)
		}
		a.FamilyAssessments = append(a.FamilyAssessments, *fa)

		if progress != nil {
			progress(Progress{
				CompletedFamilies: i + 1,
				TotalFamilies:     len(families),
				FamilyCode:        family.Code,
				FamilyScore:       fa.Score,
				FindingCount:      len(fa.Findings),
			})
		}
	}

	o.aggregate(a)
	a.CompletedAt = time.Now()

	if o.store != nil {
		if err := o.store.SaveAssessment(ctx, a); err != nil {
			o.logger.Warn("persisting assessment failed",
				"assessment_id", a.ID, "error", err)
		}
	}

	o.logger.Info("assessment completed",
		"assessment_id", a.ID,
		"overall_score", a.OverallScore,
		"risk_level", a.RiskLevel)

	return a, nil
}

func (o *Orchestrator) assessFamily(ctx context.Context, scope models.Scope, family catalog.Family) (*models.ControlFamilyAssessment, error) {
	controls, err := o.catalog.Controls(ctx, family.Code)
	if err != nil {
		return nil, fmt.Errorf("fetching controls: %w", err)
	}

	scanner := o.registry.ScannerFor(family.Code)

	var findings []models.Finding
	for _, control := range controls {
		var scanned []models.Finding
		var scanErr error
		if scope.ResourceGroup != "" {
			scanned, scanErr = scanner.ScanResourceGroup(ctx, scope, scope.ResourceGroup, control)
		} else {
			scanned, scanErr = scanner.Scan(ctx, scope, control)
		}
		if scanErr != nil {
			// A per-control scan failure is logged and skipped; the rest
			// of the family still runs.
			o.logger.Warn("control scan failed",
				"family", family.Code,
				"control", control.ID,
				"error", scanErr)
			continue
		}
		findings = append(findings, scanned...)
	}

	passed, total, score := FamilyScore(controls, findings)

	return &models.ControlFamilyAssessment{
		FamilyCode:     family.Code,
		FamilyName:     family.Name,
		Findings:       findings,
		TotalControls:  total,
		PassedControls: passed,
		Score:          score,
	}, nil
}

func (o *Orchestrator) aggregate(a *models.ComplianceAssessment) {
	a.SeverityCounts = SeverityCounts(a.FamilyAssessments)
	a.OverallScore = OverallScore(a.FamilyAssessments)
	a.RiskScore = RiskScore(a.SeverityCounts)
	a.RiskLevel = RiskLevelFor(a.SeverityCounts)

	var findingCount int
	for _, c := range a.SeverityCounts {
		findingCount += c
	}
	a.Summary = fmt.Sprintf(
		"%d control families assessed, %d findings (%d critical, %d high), overall score %.1f, risk %s",
		len(a.FamilyAssessments),
		findingCount,
		a.SeverityCounts[models.SeverityCritical],
		a.SeverityCounts[models.SeverityHigh],
		a.OverallScore,
		a.RiskLevel,
	)
}
