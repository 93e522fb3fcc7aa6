package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/assessment"
	"github.com/nelssec/atoguard/internal/models"
)

// Options filter and shape plan generation.
type Options struct {
	MinSeverity     models.Severity `json:"min_severity,omitempty"`
	IncludeFamilies []string        `json:"include_families,omitempty"`
	ExcludeFamilies []string        `json:"exclude_families,omitempty"`
	AutomatableOnly bool            `json:"automatable_only"`
}

// autoRemediableTypes lists finding types the executor can fix without an
// operator even when the finding itself is not flagged auto-remediable.
var autoRemediableTypes = map[string]bool{
	"storage_encryption_disabled": true,
	"public_access_enabled":       true,
	"logging_disabled":            true,
	"versioning_disabled":         true,
	"kms_rotation_disabled":       true,
	"tls_outdated":                true,
}

// effortByResourceType estimates manual effort per resource type.
var effortByResourceType = map[string]time.Duration{
	"storage_account": 45 * time.Minute,
	"s3_bucket":       45 * time.Minute,
	"gcs_bucket":      45 * time.Minute,
	"kms_key":         30 * time.Minute,
	"key_vault_key":   30 * time.Minute,
	"iam_policy":      2 * time.Hour,
	"role_assignment": 90 * time.Minute,
	"iam_user":        30 * time.Minute,
	"sql_database":    90 * time.Minute,
	"rds_instance":    90 * time.Minute,
}

const defaultEffort = time.Hour

var rollbackTemplate = []string{
	"Pause further remediation on the affected resource",
	"Restore configuration from the pre-change snapshot",
	"Verify resource health and connectivity",
	"Re-run the control scan to confirm the prior state",
}

const rollbackEstimate = 30 * time.Minute

// GeneratePlan filters, prioritizes, and orders findings into a phased
// remediation plan with a projected risk reduction.
func GeneratePlan(scope models.Scope, findings []models.Finding, opts Options) (*models.RemediationPlan, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	selected := filter(findings, opts)
	prioritize(selected)

	items := make([]models.RemediationItem, 0, len(selected))
	for _, f := range selected {
		items = append(items, buildItem(f, selected))
	}
	reorder(items)

	plan := &models.RemediationPlan{
		ID:             uuid.New(),
		SubscriptionID: scope.SubscriptionID,
		Items:          items,
		CreatedAt:      time.Now(),
	}
	for _, item := range items {
		plan.EstimatedEffort += item.EstimatedEffort
	}
	plan.Timeline = buildTimeline(items, plan.CreatedAt)
	plan.ProjectedRiskReduction = riskReduction(selected, findings)
	plan.ResidualRiskRating = residualRating(selected, findings)

	return plan, nil
}

func filter(findings []models.Finding, opts Options) []models.Finding {
	minRank := 0
	if opts.MinSeverity != "" {
		minRank = models.SeverityRank(opts.MinSeverity)
	}

	var out []models.Finding
	for _, f := range findings {
		if models.SeverityRank(f.Severity) < minRank {
			continue
		}
		if len(opts.IncludeFamilies) > 0 && !matchesFamily(f, opts.IncludeFamilies) {
			continue
		}
		if matchesFamily(f, opts.ExcludeFamilies) {
			continue
		}
		if opts.AutomatableOnly && !automatable(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func matchesFamily(f models.Finding, prefixes []string) bool {
	for _, prefix := range prefixes {
		for _, id := range f.ControlIDs {
			if strings.HasPrefix(id, prefix) {
				return true
			}
		}
	}
	return false
}

func automatable(f models.Finding) bool {
	return f.AutoRemediable || autoRemediableTypes[f.FindingType]
}

// prioritize sorts severity descending, automatable first, then shorter
// estimated effort.
func prioritize(findings []models.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := models.SeverityRank(findings[i].Severity), models.SeverityRank(findings[j].Severity)
		if ri != rj {
			return ri > rj
		}
		ai, aj := automatable(findings[i]), automatable(findings[j])
		if ai != aj {
			return ai
		}
		return estimateEffort(findings[i]) < estimateEffort(findings[j])
	})
}

func estimateEffort(f models.Finding) time.Duration {
	if automatable(f) {
		// Automated fixes are minute-scale, scaled by the care the
		// severity warrants.
		switch f.Severity {
		case models.SeverityCritical:
			return 30 * time.Minute
		case models.SeverityHigh:
			return 20 * time.Minute
		case models.SeverityMedium:
			return 15 * time.Minute
		default:
			return 10 * time.Minute
		}
	}
	if effort, ok := effortByResourceType[f.Resource.Type]; ok {
		return effort
	}
	return defaultEffort
}

func priorityLabel(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "P0"
	case models.SeverityHigh:
		return "P1"
	case models.SeverityMedium:
		return "P2"
	case models.SeverityLow:
		return "P3"
	default:
		return "P4"
	}
}

func priorityRank(label string) int {
	switch label {
	case "P0":
		return 0
	case "P1":
		return 1
	case "P2":
		return 2
	case "P3":
		return 3
	default:
		return 4
	}
}

func buildItem(f models.Finding, all []models.Finding) models.RemediationItem {
	auto := automatable(f)

	steps := make([]string, 0, len(f.RemediationActions))
	steps = append(steps, f.RemediationActions...)
	if len(steps) == 0 {
		steps = append(steps, fmt.Sprintf("Remediate %s on resource %s", f.FindingType, f.Resource.Name))
	}

	var validation []string
	if auto {
		validation = append(validation, fmt.Sprintf("Verify the resource no longer reports %s", f.FindingType))
	}

	return models.RemediationItem{
		FindingID:       f.ID,
		ResourceID:      f.Resource.ID,
		Priority:        priorityLabel(f.Severity),
		Automated:       auto,
		EstimatedEffort: estimateEffort(f),
		Steps:           steps,
		ValidationSteps: validation,
		Rollback: models.RollbackPlan{
			Steps:         append([]string(nil), rollbackTemplate...),
			EstimatedTime: rollbackEstimate,
		},
		DependsOn: dependencies(f, all),
	}
}

// dependencies are other findings on the same resource, ordered by
// severity descending.
func dependencies(f models.Finding, all []models.Finding) []uuid.UUID {
	var deps []models.Finding
	for _, other := range all {
		if other.ID == f.ID || other.Resource.ID != f.Resource.ID {
			continue
		}
		deps = append(deps, other)
	}
	sort.SliceStable(deps, func(i, j int) bool {
		return models.SeverityRank(deps[i].Severity) > models.SeverityRank(deps[j].Severity)
	})

	ids := make([]uuid.UUID, len(deps))
	for i, d := range deps {
		ids[i] = d.ID
	}
	return ids
}

// reorder puts items with fewer blockers first, then by priority rank.
func reorder(items []models.RemediationItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if len(items[i].DependsOn) != len(items[j].DependsOn) {
			return len(items[i].DependsOn) < len(items[j].DependsOn)
		}
		return priorityRank(items[i].Priority) < priorityRank(items[j].Priority)
	})
}

// buildTimeline groups items into one phase per priority label, phases
// chained sequentially from start.
func buildTimeline(items []models.RemediationItem, start time.Time) []models.RemediationPhase {
	byPriority := make(map[string][]models.RemediationItem)
	for _, item := range items {
		byPriority[item.Priority] = append(byPriority[item.Priority], item)
	}

	var phases []models.RemediationPhase
	cursor := start
	for _, label := range []string{"P0", "P1", "P2", "P3", "P4"} {
		group := byPriority[label]
		if len(group) == 0 {
			continue
		}

		var duration time.Duration
		ids := make([]uuid.UUID, len(group))
		for i, item := range group {
			duration += item.EstimatedEffort
			ids[i] = item.FindingID
		}

		phases = append(phases, models.RemediationPhase{
			Name:     fmt.Sprintf("Phase %d: %s remediations", len(phases)+1, label),
			Priority: label,
			ItemIDs:  ids,
			StartAt:  cursor,
			Duration: duration,
		})
		cursor = cursor.Add(duration)
	}
	return phases
}

// residualRating bands the average severity weight of the findings the
// plan leaves unaddressed. A plan covering everything rates Low.
func residualRating(covered, all []models.Finding) models.RiskLevel {
	inPlan := make(map[uuid.UUID]bool, len(covered))
	for _, f := range covered {
		inPlan[f.ID] = true
	}

	var sum float64
	var remaining int
	for _, f := range all {
		if inPlan[f.ID] {
			continue
		}
		sum += assessment.FindingRiskScore(f)
		remaining++
	}
	if remaining == 0 {
		return assessment.RiskRating(0)
	}
	return assessment.RiskRating(sum / float64(remaining))
}

// riskReduction is the share of total input risk covered by the plan.
func riskReduction(covered, all []models.Finding) float64 {
	var coveredRisk, totalRisk float64
	for _, f := range all {
		totalRisk += assessment.FindingRiskScore(f)
	}
	for _, f := range covered {
		coveredRisk += assessment.FindingRiskScore(f)
	}
	if totalRisk == 0 {
		return 0
	}
	return coveredRisk / totalRisk * 100
}
