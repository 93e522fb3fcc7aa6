package assessment

import (
	"github.com/nelssec/atoguard/internal/catalog"
	"github.com/nelssec/atoguard/internal/models"
)

// Severity weights for the cumulative risk score.
const (
	weightCritical = 10.0
	weightHigh     = 7.5
	weightMedium   = 5.0
	weightLow      = 2.5
)

// FamilyScore computes the per-family compliance score. A control counts as
// failed when any finding's affected-control set names it; passed is
// total minus distinct failed controls, floored at zero. Score is 0 when
// the family has no controls.
func FamilyScore(controls []catalog.Control, findings []models.Finding) (passed, total int, score float64) {
	total = len(controls)
	if total == 0 {
		return 0, 0, 0
	}

	inFamily := make(map[string]bool, total)
	for _, c := range controls {
		inFamily[c.ID] = true
	}

	failed := make(map[string]bool)
	for _, f := range findings {
		for _, id := range f.ControlIDs {
			if inFamily[id] {
				failed[id] = true
			}
		}
	}

	passed = total - len(failed)
	if passed < 0 {
		passed = 0
	}
	return passed, total, float64(passed) / float64(total) * 100
}

// OverallScore is the ratio of summed passed to summed total controls
// across families, not the mean of per-family percentages.
func OverallScore(families []models.ControlFamilyAssessment) float64 {
	var passed, total int
	for _, fa := range families {
		passed += fa.PassedControls
		total += fa.TotalControls
	}
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

// SeverityCounts sums finding counts per severity across families.
func SeverityCounts(families []models.ControlFamilyAssessment) map[models.Severity]int {
	counts := make(map[models.Severity]int)
	for _, fa := range families {
		for _, f := range fa.Findings {
			counts[f.Severity]++
		}
	}
	return counts
}

// RiskScore is the cumulative weighted score over all findings.
func RiskScore(counts map[models.Severity]int) float64 {
	return float64(counts[models.SeverityCritical])*weightCritical +
		float64(counts[models.SeverityHigh])*weightHigh +
		float64(counts[models.SeverityMedium])*weightMedium +
		float64(counts[models.SeverityLow])*weightLow
}

// FindingRiskScore weights a single finding by its severity.
func FindingRiskScore(f models.Finding) float64 {
	switch f.Severity {
	case models.SeverityCritical:
		return weightCritical
	case models.SeverityHigh:
		return weightHigh
	case models.SeverityMedium:
		return weightMedium
	case models.SeverityLow:
		return weightLow
	default:
		return 0
	}
}

// RiskLevelFor derives the assessment risk level from severity counts: any
// Critical finding dominates, then volume thresholds for High and Medium.
func RiskLevelFor(counts map[models.Severity]int) models.RiskLevel {
	switch {
	case counts[models.SeverityCritical] > 0:
		return models.RiskCritical
	case counts[models.SeverityHigh] > 5:
		return models.RiskHigh
	case counts[models.SeverityMedium] > 10:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// RiskRating maps the average per-finding risk score to a rating band.
func RiskRating(averageScore float64) models.RiskLevel {
	switch {
	case averageScore >= 7.5:
		return models.RiskCritical
	case averageScore >= 5.0:
		return models.RiskHigh
	case averageScore >= 2.5:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
