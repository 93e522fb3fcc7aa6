package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/models"
)

// DataProvider supplies stored assessment data to the generator.
type DataProvider interface {
	GetAssessment(ctx context.Context, id uuid.UUID) (*models.ComplianceAssessment, error)
	ListFindings(ctx context.Context, assessmentID uuid.UUID, severity *models.Severity) ([]models.Finding, error)
}

// Generator renders assessment reports.
type Generator struct {
	provider DataProvider
}

func NewGenerator(provider DataProvider) *Generator {
	return &Generator{provider: provider}
}

// AssessmentReport renders a full PDF report for one assessment: summary
// page, per-family score table, and a findings appendix.
func (g *Generator) AssessmentReport(ctx context.Context, assessmentID uuid.UUID) ([]byte, error) {
	a, err := g.provider.GetAssessment(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("loading assessment: %w", err)
	}
	if a == nil {
		return nil, fmt.Errorf("assessment not found: %s", assessmentID)
	}

	findings, err := g.provider.ListFindings(ctx, assessmentID, nil)
	if err != nil {
		return nil, fmt.Errorf("loading findings: %w", err)
	}

	pdf := NewPDFReport("Compliance Assessment Report")

	pdf.AddSection("Executive Summary")
	pdf.AddParagraph(fmt.Sprintf(
		"Subscription %s was assessed on %s. The overall compliance score is %.1f%% with a %s risk level (risk score %.1f).",
		a.SubscriptionID,
		a.CompletedAt.Format("January 2, 2006"),
		a.OverallScore,
		a.RiskLevel,
		a.RiskScore,
	))
	if a.Summary != "" {
		pdf.AddParagraph(a.Summary)
	}
	if a.Error != "" {
		pdf.AddParagraph("Note: the assessment completed partially. " + a.Error)
	}

	pdf.AddScoreBar("Overall", a.OverallScore)

	pdf.AddSummaryTable(map[string]int{
		"Critical findings": a.SeverityCounts[models.SeverityCritical],
		"High findings":     a.SeverityCounts[models.SeverityHigh],
		"Medium findings":   a.SeverityCounts[models.SeverityMedium],
		"Low findings":      a.SeverityCounts[models.SeverityLow],
	})

	pdf.AddSection("Control Family Scores")
	families := make([]models.ControlFamilyAssessment, len(a.FamilyAssessments))
	copy(families, a.FamilyAssessments)
	sort.Slice(families, func(i, j int) bool {
		return families[i].FamilyCode < families[j].FamilyCode
	})

	rows := make([][]string, 0, len(families))
	for _, fa := range families {
		rows = append(rows, []string{
			fa.FamilyCode,
			fa.FamilyName,
			fmt.Sprintf("%d/%d", fa.PassedControls, fa.TotalControls),
			fmt.Sprintf("%.1f%%", fa.Score),
			fmt.Sprintf("%d", len(fa.Findings)),
		})
	}
	pdf.AddTable([]string{"Family", "Name", "Passed", "Score", "Findings"}, rows)

	bySeverity := make(map[string]int)
	for _, f := range findings {
		bySeverity[string(f.Severity)]++
	}
	if len(bySeverity) > 0 {
		pdf.AddChart("Findings by Severity", bySeverity)
	}

	if len(findings) > 0 {
		pdf.AddPageBreak()
		pdf.AddSection("Findings Appendix")

		findingRows := make([][]string, 0, len(findings))
		for _, f := range findings {
			findingRows = append(findingRows, []string{
				string(f.Severity),
				f.Title,
				f.Resource.Name,
				f.FindingType,
			})
		}
		pdf.AddTable([]string{"Severity", "Title", "Resource", "Type"}, findingRows)
	}

	return pdf.Output()
}

// FindingsCSV renders an assessment's findings as CSV.
func (g *Generator) FindingsCSV(ctx context.Context, assessmentID uuid.UUID) ([]byte, error) {
	findings, err := g.provider.ListFindings(ctx, assessmentID, nil)
	if err != nil {
		return nil, fmt.Errorf("loading findings: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"ID", "Severity", "Title", "Type", "Resource", "Controls", "Auto-Remediable", "Detected At"}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, f := range findings {
		record := []string{
			f.ID.String(),
			string(f.Severity),
			f.Title,
			f.FindingType,
			f.Resource.ID,
			joinControls(f.ControlIDs),
			fmt.Sprintf("%t", f.AutoRemediable),
			f.DetectedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func joinControls(ids models.StringArray) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ";"
		}
		out += id
	}
	return out
}
