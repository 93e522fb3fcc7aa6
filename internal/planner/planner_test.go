package planner

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/models"
)

func newFinding(severity models.Severity, findingType, resourceID string, auto bool, controlIDs ...string) models.Finding {
	return models.Finding{
		ID:             uuid.New(),
		FindingType:    findingType,
		ControlIDs:     models.StringArray(controlIDs),
		Severity:       severity,
		Resource:       models.ResourceRef{ID: resourceID, Type: "storage_account", Name: resourceID},
		AutoRemediable: auto,
	}
}

var testScope = models.Scope{SubscriptionID: "sub-1"}

func TestGeneratePlanEffortIsSumOfItems(t *testing.T) {
	findings := []models.Finding{
		newFinding(models.SeverityCritical, "public_access_enabled", "res-a", true, "AC-3"),
		newFinding(models.SeverityHigh, "storage_encryption_disabled", "res-b", true, "SC-28"),
		newFinding(models.SeverityLow, "custom_manual_issue", "res-c", false, "CM-6"),
	}

	plan, err := GeneratePlan(testScope, findings, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plan.Items) != len(findings) {
		t.Fatalf("expected %d items, got %d", len(findings), len(plan.Items))
	}

	var sum time.Duration
	for _, item := range plan.Items {
		sum += item.EstimatedEffort
	}
	if plan.EstimatedEffort != sum {
		t.Errorf("expected plan effort %v to equal item sum %v", plan.EstimatedEffort, sum)
	}
}

func TestGeneratePlanRequiresSubscription(t *testing.T) {
	_, err := GeneratePlan(models.Scope{}, nil, Options{})
	if err == nil {
		t.Fatal("expected error for empty scope")
	}
}

func TestGeneratePlanMinSeverityFilter(t *testing.T) {
	findings := []models.Finding{
		newFinding(models.SeverityCritical, "public_access_enabled", "res-a", true, "AC-3"),
		newFinding(models.SeverityMedium, "logging_disabled", "res-b", true, "AU-2"),
		newFinding(models.SeverityLow, "versioning_disabled", "res-c", true, "CP-9"),
	}

	plan, err := GeneratePlan(testScope, findings, Options{MinSeverity: models.SeverityMedium})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plan.Items) != 2 {
		t.Fatalf("expected 2 items after severity filter, got %d", len(plan.Items))
	}
	for _, item := range plan.Items {
		if item.Priority == "P3" {
			t.Errorf("low-severity finding survived the filter")
		}
	}
}

func TestGeneratePlanFamilyFilters(t *testing.T) {
	findings := []models.Finding{
		newFinding(models.SeverityHigh, "storage_encryption_disabled", "res-a", true, "SC-28"),
		newFinding(models.SeverityHigh, "mfa_not_enforced", "res-b", false, "IA-2"),
	}

	plan, err := GeneratePlan(testScope, findings, Options{IncludeFamilies: []string{"SC"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Items) != 1 {
		t.Fatalf("expected 1 item with include filter, got %d", len(plan.Items))
	}

	plan, err = GeneratePlan(testScope, findings, Options{ExcludeFamilies: []string{"SC"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Items) != 1 {
		t.Fatalf("expected 1 item with exclude filter, got %d", len(plan.Items))
	}
	if plan.Items[0].Automated {
		t.Errorf("expected the manual IA finding to remain")
	}
}

func TestGeneratePlanAutomatableOnly(t *testing.T) {
	findings := []models.Finding{
		newFinding(models.SeverityHigh, "storage_encryption_disabled", "res-a", false, "SC-28"), // known auto type
		newFinding(models.SeverityHigh, "bespoke_problem", "res-b", false, "CM-6"),
		newFinding(models.SeverityLow, "bespoke_flagged", "res-c", true, "CM-6"),
	}

	plan, err := GeneratePlan(testScope, findings, Options{AutomatableOnly: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plan.Items) != 2 {
		t.Fatalf("expected 2 automatable items, got %d", len(plan.Items))
	}
	for _, item := range plan.Items {
		if !item.Automated {
			t.Errorf("non-automatable item in automatable-only plan")
		}
	}
}

func TestGeneratePlanDependenciesOnSharedResource(t *testing.T) {
	critical := newFinding(models.SeverityCritical, "public_access_enabled", "res-shared", true, "AC-3")
	low := newFinding(models.SeverityLow, "versioning_disabled", "res-shared", true, "CP-9")
	other := newFinding(models.SeverityHigh, "storage_encryption_disabled", "res-other", true, "SC-28")

	plan, err := GeneratePlan(testScope, []models.Finding{critical, low, other}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byFinding := make(map[uuid.UUID]models.RemediationItem)
	for _, item := range plan.Items {
		byFinding[item.FindingID] = item
	}

	if deps := byFinding[other.ID].DependsOn; len(deps) != 0 {
		t.Errorf("expected no dependencies for isolated resource, got %d", len(deps))
	}
	if deps := byFinding[critical.ID].DependsOn; len(deps) != 1 || deps[0] != low.ID {
		t.Errorf("expected critical item to depend on the low finding sharing its resource")
	}
	if deps := byFinding[low.ID].DependsOn; len(deps) != 1 || deps[0] != critical.ID {
		t.Errorf("expected low item to depend on the critical finding sharing its resource")
	}
}

func TestGeneratePlanTimelinePhases(t *testing.T) {
	findings := []models.Finding{
		newFinding(models.SeverityCritical, "public_access_enabled", "res-a", true, "AC-3"),
		newFinding(models.SeverityCritical, "public_access_enabled", "res-b", true, "AC-3"),
		newFinding(models.SeverityMedium, "logging_disabled", "res-c", true, "AU-2"),
	}

	plan, err := GeneratePlan(testScope, findings, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plan.Timeline) != 2 {
		t.Fatalf("expected 2 phases (P0, P2), got %d", len(plan.Timeline))
	}

	first, second := plan.Timeline[0], plan.Timeline[1]
	if first.Priority != "P0" || second.Priority != "P2" {
		t.Errorf("expected phases P0 then P2, got %s then %s", first.Priority, second.Priority)
	}
	if len(first.ItemIDs) != 2 {
		t.Errorf("expected 2 items in the P0 phase, got %d", len(first.ItemIDs))
	}
	if !second.StartAt.Equal(first.StartAt.Add(first.Duration)) {
		t.Errorf("expected the second phase to start when the first ends")
	}
}

func TestGeneratePlanRiskReduction(t *testing.T) {
	findings := []models.Finding{
		newFinding(models.SeverityCritical, "public_access_enabled", "res-a", true, "AC-3"), // weight 10
		newFinding(models.SeverityLow, "versioning_disabled", "res-b", true, "CP-9"),        // weight 2.5
	}

	full, err := GeneratePlan(testScope, findings, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(full.ProjectedRiskReduction-100) > 0.001 {
		t.Errorf("expected 100%% reduction for a full plan, got %.2f", full.ProjectedRiskReduction)
	}

	partial, err := GeneratePlan(testScope, findings, Options{MinSeverity: models.SeverityCritical})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 10.0 / 12.5 * 100
	if math.Abs(partial.ProjectedRiskReduction-want) > 0.001 {
		t.Errorf("expected %.2f%% reduction, got %.2f", want, partial.ProjectedRiskReduction)
	}
}

func TestGeneratePlanResidualRiskRating(t *testing.T) {
	findings := []models.Finding{
		newFinding(models.SeverityCritical, "public_access_enabled", "res-a", true, "AC-3"),    // weight 10
		newFinding(models.SeverityHigh, "storage_encryption_disabled", "res-b", true, "SC-28"), // weight 7.5
		newFinding(models.SeverityMedium, "logging_disabled", "res-c", true, "AU-2"),           // weight 5
		newFinding(models.SeverityLow, "versioning_disabled", "res-d", true, "CP-9"),           // weight 2.5
	}

	full, err := GeneratePlan(testScope, findings, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if full.ResidualRiskRating != models.RiskLow {
		t.Errorf("a full plan should leave low residual risk, got %s", full.ResidualRiskRating)
	}

	// Covering critical and high leaves medium and low behind; their
	// average weight of 3.75 bands as medium.
	partial, err := GeneratePlan(testScope, findings, Options{MinSeverity: models.SeverityHigh})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if partial.ResidualRiskRating != models.RiskMedium {
		t.Errorf("expected medium residual rating, got %s", partial.ResidualRiskRating)
	}

	// Covering only the critical leaves an average weight of 5, the
	// bottom of the high band.
	narrow, err := GeneratePlan(testScope, findings, Options{MinSeverity: models.SeverityCritical})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if narrow.ResidualRiskRating != models.RiskHigh {
		t.Errorf("expected high residual rating, got %s", narrow.ResidualRiskRating)
	}
}

func TestGeneratePlanItemShape(t *testing.T) {
	f := newFinding(models.SeverityHigh, "storage_encryption_disabled", "res-a", true, "SC-28")
	f.RemediationActions = models.StringArray{"Enable server-side encryption"}

	plan, err := GeneratePlan(testScope, []models.Finding{f}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	item := plan.Items[0]
	if item.ResourceID != "res-a" {
		t.Errorf("expected resource id res-a, got %s", item.ResourceID)
	}
	if item.Priority != "P1" {
		t.Errorf("expected P1 for a high finding, got %s", item.Priority)
	}
	if len(item.Steps) == 0 {
		t.Errorf("expected remediation steps to be carried onto the item")
	}
	if len(item.Rollback.Steps) == 0 || item.Rollback.EstimatedTime <= 0 {
		t.Errorf("expected a populated rollback plan")
	}
	if len(item.ValidationSteps) == 0 {
		t.Errorf("expected validation steps for an automated item")
	}
}
