package assessment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nelssec/atoguard/internal/catalog"
	"github.com/nelssec/atoguard/internal/inventory"
	"github.com/nelssec/atoguard/internal/models"
	"github.com/nelssec/atoguard/internal/registry"
)

type fakeInventory struct{}

func (f *fakeInventory) ListResources(ctx context.Context, subscriptionID string) ([]inventory.Resource, error) {
	return []inventory.Resource{
		{
			ID:   "res-1",
			Type: "storage_account",
			Name: "plain-storage",
			Properties: map[string]interface{}{
				"encryption_enabled": false,
				"logging_enabled":    true,
				"versioning_enabled": true,
			},
		},
	}, nil
}

func (f *fakeInventory) ListResourceGroups(ctx context.Context, subscriptionID string) ([]inventory.ResourceGroup, error) {
	return nil, nil
}

func (f *fakeInventory) ListResourcesInGroup(ctx context.Context, subscriptionID, resourceGroup string) ([]inventory.Resource, error) {
	return nil, nil
}

type memoryStore struct {
	saved []*models.ComplianceAssessment
	err   error
}

func (m *memoryStore) SaveAssessment(ctx context.Context, a *models.ComplianceAssessment) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, a)
	return nil
}

func newTestOrchestrator(store Store) *Orchestrator {
	cache := inventory.NewCache(&fakeInventory{}, time.Hour)
	scanner := catalog.NewRuleScanner(cache, nil)
	reg := registry.New(scanner, nil)
	return NewOrchestrator(reg, catalog.NewBuiltin(), cache, store, nil)
}

func TestRunAssessmentRejectsEmptyScope(t *testing.T) {
	o := newTestOrchestrator(nil)

	_, err := o.RunAssessment(context.Background(), models.Scope{}, nil)
	if !errors.Is(err, ErrInvalidScope) {
		t.Errorf("expected ErrInvalidScope, got %v", err)
	}
}

func TestRunAssessmentCoversEveryFamily(t *testing.T) {
	store := &memoryStore{}
	o := newTestOrchestrator(store)

	var progress []Progress
	a, err := o.RunAssessment(context.Background(), models.Scope{SubscriptionID: "sub-1"}, func(p Progress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(a.FamilyAssessments) != 9 {
		t.Fatalf("expected 9 family assessments, got %d", len(a.FamilyAssessments))
	}
	if len(progress) != 9 {
		t.Errorf("expected 9 progress notifications, got %d", len(progress))
	}
	if last := progress[len(progress)-1]; last.CompletedFamilies != 9 || last.TotalFamilies != 9 {
		t.Errorf("final progress should report 9/9, got %d/%d", last.CompletedFamilies, last.TotalFamilies)
	}

	// The unencrypted storage account must fail SC through the encryption
	// rule and leave the other families' scores untouched by it.
	var sc models.ControlFamilyAssessment
	for _, fa := range a.FamilyAssessments {
		if fa.FamilyCode == "SC" {
			sc = fa
		}
	}
	if len(sc.Findings) == 0 {
		t.Errorf("expected findings in the SC family")
	}
	if sc.PassedControls == sc.TotalControls {
		t.Errorf("expected failed controls in SC, got %d/%d", sc.PassedControls, sc.TotalControls)
	}

	if a.SeverityCounts[models.SeverityHigh] == 0 {
		t.Errorf("expected at least one high-severity finding")
	}
	if a.OverallScore <= 0 || a.OverallScore >= 100 {
		t.Errorf("expected a partial overall score, got %.2f", a.OverallScore)
	}
	if a.CompletedAt.IsZero() {
		t.Errorf("expected a completion timestamp")
	}

	if len(store.saved) != 1 {
		t.Errorf("expected the assessment to be persisted once, got %d", len(store.saved))
	}
}

func TestRunAssessmentStorageFailureDoesNotAbort(t *testing.T) {
	store := &memoryStore{err: errors.New("database unavailable")}
	o := newTestOrchestrator(store)

	a, err := o.RunAssessment(context.Background(), models.Scope{SubscriptionID: "sub-1"}, nil)
	if err != nil {
		t.Fatalf("a storage failure must not fail the run: %v", err)
	}
	if a.Error != "" {
		t.Errorf("expected no assessment error, got %q", a.Error)
	}
}

func TestRunAssessmentHonorsCancellation(t *testing.T) {
	o := newTestOrchestrator(nil)

	ctx, cancel := context.WithCancel(context.Background())
	var once bool
	a, err := o.RunAssessment(ctx, models.Scope{SubscriptionID: "sub-1"}, func(p Progress) {
		if !once {
			once = true
			cancel()
		}
	})
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if a == nil {
		t.Fatal("expected a partial assessment on cancellation")
	}
	if len(a.FamilyAssessments) == 0 || len(a.FamilyAssessments) == 9 {
		t.Errorf("expected a partial family list, got %d", len(a.FamilyAssessments))
	}
	if a.Error == "" {
		t.Errorf("expected the cancellation recorded on the assessment")
	}
}
