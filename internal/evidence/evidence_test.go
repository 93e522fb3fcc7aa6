package evidence

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/nelssec/atoguard/internal/models"
	"github.com/nelssec/atoguard/internal/registry"
)

type fakeCollector struct {
	failLogs bool
}

func (f *fakeCollector) item(typ models.EvidenceType) []models.EvidenceItem {
	return []models.EvidenceItem{{Type: typ}}
}

func (f *fakeCollector) CollectConfiguration(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	return f.item(models.EvidenceConfiguration), nil
}

func (f *fakeCollector) CollectLogs(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	if f.failLogs {
		return nil, errors.New("log export unavailable")
	}
	return f.item(models.EvidenceLogs), nil
}

func (f *fakeCollector) CollectMetrics(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	return f.item(models.EvidenceMetrics), nil
}

func (f *fakeCollector) CollectPolicies(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	return f.item(models.EvidencePolicies), nil
}

func (f *fakeCollector) CollectAccessControl(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	return f.item(models.EvidenceAccessControl), nil
}

func items(types ...models.EvidenceType) []models.EvidenceItem {
	out := make([]models.EvidenceItem, len(types))
	for i, typ := range types {
		out[i] = models.EvidenceItem{Type: typ}
	}
	return out
}

func TestCompleteness(t *testing.T) {
	tests := []struct {
		name   string
		items  []models.EvidenceItem
		target int
		want   float64
	}{
		{
			name:   "empty package scores zero",
			items:  nil,
			target: 3,
			want:   0,
		},
		{
			name:   "one of three types",
			items:  items(models.EvidenceConfiguration),
			target: 3,
			want:   100.0 / 3.0,
		},
		{
			name: "duplicates of one type count once",
			items: items(
				models.EvidenceLogs,
				models.EvidenceLogs,
				models.EvidenceLogs,
			),
			target: 3,
			want:   100.0 / 3.0,
		},
		{
			name: "target met exactly",
			items: items(
				models.EvidenceConfiguration,
				models.EvidenceLogs,
				models.EvidenceMetrics,
			),
			target: 3,
			want:   100,
		},
		{
			name: "overshoot is capped at 100",
			items: items(
				models.EvidenceConfiguration,
				models.EvidenceLogs,
				models.EvidenceMetrics,
				models.EvidencePolicies,
				models.EvidenceAccessControl,
			),
			target: 3,
			want:   100,
		},
		{
			name: "higher target scales down",
			items: items(
				models.EvidenceConfiguration,
				models.EvidenceLogs,
			),
			target: 5,
			want:   40,
		},
		{
			name:   "non-positive target falls back to default",
			items:  items(models.EvidenceConfiguration),
			target: 0,
			want:   100.0 / 3.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Completeness(tt.items, tt.target)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("expected %.2f, got %.2f", tt.want, got)
			}
		})
	}
}

func TestCollectEvidenceProgressPerType(t *testing.T) {
	svc := NewService(registry.New(nil, &fakeCollector{}), nil, nil)

	var progress []Progress
	pkg, err := svc.CollectEvidence(context.Background(), models.Scope{SubscriptionID: "sub-1"}, "AC", func(p Progress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(progress) != 5 {
		t.Fatalf("expected one notification per evidence type, got %d", len(progress))
	}
	wantOrder := []models.EvidenceType{
		models.EvidenceConfiguration,
		models.EvidenceLogs,
		models.EvidenceMetrics,
		models.EvidencePolicies,
		models.EvidenceAccessControl,
	}
	for i, p := range progress {
		if p.CompletedTypes != i+1 || p.TotalTypes != 5 {
			t.Errorf("notification %d: expected %d/5 types, got %d/%d", i, i+1, p.CompletedTypes, p.TotalTypes)
		}
		if p.EvidenceType != wantOrder[i] {
			t.Errorf("notification %d: expected type %s, got %s", i, wantOrder[i], p.EvidenceType)
		}
		if p.FamilyCode != "AC" {
			t.Errorf("notification %d: expected family AC, got %s", i, p.FamilyCode)
		}
	}
	if last := progress[len(progress)-1]; last.ItemCount != len(pkg.Items) {
		t.Errorf("final item count %d should match the package's %d", last.ItemCount, len(pkg.Items))
	}
}

func TestCollectEvidenceSkipsFailedType(t *testing.T) {
	svc := NewService(registry.New(nil, &fakeCollector{failLogs: true}), nil, nil)

	pkg, err := svc.CollectEvidence(context.Background(), models.Scope{SubscriptionID: "sub-1"}, "CM", nil)
	if err != nil {
		t.Fatalf("a single failing type must not fail the pipeline: %v", err)
	}

	if len(pkg.Items) != 4 {
		t.Errorf("expected 4 items with logs unavailable, got %d", len(pkg.Items))
	}
	for _, item := range pkg.Items {
		if item.Type == models.EvidenceLogs {
			t.Errorf("log evidence should be absent")
		}
	}
	// 4 of 3 distinct types still caps at full completeness for CM.
	if pkg.Completeness != 100 {
		t.Errorf("expected completeness 100, got %.2f", pkg.Completeness)
	}
}

func TestTargetFor(t *testing.T) {
	tests := []struct {
		family string
		want   int
	}{
		{"AC", 5},
		{"AU", 4},
		{"SC", 4},
		{"IA", 4},
		{"CM", 3},
		{"ZZ", 3}, // unknown family gets the default
	}

	for _, tt := range tests {
		if got := TargetFor(tt.family); got != tt.want {
			t.Errorf("TargetFor(%s): expected %d, got %d", tt.family, tt.want, got)
		}
	}
}
