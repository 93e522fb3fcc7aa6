package registry

import (
	"context"
	"testing"

	"github.com/nelssec/atoguard/internal/catalog"
	"github.com/nelssec/atoguard/internal/models"
)

type stubScanner struct {
	name string
}

func (s *stubScanner) Scan(ctx context.Context, scope models.Scope, control catalog.Control) ([]models.Finding, error) {
	return nil, nil
}

func (s *stubScanner) ScanResourceGroup(ctx context.Context, scope models.Scope, resourceGroup string, control catalog.Control) ([]models.Finding, error) {
	return nil, nil
}

type stubCollector struct {
	name string
}

func (c *stubCollector) CollectConfiguration(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	return nil, nil
}

func (c *stubCollector) CollectLogs(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	return nil, nil
}

func (c *stubCollector) CollectMetrics(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	return nil, nil
}

func (c *stubCollector) CollectPolicies(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	return nil, nil
}

func (c *stubCollector) CollectAccessControl(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	return nil, nil
}

func TestScannerForFallsBackToDefault(t *testing.T) {
	def := &stubScanner{name: "default"}
	r := New(def, &stubCollector{name: "default"})

	if got := r.ScannerFor("AC"); got != Scanner(def) {
		t.Errorf("expected the default scanner for an unregistered family")
	}
}

func TestScannerForReturnsOverride(t *testing.T) {
	def := &stubScanner{name: "default"}
	ac := &stubScanner{name: "ac"}
	r := New(def, &stubCollector{})
	r.RegisterScanner("AC", ac)

	if got := r.ScannerFor("AC"); got != Scanner(ac) {
		t.Errorf("expected the registered AC scanner")
	}
	if got := r.ScannerFor("AU"); got != Scanner(def) {
		t.Errorf("expected the default scanner for AU")
	}
}

func TestCollectorForFallsBackToDefault(t *testing.T) {
	def := &stubCollector{name: "default"}
	au := &stubCollector{name: "au"}
	r := New(&stubScanner{}, def)
	r.RegisterCollector("AU", au)

	if got := r.CollectorFor("AU"); got != EvidenceCollector(au) {
		t.Errorf("expected the registered AU collector")
	}
	if got := r.CollectorFor("SC"); got != EvidenceCollector(def) {
		t.Errorf("expected the default collector for SC")
	}
}
