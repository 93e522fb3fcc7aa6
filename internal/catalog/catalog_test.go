package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/nelssec/atoguard/internal/inventory"
	"github.com/nelssec/atoguard/internal/models"
)

type fakeInventory struct {
	resources []inventory.Resource
}

func (f *fakeInventory) ListResources(ctx context.Context, subscriptionID string) ([]inventory.Resource, error) {
	return f.resources, nil
}

func (f *fakeInventory) ListResourceGroups(ctx context.Context, subscriptionID string) ([]inventory.ResourceGroup, error) {
	return nil, nil
}

func (f *fakeInventory) ListResourcesInGroup(ctx context.Context, subscriptionID, resourceGroup string) ([]inventory.Resource, error) {
	var out []inventory.Resource
	for _, r := range f.resources {
		if r.Group == resourceGroup {
			out = append(out, r)
		}
	}
	return out, nil
}

func resource(typ string, props map[string]interface{}) inventory.Resource {
	return inventory.Resource{
		ID:         "res-1",
		Type:       typ,
		Name:       "test-resource",
		Location:   "us-east-1",
		Properties: props,
	}
}

func ruleByID(t *testing.T, id string) Rule {
	t.Helper()
	for _, r := range DefaultRules() {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("no rule with id %s", id)
	return Rule{}
}

func TestRuleDefaults(t *testing.T) {
	tests := []struct {
		name     string
		ruleID   string
		resource inventory.Resource
		violated bool
	}{
		{
			name:     "encryption defaults to enabled",
			ruleID:   "storage-encryption-at-rest",
			resource: resource("storage_account", nil),
			violated: false,
		},
		{
			name:     "encryption explicitly disabled",
			ruleID:   "storage-encryption-at-rest",
			resource: resource("storage_account", map[string]interface{}{"encryption_enabled": false}),
			violated: true,
		},
		{
			name:     "public access defaults to blocked",
			ruleID:   "storage-public-access",
			resource: resource("s3_bucket", nil),
			violated: false,
		},
		{
			name:     "public access explicitly open",
			ruleID:   "storage-public-access",
			resource: resource("s3_bucket", map[string]interface{}{"public_access": true}),
			violated: true,
		},
		{
			name:     "logging defaults to disabled",
			ruleID:   "access-logging",
			resource: resource("gcs_bucket", nil),
			violated: true,
		},
		{
			name:     "monitoring defaults to enabled",
			ruleID:   "monitoring",
			resource: resource("sql_database", nil),
			violated: false,
		},
		{
			name:     "mfa defaults to absent",
			ruleID:   "mfa-enforcement",
			resource: resource("iam_user", nil),
			violated: true,
		},
		{
			name:     "unset tls version passes",
			ruleID:   "tls-minimum-version",
			resource: resource("storage_account", nil),
			violated: false,
		},
		{
			name:     "tls 1.0 violates",
			ruleID:   "tls-minimum-version",
			resource: resource("storage_account", map[string]interface{}{"min_tls_version": "TLS1_0"}),
			violated: true,
		},
		{
			name:     "tls 1.2 passes",
			ruleID:   "tls-minimum-version",
			resource: resource("storage_account", map[string]interface{}{"min_tls_version": "TLS1_2"}),
			violated: false,
		},
		{
			name:     "tls 1.3 passes",
			ruleID:   "tls-minimum-version",
			resource: resource("storage_account", map[string]interface{}{"min_tls_version": "TLS1_3"}),
			violated: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := ruleByID(t, tt.ruleID)
			if got := rule.Violated(tt.resource); got != tt.violated {
				t.Errorf("expected violated=%v, got %v", tt.violated, got)
			}
		})
	}
}

func TestRuleAppliesTo(t *testing.T) {
	encryption := ruleByID(t, "storage-encryption-at-rest")
	if !encryption.appliesTo("s3_bucket") {
		t.Errorf("expected the encryption rule to apply to s3_bucket")
	}
	if encryption.appliesTo("iam_user") {
		t.Errorf("expected the encryption rule to skip iam_user")
	}

	monitoring := ruleByID(t, "monitoring")
	if !monitoring.appliesTo("anything_at_all") {
		t.Errorf("a rule with no resource types must apply to every type")
	}
}

func TestRuleScannerEvaluate(t *testing.T) {
	inv := &fakeInventory{resources: []inventory.Resource{
		resource("storage_account", map[string]interface{}{"encryption_enabled": false}),
		{ID: "res-2", Type: "storage_account", Name: "encrypted", Properties: map[string]interface{}{"encryption_enabled": true}},
		{ID: "res-3", Type: "iam_user", Name: "svc-user"},
	}}
	scanner := NewRuleScanner(inventory.NewCache(inv, time.Hour), nil)

	findings, err := scanner.Scan(context.Background(), models.Scope{SubscriptionID: "sub-1"}, Control{ID: "SC-28"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(findings) != 1 {
		t.Fatalf("expected 1 finding for the unencrypted account, got %d", len(findings))
	}

	f := findings[0]
	if f.FindingType != "storage_encryption_disabled" {
		t.Errorf("unexpected finding type %s", f.FindingType)
	}
	if f.Status != models.StatusNonCompliant {
		t.Errorf("expected non-compliant status, got %s", f.Status)
	}
	if f.Resource.ID != "res-1" {
		t.Errorf("expected finding on res-1, got %s", f.Resource.ID)
	}
	if len(f.ControlIDs) != 2 {
		t.Errorf("expected both SC-28 and SC-13 on the finding, got %v", f.ControlIDs)
	}
	if !f.AutoRemediable {
		t.Errorf("expected the encryption finding to be auto-remediable")
	}
}

func TestRuleScannerControlWithoutRules(t *testing.T) {
	inv := &fakeInventory{resources: []inventory.Resource{
		resource("storage_account", map[string]interface{}{"encryption_enabled": false}),
	}}
	scanner := NewRuleScanner(inventory.NewCache(inv, time.Hour), nil)

	findings, err := scanner.Scan(context.Background(), models.Scope{SubscriptionID: "sub-1"}, Control{ID: "PE-3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("expected no findings for a control no rule covers, got %d", len(findings))
	}
}

func TestBuiltinFamilies(t *testing.T) {
	cat := NewBuiltin()
	families := cat.Families()
	if len(families) != 9 {
		t.Fatalf("expected 9 control families, got %d", len(families))
	}

	known := make(map[string]bool)
	for _, f := range families {
		ctrls, err := cat.Controls(context.Background(), f.Code)
		if err != nil {
			t.Fatalf("controls for %s: %v", f.Code, err)
		}
		if len(ctrls) == 0 {
			t.Errorf("family %s has no controls", f.Code)
		}
		for _, c := range ctrls {
			if c.FamilyCode != f.Code {
				t.Errorf("control %s carries family %s, expected %s", c.ID, c.FamilyCode, f.Code)
			}
			known[c.ID] = true
		}
	}

	if _, err := cat.Controls(context.Background(), "ZZ"); err == nil {
		t.Errorf("expected an error for an unknown family")
	}

	// Every rule must reference controls the catalog actually defines.
	for _, rule := range DefaultRules() {
		for _, id := range rule.ControlIDs {
			if !known[id] {
				t.Errorf("rule %s references unknown control %s", rule.ID, id)
			}
		}
	}
}

func TestFamilyName(t *testing.T) {
	if got := FamilyName("AC"); got == "" || got == "AC" {
		t.Errorf("expected a descriptive name for AC, got %q", got)
	}
	if got := FamilyName("ZZ"); got != "ZZ" {
		t.Errorf("expected unknown codes to pass through, got %q", got)
	}
}
