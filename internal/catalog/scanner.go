package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/inventory"
	"github.com/nelssec/atoguard/internal/models"
)

// RuleScanner is the default scanner: it evaluates the rule table
// generically against cached resources. It serves any family that has no
// specialized scanner registered.
type RuleScanner struct {
	cache *inventory.Cache
	rules []Rule
}

func NewRuleScanner(cache *inventory.Cache, rules []Rule) *RuleScanner {
	if rules == nil {
		rules = DefaultRules()
	}
	return &RuleScanner{cache: cache, rules: rules}
}

func (s *RuleScanner) Scan(ctx context.Context, scope models.Scope, control Control) ([]models.Finding, error) {
	resources, err := s.cache.Resources(ctx, scope.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return s.evaluate(resources, control), nil
}

func (s *RuleScanner) ScanResourceGroup(ctx context.Context, scope models.Scope, resourceGroup string, control Control) ([]models.Finding, error) {
	resources, err := s.cache.ResourcesInGroup(ctx, scope.SubscriptionID, resourceGroup)
	if err != nil {
		return nil, err
	}
	return s.evaluate(resources, control), nil
}

func (s *RuleScanner) evaluate(resources []inventory.Resource, control Control) []models.Finding {
	var findings []models.Finding
	for _, rule := range s.rules {
		if !ruleCoversControl(rule, control.ID) {
			continue
		}
		for _, res := range resources {
			if !rule.appliesTo(res.Type) {
				continue
			}
			if !rule.Violated(res) {
				continue
			}
			findings = append(findings, models.Finding{
				ID:          uuid.New(),
				FindingType: rule.FindingType,
				ControlIDs:  models.StringArray(rule.ControlIDs),
				Severity:    rule.Severity,
				Status:      models.StatusNonCompliant,
				Title:       rule.Title,
				Description: rule.Description,
				Resource: models.ResourceRef{
					ID:       res.ID,
					Type:     res.Type,
					Name:     res.Name,
					Location: res.Location,
				},
				RemediationActions: models.StringArray(rule.RemediationActions),
				AutoRemediable:     rule.AutoRemediable,
				DetectedAt:         time.Now(),
			})
		}
	}
	return findings
}

func ruleCoversControl(rule Rule, controlID string) bool {
	for _, id := range rule.ControlIDs {
		if id == controlID {
			return true
		}
	}
	return false
}
