package catalog

import (
	"context"
	"time"

	"github.com/nelssec/atoguard/internal/inventory"
	"github.com/nelssec/atoguard/internal/models"
)

// CacheCollector is the default evidence collector. It derives evidence
// from the cached resource inventory; families with richer sources
// register their own collector instead.
type CacheCollector struct {
	cache *inventory.Cache
}

func NewCacheCollector(cache *inventory.Cache) *CacheCollector {
	return &CacheCollector{cache: cache}
}

func (c *CacheCollector) CollectConfiguration(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	resources, err := c.cache.Resources(ctx, scope.SubscriptionID)
	if err != nil {
		return nil, err
	}

	items := make([]models.EvidenceItem, 0, len(resources))
	for _, r := range resources {
		items = append(items, models.EvidenceItem{
			Type: models.EvidenceConfiguration,
			Name: r.Name,
			Data: models.JSONB{
				"resource_id": r.ID,
				"type":        r.Type,
				"location":    r.Location,
				"properties":  r.Properties,
			},
			CollectedAt: time.Now(),
		})
	}
	return items, nil
}

func (c *CacheCollector) CollectLogs(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	return c.collectByProperty(ctx, scope, models.EvidenceLogs, "logging_enabled")
}

func (c *CacheCollector) CollectMetrics(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	return c.collectByProperty(ctx, scope, models.EvidenceMetrics, "monitoring_enabled")
}

func (c *CacheCollector) CollectPolicies(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	items := []models.EvidenceItem{}
	for _, rule := range DefaultRules() {
		if familyCode != "" && !ruleTouchesFamily(rule, familyCode) {
			continue
		}
		items = append(items, models.EvidenceItem{
			Type: models.EvidencePolicies,
			Name: rule.ID,
			Data: models.JSONB{
				"controls": rule.ControlIDs,
				"severity": string(rule.Severity),
			},
			CollectedAt: time.Now(),
		})
	}
	return items, nil
}

func (c *CacheCollector) CollectAccessControl(ctx context.Context, scope models.Scope, familyCode string) ([]models.EvidenceItem, error) {
	resources, err := c.cache.Resources(ctx, scope.SubscriptionID)
	if err != nil {
		return nil, err
	}

	var items []models.EvidenceItem
	for _, r := range resources {
		if r.Type != "iam_user" && r.Type != "iam_policy" && r.Type != "role_assignment" {
			continue
		}
		items = append(items, models.EvidenceItem{
			Type: models.EvidenceAccessControl,
			Name: r.Name,
			Data: models.JSONB{
				"resource_id": r.ID,
				"type":        r.Type,
				"properties":  r.Properties,
			},
			CollectedAt: time.Now(),
		})
	}
	return items, nil
}

func (c *CacheCollector) collectByProperty(ctx context.Context, scope models.Scope, typ models.EvidenceType, property string) ([]models.EvidenceItem, error) {
	resources, err := c.cache.Resources(ctx, scope.SubscriptionID)
	if err != nil {
		return nil, err
	}

	var items []models.EvidenceItem
	for _, r := range resources {
		enabled, ok := r.Properties[property].(bool)
		if !ok {
			continue
		}
		items = append(items, models.EvidenceItem{
			Type: typ,
			Name: r.Name,
			Data: models.JSONB{
				"resource_id": r.ID,
				property:      enabled,
			},
			CollectedAt: time.Now(),
		})
	}
	return items, nil
}

func ruleTouchesFamily(rule Rule, familyCode string) bool {
	for _, id := range rule.ControlIDs {
		if len(id) >= len(familyCode) && id[:len(familyCode)] == familyCode {
			return true
		}
	}
	return false
}
