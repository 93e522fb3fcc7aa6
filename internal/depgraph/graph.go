package depgraph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/nelssec/atoguard/internal/models"
)

// Graph projects remediation plans into Neo4j so ordering constraints
// between findings on shared resources can be queried as paths.
type Graph struct {
	driver neo4j.DriverWithContext
}

type Config struct {
	URI      string
	Username string
	Password string
}

func New(cfg Config) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}

	g := &Graph{driver: driver}

	if err := g.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return g, nil
}

func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Graph) createIndexes(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS FOR (n:Finding) ON (n.id)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Resource) ON (n.id)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Control) ON (n.id)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Plan) ON (n.id)",
	}

	for _, idx := range indexes {
		_, err := session.Run(ctx, idx, nil)
		if err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}

	return nil
}

// UpsertFinding stores a finding with its resource and control edges.
func (g *Graph) UpsertFinding(ctx context.Context, f *models.Finding) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MERGE (f:Finding {id: $id})
		SET f.findingType = $findingType,
			f.severity = $severity,
			f.title = $title,
			f.autoRemediable = $autoRemediable
		MERGE (r:Resource {id: $resourceId})
		SET r.resourceType = $resourceType,
			r.name = $resourceName
		MERGE (f)-[:AFFECTS]->(r)
	`

	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":             f.ID.String(),
		"findingType":    f.FindingType,
		"severity":       string(f.Severity),
		"title":          f.Title,
		"autoRemediable": f.AutoRemediable,
		"resourceId":     f.Resource.ID,
		"resourceType":   f.Resource.Type,
		"resourceName":   f.Resource.Name,
	})
	if err != nil {
		return err
	}

	for _, controlID := range f.ControlIDs {
		_, err := session.Run(ctx, `
			MERGE (c:Control {id: $controlId})
			WITH c
			MATCH (f:Finding {id: $findingId})
			MERGE (f)-[:VIOLATES]->(c)
		`, map[string]interface{}{
			"controlId": controlID,
			"findingId": f.ID.String(),
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// SyncPlan projects a remediation plan: every item's finding plus the
// BLOCKED_BY edges between items touching the same resource. The findings
// slice supplies node details for the plan's finding ids.
func (g *Graph) SyncPlan(ctx context.Context, plan *models.RemediationPlan, findings []models.Finding) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx, `
		MERGE (p:Plan {id: $id})
		SET p.subscriptionId = $subscriptionId,
			p.itemCount = $itemCount,
			p.estimatedEffortMinutes = $effortMinutes
	`, map[string]interface{}{
		"id":             plan.ID.String(),
		"subscriptionId": plan.SubscriptionID,
		"itemCount":      len(plan.Items),
		"effortMinutes":  int(plan.EstimatedEffort.Minutes()),
	})
	if err != nil {
		return fmt.Errorf("upserting plan node: %w", err)
	}

	byID := make(map[uuid.UUID]*models.Finding, len(findings))
	for i := range findings {
		byID[findings[i].ID] = &findings[i]
	}

	for _, item := range plan.Items {
		if f, ok := byID[item.FindingID]; ok {
			if err := g.UpsertFinding(ctx, f); err != nil {
				return fmt.Errorf("upserting finding %s: %w", f.ID, err)
			}
		}

		_, err := session.Run(ctx, `
			MATCH (p:Plan {id: $planId})
			MATCH (f:Finding {id: $findingId})
			MERGE (p)-[r:INCLUDES]->(f)
			SET r.priority = $priority
		`, map[string]interface{}{
			"planId":    plan.ID.String(),
			"findingId": item.FindingID.String(),
			"priority":  item.Priority,
		})
		if err != nil {
			return fmt.Errorf("linking plan item: %w", err)
		}

		for _, dep := range item.DependsOn {
			_, err := session.Run(ctx, `
				MATCH (f:Finding {id: $findingId})
				MATCH (d:Finding {id: $dependsOnId})
				MERGE (f)-[:BLOCKED_BY]->(d)
			`, map[string]interface{}{
				"findingId":   item.FindingID.String(),
				"dependsOnId": dep.String(),
			})
			if err != nil {
				return fmt.Errorf("creating dependency edge: %w", err)
			}
		}
	}

	return nil
}

// Chain is one blocking chain found in the graph, longest first.
type Chain struct {
	FindingIDs []string `json:"finding_ids"`
	Length     int      `json:"length"`
}

// BlockingChains returns the longest BLOCKED_BY chains, which gate the
// plan's critical path.
func (g *Graph) BlockingChains(ctx context.Context, planID uuid.UUID, maxDepth int) ([]Chain, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MATCH (p:Plan {id: $planId})-[:INCLUDES]->(f:Finding)
		MATCH path = (f)-[:BLOCKED_BY*1..` + fmt.Sprintf("%d", maxDepth) + `]->(d:Finding)
		RETURN [n in nodes(path) | n.id] as findingIds,
			   length(path) as chainLength
		ORDER BY chainLength DESC
		LIMIT 50
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"planId": planID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	var chains []Chain
	for result.Next(ctx) {
		record := result.Record()
		findingIDs, _ := record.Get("findingIds")
		chainLength, _ := record.Get("chainLength")

		chain := Chain{Length: int(chainLength.(int64))}
		if ids, ok := findingIDs.([]interface{}); ok {
			for _, id := range ids {
				if s, ok := id.(string); ok {
					chain.FindingIDs = append(chain.FindingIDs, s)
				}
			}
		}
		chains = append(chains, chain)
	}

	return chains, nil
}

// SharedResourceFindings returns resources touched by more than one
// finding in a plan; these are the contention points for batch execution.
func (g *Graph) SharedResourceFindings(ctx context.Context, planID uuid.UUID) (map[string][]string, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	query := `
		MATCH (p:Plan {id: $planId})-[:INCLUDES]->(f:Finding)-[:AFFECTS]->(r:Resource)
		WITH r, collect(f.id) as findingIds
		WHERE size(findingIds) > 1
		RETURN r.id as resourceId, findingIds
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"planId": planID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	shared := make(map[string][]string)
	for result.Next(ctx) {
		record := result.Record()
		resourceID, _ := record.Get("resourceId")
		findingIDs, _ := record.Get("findingIds")

		var ids []string
		if raw, ok := findingIDs.([]interface{}); ok {
			for _, id := range raw {
				if s, ok := id.(string); ok {
					ids = append(ids, s)
				}
			}
		}
		shared[resourceID.(string)] = ids
	}

	return shared, nil
}

// Stats summarizes the projected graph.
type Stats struct {
	FindingsBySeverity map[string]int `json:"findings_by_severity"`
	DependencyEdges    int            `json:"dependency_edges"`
	SharedResources    int            `json:"shared_resources"`
}

func (g *Graph) GetStats(ctx context.Context) (*Stats, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	stats := &Stats{FindingsBySeverity: make(map[string]int)}

	result, err := session.Run(ctx, `
		MATCH (f:Finding)
		RETURN f.severity as severity, count(f) as count
	`, nil)
	if err == nil {
		for result.Next(ctx) {
			rec := result.Record()
			severity, _ := rec.Get("severity")
			count, _ := rec.Get("count")
			stats.FindingsBySeverity[severity.(string)] = int(count.(int64))
		}
	}

	result, err = session.Run(ctx, `
		MATCH ()-[r:BLOCKED_BY]->()
		RETURN count(r) as count
	`, nil)
	if err == nil && result.Next(ctx) {
		count, _ := result.Record().Get("count")
		stats.DependencyEdges = int(count.(int64))
	}

	result, err = session.Run(ctx, `
		MATCH (f:Finding)-[:AFFECTS]->(r:Resource)
		WITH r, count(f) as findings
		WHERE findings > 1
		RETURN count(r) as count
	`, nil)
	if err == nil && result.Next(ctx) {
		count, _ := result.Record().Get("count")
		stats.SharedResources = int(count.(int64))
	}

	return stats, nil
}
