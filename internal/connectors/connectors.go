package connectors

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nelssec/atoguard/internal/config"
	"github.com/nelssec/atoguard/internal/connectors/aws"
	"github.com/nelssec/atoguard/internal/connectors/azure"
	"github.com/nelssec/atoguard/internal/connectors/gcp"
	"github.com/nelssec/atoguard/internal/executor"
	"github.com/nelssec/atoguard/internal/governance"
	"github.com/nelssec/atoguard/internal/inventory"
	"github.com/nelssec/atoguard/internal/models"
)

// Set bundles the provider adapters a deployment runs with. Providers
// without native support for a concern get a safe fallback: remediation
// degrades to manual-only and policy lookups return no states.
type Set struct {
	Inventory    inventory.Inventory
	Remediator   executor.InfrastructureRemediator
	PolicySource governance.PolicySource
}

// Build selects the provider from whichever config section is populated.
// Azure wins over GCP over AWS when several are set.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Set, error) {
	switch {
	case cfg.Azure.SubscriptionID != "":
		conn, err := azure.New(ctx, azure.Config{
			TenantID:       cfg.Azure.TenantID,
			ClientID:       cfg.Azure.ClientID,
			ClientSecret:   cfg.Azure.ClientSecret,
			SubscriptionID: cfg.Azure.SubscriptionID,
		})
		if err != nil {
			return nil, fmt.Errorf("building azure connector: %w", err)
		}
		policySource, err := conn.NewPolicySource()
		if err != nil {
			return nil, fmt.Errorf("building azure policy source: %w", err)
		}
		return &Set{
			Inventory:    conn,
			Remediator:   ManualOnlyRemediator{},
			PolicySource: policySource,
		}, nil

	case cfg.GCP.ProjectID != "":
		conn, err := gcp.New(ctx, gcp.Config{
			ProjectID:       cfg.GCP.ProjectID,
			CredentialsFile: cfg.GCP.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("building gcp connector: %w", err)
		}
		return &Set{
			Inventory:    conn,
			Remediator:   ManualOnlyRemediator{},
			PolicySource: NoPolicySource{},
		}, nil

	default:
		conn, err := aws.New(ctx, aws.Config{
			Region:        cfg.AWS.Region,
			AssumeRoleARN: cfg.AWS.AssumeRoleARN,
			ExternalID:    cfg.AWS.ExternalID,
		})
		if err != nil {
			return nil, fmt.Errorf("building aws connector: %w", err)
		}
		return &Set{
			Inventory:    conn,
			Remediator:   aws.NewRemediator(conn.AWSConfig(), logger),
			PolicySource: NoPolicySource{},
		}, nil
	}
}

// ManualOnlyRemediator declines every finding, forcing the manual
// remediation path.
type ManualOnlyRemediator struct{}

func (ManualOnlyRemediator) CanAutoRemediate(models.Finding) bool {
	return false
}

func (ManualOnlyRemediator) GeneratePlan(ctx context.Context, f models.Finding) (*executor.Plan, error) {
	return nil, fmt.Errorf("automated remediation not supported for finding %s", f.ID)
}

func (ManualOnlyRemediator) Execute(ctx context.Context, plan *executor.Plan, dryRun bool) (*executor.ExecuteOutcome, error) {
	return nil, fmt.Errorf("automated remediation not supported")
}

// NoPolicySource reports no policy states, so governance falls back to
// its action heuristics.
type NoPolicySource struct{}

func (NoPolicySource) PolicyStates(ctx context.Context, resourceID string) ([]models.PolicyState, error) {
	return nil, nil
}
