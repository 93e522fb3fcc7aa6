package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/policyinsights/armpolicyinsights"

	"github.com/nelssec/atoguard/internal/models"
)

// PolicyClient reads Azure Policy compliance states for resources. It is
// the policy source behind pre-flight governance evaluation.
type PolicyClient struct {
	states *armpolicyinsights.PolicyStatesClient
}

func NewPolicyClient(credential *azidentity.ClientSecretCredential) (*PolicyClient, error) {
	states, err := armpolicyinsights.NewPolicyStatesClient(credential, nil)
	if err != nil {
		return nil, fmt.Errorf("creating policy states client: %w", err)
	}
	return &PolicyClient{states: states}, nil
}

// NewPolicySource builds a policy client from the connector's credential.
func (c *Connector) NewPolicySource() (*PolicyClient, error) {
	return NewPolicyClient(c.credential)
}

func (p *PolicyClient) PolicyStates(ctx context.Context, resourceID string) ([]models.PolicyState, error) {
	var states []models.PolicyState

	pager := p.states.NewListQueryResultsForResourcePager(armpolicyinsights.PolicyStatesResourceLatest, resourceID, nil, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying policy states for %s: %w", resourceID, err)
		}

		for _, ps := range page.Value {
			state := models.PolicyState{
				PolicyID:        ptrToString(ps.PolicyDefinitionID),
				PolicyName:      ptrToString(ps.PolicyDefinitionName),
				AssignmentID:    ptrToString(ps.PolicyAssignmentID),
				ComplianceState: ptrToString(ps.ComplianceState),
				Effect:          normalizeEffect(ptrToString(ps.PolicyDefinitionAction)),
			}
			if ps.Timestamp != nil {
				state.Timestamp = *ps.Timestamp
			}
			states = append(states, state)
		}
	}

	return states, nil
}

// normalizeEffect maps the lowercase policy action reported by Policy
// Insights onto the canonical effect names.
func normalizeEffect(action string) models.PolicyEffect {
	switch action {
	case "deny":
		return models.EffectDeny
	case "deployIfNotExists", "deployifnotexists":
		return models.EffectDeployIfNotExists
	case "modify":
		return models.EffectModify
	case "auditIfNotExists", "auditifnotexists":
		return models.EffectAuditIfNotExists
	default:
		return models.EffectAudit
	}
}
