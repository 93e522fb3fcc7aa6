package inventory

import (
	"context"
)

// Resource is one enumerated cloud resource with the raw properties the
// rule evaluators check.
type Resource struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Name       string                 `json:"name"`
	Location   string                 `json:"location"`
	Group      string                 `json:"group,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

type ResourceGroup struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Inventory enumerates resources and resource groups for a subscription.
type Inventory interface {
	ListResources(ctx context.Context, subscriptionID string) ([]Resource, error)
	ListResourceGroups(ctx context.Context, subscriptionID string) ([]ResourceGroup, error)
	ListResourcesInGroup(ctx context.Context, subscriptionID, resourceGroup string) ([]Resource, error)
}
