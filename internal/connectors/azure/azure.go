package azure

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"

	"github.com/nelssec/atoguard/internal/inventory"
)

// Connector enumerates Azure resources for assessment. It satisfies
// inventory.Inventory; policy state queries live in policy.go.
type Connector struct {
	credential     *azidentity.ClientSecretCredential
	subscriptionID string

	resourceClient *armresources.Client
	groupsClient   *armresources.ResourceGroupsClient
	storageClient  *armstorage.AccountsClient
	authClient     *armauthorization.RoleAssignmentsClient
}

type Config struct {
	TenantID       string
	ClientID       string
	ClientSecret   string
	SubscriptionID string
}

func New(ctx context.Context, cfg Config) (*Connector, error) {
	credential, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("creating credential: %w", err)
	}

	resourceClient, err := armresources.NewClient(cfg.SubscriptionID, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("creating resource client: %w", err)
	}

	groupsClient, err := armresources.NewResourceGroupsClient(cfg.SubscriptionID, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("creating resource groups client: %w", err)
	}

	storageClient, err := armstorage.NewAccountsClient(cfg.SubscriptionID, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	authClient, err := armauthorization.NewRoleAssignmentsClient(cfg.SubscriptionID, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("creating auth client: %w", err)
	}

	return &Connector{
		credential:     credential,
		subscriptionID: cfg.SubscriptionID,
		resourceClient: resourceClient,
		groupsClient:   groupsClient,
		storageClient:  storageClient,
		authClient:     authClient,
	}, nil
}

func (c *Connector) SubscriptionID() string {
	return c.subscriptionID
}

func (c *Connector) Validate(ctx context.Context) error {
	pager := c.groupsClient.NewListPager(nil)
	_, err := pager.NextPage(ctx)
	if err != nil {
		return fmt.Errorf("validating subscription access: %w", err)
	}
	return nil
}

func (c *Connector) ListResources(ctx context.Context, subscriptionID string) ([]inventory.Resource, error) {
	storageProps, err := c.storageProperties(ctx)
	if err != nil {
		return nil, err
	}

	var resources []inventory.Resource

	pager := c.resourceClient.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing resources: %w", err)
		}

		for _, res := range page.Value {
			resources = append(resources, c.toResource(res, storageProps))
		}
	}

	roleResources, err := c.listRoleAssignments(ctx)
	if err != nil {
		return nil, err
	}
	resources = append(resources, roleResources...)

	return resources, nil
}

func (c *Connector) ListResourceGroups(ctx context.Context, subscriptionID string) ([]inventory.ResourceGroup, error) {
	var groups []inventory.ResourceGroup

	pager := c.groupsClient.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing resource groups: %w", err)
		}

		for _, g := range page.Value {
			groups = append(groups, inventory.ResourceGroup{
				Name:     ptrToString(g.Name),
				Location: ptrToString(g.Location),
			})
		}
	}

	return groups, nil
}

func (c *Connector) ListResourcesInGroup(ctx context.Context, subscriptionID, resourceGroup string) ([]inventory.Resource, error) {
	storageProps, err := c.storageProperties(ctx)
	if err != nil {
		return nil, err
	}

	var resources []inventory.Resource

	pager := c.resourceClient.NewListByResourceGroupPager(resourceGroup, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing resources in group %s: %w", resourceGroup, err)
		}

		for _, res := range page.Value {
			resources = append(resources, c.toResource(res, storageProps))
		}
	}

	return resources, nil
}

func (c *Connector) toResource(res *armresources.GenericResourceExpanded, storageProps map[string]map[string]interface{}) inventory.Resource {
	name := ptrToString(res.Name)
	r := inventory.Resource{
		ID:       ptrToString(res.ID),
		Type:     normalizeType(ptrToString(res.Type)),
		Name:     name,
		Location: ptrToString(res.Location),
		Group:    extractResourceGroup(ptrToString(res.ID)),
	}
	if props, ok := storageProps[name]; ok {
		r.Properties = props
	}
	return r
}

// storageProperties loads the security-relevant account settings the rule
// evaluators check, keyed by account name.
func (c *Connector) storageProperties(ctx context.Context) (map[string]map[string]interface{}, error) {
	props := make(map[string]map[string]interface{})

	pager := c.storageClient.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing storage accounts: %w", err)
		}

		for _, account := range page.Value {
			if account.Name == nil || account.Properties == nil {
				continue
			}

			p := map[string]interface{}{
				"encryption_enabled": account.Properties.Encryption != nil,
			}
			if account.Properties.AllowBlobPublicAccess != nil {
				p["public_access"] = *account.Properties.AllowBlobPublicAccess
			}
			if account.Properties.MinimumTLSVersion != nil {
				p["min_tls_version"] = string(*account.Properties.MinimumTLSVersion)
			}
			if account.Properties.EnableHTTPSTrafficOnly != nil {
				p["https_only"] = *account.Properties.EnableHTTPSTrafficOnly
			}

			props[*account.Name] = p
		}
	}

	return props, nil
}

func (c *Connector) listRoleAssignments(ctx context.Context) ([]inventory.Resource, error) {
	var resources []inventory.Resource

	pager := c.authClient.NewListForSubscriptionPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing role assignments: %w", err)
		}

		for _, assignment := range page.Value {
			if assignment.ID == nil || assignment.Properties == nil {
				continue
			}

			resources = append(resources, inventory.Resource{
				ID:   *assignment.ID,
				Type: "role_assignment",
				Name: ptrToString(assignment.Name),
				Properties: map[string]interface{}{
					"principal_id":       ptrToString(assignment.Properties.PrincipalID),
					"role_definition_id": ptrToString(assignment.Properties.RoleDefinitionID),
					// Subscription-scoped assignments are flagged for the
					// least-privilege check; resource-scoped ones are not.
					"overly_permissive": isSubscriptionScope(ptrToString(assignment.Properties.Scope)),
				},
			})
		}
	}

	return resources, nil
}

func isSubscriptionScope(scope string) bool {
	return strings.Count(scope, "/") == 2 && strings.HasPrefix(scope, "/subscriptions/")
}

var typeMap = map[string]string{
	"Microsoft.Storage/storageAccounts": "storage_account",
	"Microsoft.Sql/servers/databases":   "sql_database",
	"Microsoft.KeyVault/vaults":         "key_vault",
	"Microsoft.KeyVault/vaults/keys":    "key_vault_key",
}

func normalizeType(armType string) string {
	if t, ok := typeMap[armType]; ok {
		return t
	}
	return strings.ToLower(strings.ReplaceAll(armType, "/", "_"))
}

func extractResourceGroup(resourceID string) string {
	parts := strings.Split(resourceID, "/")
	for i, part := range parts {
		if strings.EqualFold(part, "resourceGroups") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func ptrToString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
