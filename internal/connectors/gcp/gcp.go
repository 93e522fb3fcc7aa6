package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/iam"
	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/nelssec/atoguard/internal/inventory"
)

// Connector enumerates GCS buckets for assessment. The project ID plays
// the role of the subscription; GCP has no resource-group construct.
type Connector struct {
	client    *storage.Client
	projectID string
}

type Config struct {
	ProjectID       string
	CredentialsFile string
}

func New(ctx context.Context, cfg Config) (*Connector, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &Connector{
		client:    client,
		projectID: cfg.ProjectID,
	}, nil
}

func (c *Connector) ProjectID() string {
	return c.projectID
}

func (c *Connector) Close() error {
	return c.client.Close()
}

func (c *Connector) ListResources(ctx context.Context, subscriptionID string) ([]inventory.Resource, error) {
	var resources []inventory.Resource

	it := c.client.Buckets(ctx, c.projectID)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing buckets: %w", err)
		}

		resources = append(resources, inventory.Resource{
			ID:         fmt.Sprintf("//storage.googleapis.com/projects/%s/buckets/%s", c.projectID, attrs.Name),
			Type:       "gcs_bucket",
			Name:       attrs.Name,
			Location:   attrs.Location,
			Properties: c.bucketProperties(ctx, attrs),
		})
	}

	return resources, nil
}

func (c *Connector) ListResourceGroups(ctx context.Context, subscriptionID string) ([]inventory.ResourceGroup, error) {
	return nil, nil
}

func (c *Connector) ListResourcesInGroup(ctx context.Context, subscriptionID, resourceGroup string) ([]inventory.Resource, error) {
	return c.ListResources(ctx, subscriptionID)
}

func (c *Connector) bucketProperties(ctx context.Context, attrs *storage.BucketAttrs) map[string]interface{} {
	props := map[string]interface{}{
		// GCS encrypts at rest unconditionally.
		"encryption_enabled": true,
		"versioning_enabled": attrs.VersioningEnabled,
		"logging_enabled":    attrs.Logging != nil,
	}

	if attrs.Encryption != nil && attrs.Encryption.DefaultKMSKeyName != "" {
		props["kms_key"] = attrs.Encryption.DefaultKMSKeyName
	}

	if attrs.PublicAccessPrevention == storage.PublicAccessPreventionEnforced {
		props["public_access"] = false
	} else if public, err := c.isPublic(ctx, attrs.Name); err == nil {
		props["public_access"] = public
	}

	return props
}

// isPublic checks the bucket IAM policy for allUsers or
// allAuthenticatedUsers bindings.
func (c *Connector) isPublic(ctx context.Context, bucket string) (bool, error) {
	policy, err := c.client.Bucket(bucket).IAM().Policy(ctx)
	if err != nil {
		return false, err
	}

	for _, role := range policy.Roles() {
		for _, member := range policy.Members(role) {
			if member == iam.AllUsers || member == iam.AllAuthenticatedUsers {
				return true, nil
			}
		}
	}

	return false, nil
}
