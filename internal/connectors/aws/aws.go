package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/nelssec/atoguard/internal/inventory"
)

// Connector enumerates AWS resources for assessment. The account ID plays
// the role of the subscription; AWS has no resource-group construct, so
// group listings are empty and group-scoped listings fall back to the
// whole account.
type Connector struct {
	cfg       aws.Config
	accountID string
	region    string

	s3Client  *s3.Client
	iamClient *iam.Client
	kmsClient *kms.Client
}

type Config struct {
	Region        string
	AssumeRoleARN string
	ExternalID    string
}

func New(ctx context.Context, cfg Config) (*Connector, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if cfg.AssumeRoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}

	stsClient := sts.NewFromConfig(awsCfg)
	identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("getting caller identity: %w", err)
	}

	return &Connector{
		cfg:       awsCfg,
		accountID: aws.ToString(identity.Account),
		region:    cfg.Region,
		s3Client:  s3.NewFromConfig(awsCfg),
		iamClient: iam.NewFromConfig(awsCfg),
		kmsClient: kms.NewFromConfig(awsCfg),
	}, nil
}

func (c *Connector) AccountID() string {
	return c.accountID
}

// AWSConfig exposes the resolved SDK config so the remediator can share
// credentials with the inventory side.
func (c *Connector) AWSConfig() aws.Config {
	return c.cfg
}

func (c *Connector) Validate(ctx context.Context) error {
	_, err := c.s3Client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return fmt.Errorf("validating S3 access: %w", err)
	}
	return nil
}

func (c *Connector) ListResources(ctx context.Context, subscriptionID string) ([]inventory.Resource, error) {
	var resources []inventory.Resource

	buckets, err := c.listBuckets(ctx)
	if err != nil {
		return nil, err
	}
	resources = append(resources, buckets...)

	users, err := c.listUsers(ctx)
	if err != nil {
		return nil, err
	}
	resources = append(resources, users...)

	keys, err := c.listKeys(ctx)
	if err != nil {
		return nil, err
	}
	resources = append(resources, keys...)

	return resources, nil
}

func (c *Connector) ListResourceGroups(ctx context.Context, subscriptionID string) ([]inventory.ResourceGroup, error) {
	return nil, nil
}

func (c *Connector) ListResourcesInGroup(ctx context.Context, subscriptionID, resourceGroup string) ([]inventory.Resource, error) {
	return c.ListResources(ctx, subscriptionID)
}

func (c *Connector) listBuckets(ctx context.Context) ([]inventory.Resource, error) {
	output, err := c.s3Client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("listing buckets: %w", err)
	}

	resources := make([]inventory.Resource, 0, len(output.Buckets))
	for _, b := range output.Buckets {
		name := aws.ToString(b.Name)
		resources = append(resources, inventory.Resource{
			ID:         fmt.Sprintf("arn:aws:s3:::%s", name),
			Type:       "s3_bucket",
			Name:       name,
			Location:   c.region,
			Properties: c.bucketProperties(ctx, name),
		})
	}

	return resources, nil
}

// bucketProperties probes the per-bucket settings the rule evaluators
// check. Probe failures leave the property unset so the rule defaults
// apply rather than producing false findings.
func (c *Connector) bucketProperties(ctx context.Context, bucket string) map[string]interface{} {
	props := make(map[string]interface{})

	enc, err := c.s3Client.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		props["encryption_enabled"] = enc.ServerSideEncryptionConfiguration != nil &&
			len(enc.ServerSideEncryptionConfiguration.Rules) > 0
	}

	ver, err := c.s3Client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		props["versioning_enabled"] = ver.Status == "Enabled"
	}

	logging, err := c.s3Client.GetBucketLogging(ctx, &s3.GetBucketLoggingInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		props["logging_enabled"] = logging.LoggingEnabled != nil
	}

	pab, err := c.s3Client.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{
		Bucket: aws.String(bucket),
	})
	if err == nil && pab.PublicAccessBlockConfiguration != nil {
		blocked := aws.ToBool(pab.PublicAccessBlockConfiguration.BlockPublicAcls) &&
			aws.ToBool(pab.PublicAccessBlockConfiguration.BlockPublicPolicy)
		props["public_access"] = !blocked
	}

	return props
}

func (c *Connector) listUsers(ctx context.Context) ([]inventory.Resource, error) {
	var resources []inventory.Resource

	paginator := iam.NewListUsersPaginator(c.iamClient, &iam.ListUsersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing IAM users: %w", err)
		}

		for _, user := range page.Users {
			userName := aws.ToString(user.UserName)

			mfaEnabled := false
			mfa, err := c.iamClient.ListMFADevices(ctx, &iam.ListMFADevicesInput{
				UserName: aws.String(userName),
			})
			if err == nil {
				mfaEnabled = len(mfa.MFADevices) > 0
			}

			resources = append(resources, inventory.Resource{
				ID:   aws.ToString(user.Arn),
				Type: "iam_user",
				Name: userName,
				Properties: map[string]interface{}{
					"mfa_enabled": mfaEnabled,
				},
			})
		}
	}

	return resources, nil
}

func (c *Connector) listKeys(ctx context.Context) ([]inventory.Resource, error) {
	var resources []inventory.Resource

	paginator := kms.NewListKeysPaginator(c.kmsClient, &kms.ListKeysInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing KMS keys: %w", err)
		}

		for _, key := range page.Keys {
			keyID := aws.ToString(key.KeyId)

			desc, err := c.kmsClient.DescribeKey(ctx, &kms.DescribeKeyInput{
				KeyId: aws.String(keyID),
			})
			if err != nil || desc.KeyMetadata == nil || desc.KeyMetadata.KeyManager != "CUSTOMER" {
				continue
			}

			rotationEnabled := false
			rotation, err := c.kmsClient.GetKeyRotationStatus(ctx, &kms.GetKeyRotationStatusInput{
				KeyId: aws.String(keyID),
			})
			if err == nil {
				rotationEnabled = rotation.KeyRotationEnabled
			}

			resources = append(resources, inventory.Resource{
				ID:       aws.ToString(key.KeyArn),
				Type:     "kms_key",
				Name:     keyID,
				Location: c.region,
				Properties: map[string]interface{}{
					"rotation_enabled": rotationEnabled,
				},
			})
		}
	}

	return resources, nil
}
