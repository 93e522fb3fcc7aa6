package aws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/nelssec/atoguard/internal/executor"
	"github.com/nelssec/atoguard/internal/models"
)

// Remediator fixes S3 and KMS findings directly. Plans are kept in memory
// between GeneratePlan and Execute, keyed by finding id, so the executor
// can stay ignorant of provider detail.
type Remediator struct {
	s3Client  *s3.Client
	kmsClient *kms.Client
	logger    *slog.Logger

	mu       sync.Mutex
	findings map[uuid.UUID]models.Finding
}

func NewRemediator(cfg aws.Config, logger *slog.Logger) *Remediator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remediator{
		s3Client:  s3.NewFromConfig(cfg),
		kmsClient: kms.NewFromConfig(cfg),
		logger:    logger,
		findings:  make(map[uuid.UUID]models.Finding),
	}
}

// remediable maps finding types to the action step the remediator can
// perform for them.
var remediable = map[string]string{
	"storage_encryption_disabled": "enable-bucket-encryption",
	"public_access_enabled":       "block-public-access",
	"versioning_disabled":         "enable-versioning",
	"logging_disabled":            "enable-logging",
	"kms_rotation_disabled":       "enable-key-rotation",
}

func (r *Remediator) CanAutoRemediate(f models.Finding) bool {
	if !f.AutoRemediable {
		return false
	}
	if f.Resource.Type != "s3_bucket" && f.Resource.Type != "kms_key" {
		return false
	}
	_, ok := remediable[f.FindingType]
	return ok
}

func (r *Remediator) GeneratePlan(ctx context.Context, f models.Finding) (*executor.Plan, error) {
	step, ok := remediable[f.FindingType]
	if !ok {
		return nil, fmt.Errorf("no remediation action for finding type %s", f.FindingType)
	}

	r.mu.Lock()
	r.findings[f.ID] = f
	r.mu.Unlock()

	return &executor.Plan{
		FindingID: f.ID,
		Steps:     []string{step},
	}, nil
}

func (r *Remediator) Execute(ctx context.Context, plan *executor.Plan, dryRun bool) (*executor.ExecuteOutcome, error) {
	r.mu.Lock()
	finding, ok := r.findings[plan.FindingID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no finding registered for plan %s", plan.FindingID)
	}

	outcome := &executor.ExecuteOutcome{Success: true}

	for _, step := range plan.Steps {
		if dryRun {
			outcome.Actions = append(outcome.Actions, executor.ActionOutcome{
				Step:    step,
				Success: true,
				Detail:  "dry run",
			})
			continue
		}

		err := r.runStep(ctx, step, finding)
		action := executor.ActionOutcome{Step: step, Success: err == nil}
		if err != nil {
			action.Detail = err.Error()
			outcome.Success = false
			outcome.Errors = append(outcome.Errors, err.Error())
		}
		outcome.Actions = append(outcome.Actions, action)
	}

	if !dryRun {
		r.logger.Info("remediation executed",
			"finding_id", plan.FindingID,
			"resource", finding.Resource.Name,
			"success", outcome.Success)
	}

	return outcome, nil
}

func (r *Remediator) runStep(ctx context.Context, step string, finding models.Finding) error {
	bucket := finding.Resource.Name

	switch step {
	case "enable-bucket-encryption":
		_, err := r.s3Client.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
			Bucket: aws.String(bucket),
			ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
				Rules: []s3types.ServerSideEncryptionRule{
					{
						ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
							SSEAlgorithm: s3types.ServerSideEncryptionAes256,
						},
						BucketKeyEnabled: aws.Bool(true),
					},
				},
			},
		})
		return err

	case "block-public-access":
		_, err := r.s3Client.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
			Bucket: aws.String(bucket),
			PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
				BlockPublicAcls:       aws.Bool(true),
				IgnorePublicAcls:      aws.Bool(true),
				BlockPublicPolicy:     aws.Bool(true),
				RestrictPublicBuckets: aws.Bool(true),
			},
		})
		return err

	case "enable-versioning":
		_, err := r.s3Client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
			Bucket: aws.String(bucket),
			VersioningConfiguration: &s3types.VersioningConfiguration{
				Status: s3types.BucketVersioningStatusEnabled,
			},
		})
		return err

	case "enable-logging":
		_, err := r.s3Client.PutBucketLogging(ctx, &s3.PutBucketLoggingInput{
			Bucket: aws.String(bucket),
			BucketLoggingStatus: &s3types.BucketLoggingStatus{
				LoggingEnabled: &s3types.LoggingEnabled{
					TargetBucket: aws.String(bucket + "-logs"),
					TargetPrefix: aws.String("access/"),
				},
			},
		})
		return err

	case "enable-key-rotation":
		_, err := r.kmsClient.EnableKeyRotation(ctx, &kms.EnableKeyRotationInput{
			KeyId: aws.String(finding.Resource.Name),
		})
		return err

	default:
		return fmt.Errorf("unknown remediation step: %s", step)
	}
}
