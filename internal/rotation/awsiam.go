package rotation

import (
	"context"
	"fmt"
	"sort"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	soerrors "github.com/secretops/secretops/internal/errors"
	"github.com/secretops/secretops/internal/logging"
	"github.com/secretops/secretops/internal/store"
)

// AWS IAM rotation parameters.
const (
	iamParamUserName        = "user_name"
	iamParamRegion          = "region"
	iamParamAccessKeyID     = "admin_access_key_id"
	iamParamSecretAccessKey = "admin_secret_access_key"
)

// IAMAPI defines the IAM operations the rotator needs. This allows
// for mocking in tests.
type IAMAPI interface {
	ListAccessKeys(ctx context.Context, params *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error)
	CreateAccessKey(ctx context.Context, params *iam.CreateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.CreateAccessKeyOutput, error)
	DeleteAccessKey(ctx context.Context, params *iam.DeleteAccessKeyInput, optFns ...func(*iam.Options)) (*iam.DeleteAccessKeyOutput, error)
}

// AWSIAMRotator cycles an IAM user's access keys. IAM allows at most
// two keys per user, so when both slots are taken the oldest key is
// deleted before the new one is created.
type AWSIAMRotator struct {
	logger *logging.Logger

	// client overrides per-rotation client construction when set,
	// for testing.
	client IAMAPI
}

// IAMOption is a functional option for the rotator.
type IAMOption func(*AWSIAMRotator)

// WithIAMClient sets a custom IAM client (for testing).
func WithIAMClient(client IAMAPI) IAMOption {
	return func(r *AWSIAMRotator) {
		r.client = client
	}
}

// NewAWSIAMRotator creates the rotator.
func NewAWSIAMRotator(logger *logging.Logger, opts ...IAMOption) *AWSIAMRotator {
	r := &AWSIAMRotator{logger: logger.Named("aws-iam")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *AWSIAMRotator) Strategy() string {
	return "aws-iam-user"
}

func (r *AWSIAMRotator) clientFor(ctx context.Context, rec *store.RotationRecord) (IAMAPI, error) {
	if r.client != nil {
		return r.client, nil
	}

	region := rec.Parameters[iamParamRegion]
	if region == "" {
		region = "us-east-1"
	}
	configOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if ak, sk := rec.Parameters[iamParamAccessKeyID], rec.Parameters[iamParamSecretAccessKey]; ak != "" && sk != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return iam.NewFromConfig(cfg), nil
}

func (r *AWSIAMRotator) Rotate(ctx context.Context, rec *store.RotationRecord) (Credentials, error) {
	userName := rec.Parameters[iamParamUserName]
	if userName == "" {
		return nil, soerrors.Unrecoverable(fmt.Errorf("iam rotation %s is missing user_name", rec.ID))
	}

	client, err := r.clientFor(ctx, rec)
	if err != nil {
		return nil, err
	}

	existing, err := client.ListAccessKeys(ctx, &iam.ListAccessKeysInput{UserName: &userName})
	if err != nil {
		return nil, fmt.Errorf("failed to list access keys for %s: %w", userName, err)
	}

	// Free a slot before creating: delete the oldest key when the
	// two-key quota is already used.
	if len(existing.AccessKeyMetadata) >= 2 {
		keys := existing.AccessKeyMetadata
		sort.Slice(keys, func(i, j int) bool {
			return keys[i].CreateDate.Before(*keys[j].CreateDate)
		})
		oldest := keys[0].AccessKeyId
		if _, err := client.DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{
			UserName:    &userName,
			AccessKeyId: oldest,
		}); err != nil {
			return nil, fmt.Errorf("failed to delete old access key for %s: %w", userName, err)
		}
		r.logger.Debug("deleted oldest access key %s for user %s", *oldest, userName)
	}

	created, err := client.CreateAccessKey(ctx, &iam.CreateAccessKeyInput{UserName: &userName})
	if err != nil {
		return nil, fmt.Errorf("failed to create access key for %s: %w", userName, err)
	}

	r.logger.Info("rotated access key for IAM user %s (rotation %s)", userName, rec.ID)
	return Credentials{
		"access_key_id":     *created.AccessKey.AccessKeyId,
		"secret_access_key": *created.AccessKey.SecretAccessKey,
	}, nil
}
