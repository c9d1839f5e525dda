package destinations

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/secretops/secretops/internal/logging"
	"github.com/secretops/secretops/pkg/destination"
)

// Credential keys understood by the AWS Secrets Manager adapter.
const (
	awsCredAccessKeyID     = "access_key_id"
	awsCredSecretAccessKey = "secret_access_key"
	awsCredRegion          = "region"
	awsCredEndpoint        = "endpoint"
)

// SecretsManagerAPI defines the interface for AWS Secrets Manager
// operations. This allows for mocking in tests.
type SecretsManagerAPI interface {
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// AWSSecretsManagerAdapter maps secret keys one-to-one onto AWS
// Secrets Manager secret names.
type AWSSecretsManagerAdapter struct {
	logger *logging.Logger

	// client overrides per-credential client construction when set,
	// for testing.
	client SecretsManagerAPI
}

// AWSOption is a functional option for the adapter.
type AWSOption func(*AWSSecretsManagerAdapter)

// WithSecretsManagerClient sets a custom client (for testing).
func WithSecretsManagerClient(client SecretsManagerAPI) AWSOption {
	return func(a *AWSSecretsManagerAdapter) {
		a.client = client
	}
}

// NewAWSSecretsManagerAdapter creates the adapter.
func NewAWSSecretsManagerAdapter(logger *logging.Logger, opts ...AWSOption) *AWSSecretsManagerAdapter {
	a := &AWSSecretsManagerAdapter{logger: logger.Named("aws-secrets-manager")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *AWSSecretsManagerAdapter) Type() string {
	return TypeAWSSecretsManager
}

// clientFor builds a Secrets Manager client from the connection's
// credential bundle.
func (a *AWSSecretsManagerAdapter) clientFor(ctx context.Context, creds destination.Credentials) (SecretsManagerAPI, error) {
	if a.client != nil {
		return a.client, nil
	}

	region := creds[awsCredRegion]
	if region == "" {
		region = "us-east-1"
	}

	configOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if ak, sk := creds[awsCredAccessKeyID], creds[awsCredSecretAccessKey]; ak != "" && sk != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*secretsmanager.Options)
	if endpoint := creds[awsCredEndpoint]; endpoint != "" {
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	return secretsmanager.NewFromConfig(cfg, clientOpts...), nil
}

// ListItems pages through all secrets and fetches each current value.
// Secrets scheduled for deletion are skipped. Names are unique in
// Secrets Manager, so the duplicates map is always empty.
func (a *AWSSecretsManagerAdapter) ListItems(ctx context.Context, creds destination.Credentials, cfg destination.Config) (destination.ListResult, error) {
	client, err := a.clientFor(ctx, creds)
	if err != nil {
		return destination.ListResult{}, err
	}

	result := destination.ListResult{
		Items:      make(map[string]destination.Item),
		Duplicates: make(map[string]string),
	}

	var nextToken *string
	for {
		page, err := client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{NextToken: nextToken})
		if err != nil {
			return destination.ListResult{}, err
		}

		for _, entry := range page.SecretList {
			if entry.DeletedDate != nil || entry.Name == nil || entry.ARN == nil {
				continue
			}
			value, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
				SecretId: entry.ARN,
			})
			if err != nil {
				var notFound *types.ResourceNotFoundException
				if errors.As(err, &notFound) {
					continue
				}
				return destination.ListResult{}, err
			}
			item := destination.Item{
				RemoteItem: destination.RemoteItem{ID: *entry.ARN, Key: *entry.Name},
			}
			if value.SecretString != nil {
				item.Value = *value.SecretString
			}
			result.Items[*entry.Name] = item
		}

		if page.NextToken == nil {
			return result, nil
		}
		nextToken = page.NextToken
	}
}

// CreateItem creates a new secret named after the key.
func (a *AWSSecretsManagerAdapter) CreateItem(ctx context.Context, creds destination.Credentials, cfg destination.Config, key, value string) (destination.RemoteItem, error) {
	client, err := a.clientFor(ctx, creds)
	if err != nil {
		return destination.RemoteItem{}, err
	}

	out, err := client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         &key,
		SecretString: &value,
	})
	if err != nil {
		return destination.RemoteItem{}, err
	}

	remote := destination.RemoteItem{Key: key}
	if out.ARN != nil {
		remote.ID = *out.ARN
	}
	return remote, nil
}

// UpdateItem writes a new secret version. Tags, resource policies,
// and rotation configuration on the secret are untouched.
func (a *AWSSecretsManagerAdapter) UpdateItem(ctx context.Context, creds destination.Credentials, cfg destination.Config, item destination.RemoteItem, value string) (destination.RemoteItem, error) {
	client, err := a.clientFor(ctx, creds)
	if err != nil {
		return destination.RemoteItem{}, err
	}

	_, err = client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     &item.ID,
		SecretString: &value,
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return destination.RemoteItem{}, destination.NotFoundError{Destination: TypeAWSSecretsManager, Key: item.Key}
		}
		return destination.RemoteItem{}, err
	}
	return item, nil
}

// DeleteItem schedules the secret for deletion with the default
// recovery window.
func (a *AWSSecretsManagerAdapter) DeleteItem(ctx context.Context, creds destination.Credentials, cfg destination.Config, remoteID string) error {
	client, err := a.clientFor(ctx, creds)
	if err != nil {
		return err
	}

	_, err = client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId: &remoteID,
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}
