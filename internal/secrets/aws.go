package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AWSConfig configures the AWS Secrets Manager provider.
type AWSConfig struct {
	Region  string
	RoleARN string // optional, assumed via STS before reading secrets
}

// AWSProvider resolves secrets:// references against AWS Secrets
// Manager.
type AWSProvider struct {
	client *secretsmanager.Client
}

// NewAWSProvider creates a provider backed by AWS Secrets Manager.
func NewAWSProvider(ctx context.Context, cfg AWSConfig) (*AWSProvider, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("secrets: aws region required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}

	if cfg.RoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN)
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}

	return &AWSProvider{client: secretsmanager.NewFromConfig(awsCfg)}, nil
}

// Name returns the provider identifier used in secrets:// references.
func (p *AWSProvider) Name() string { return "aws" }

// Get fetches the secret value at path (a Secrets Manager secret ID or
// ARN). If key is set, the secret string is parsed as JSON and that
// field is returned.
func (p *AWSProvider) Get(ctx context.Context, path, key string) (string, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(path),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %q: %w", path, err)
	}

	if out.SecretString == nil {
		return "", fmt.Errorf("secret %q has no string value", path)
	}
	raw := *out.SecretString

	if key == "" {
		return raw, nil
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", fmt.Errorf("secret %q is not a JSON object, cannot extract key %q: %w", path, key, err)
	}
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, path)
	}
	return v, nil
}
