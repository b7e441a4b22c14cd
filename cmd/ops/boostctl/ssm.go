package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// ssmOperationTimeout bounds each Parameter Store call.
const ssmOperationTimeout = 15 * time.Second

// ssmAPI is the part of the SSM client the bootstrap uses.
type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// awsSession is the verified AWS identity a bootstrap runs as.
type awsSession struct {
	SSM       ssmAPI
	AccountID string
	CallerARN string
	Region    string
}

// openAWSSession loads the AWS configuration for profile and region and
// confirms the credentials work with STS GetCallerIdentity.
func openAWSSession(ctx context.Context, region, profile string) (*awsSession, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	identityCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(identityCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("verifying AWS identity (profile %q, region %q): %w", profile, region, err)
	}

	return &awsSession{
		SSM:       ssm.NewFromConfig(cfg),
		AccountID: aws.ToString(identity.Account),
		CallerARN: aws.ToString(identity.Arn),
		Region:    cfg.Region,
	}, nil
}

// paramStore reads and writes the service's parameters under
// /{env}/classifieds/. Values of secure parameters are never logged.
type paramStore struct {
	client ssmAPI
	env    string
	logger *slog.Logger
}

func newParamStore(client ssmAPI, env string, logger *slog.Logger) *paramStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &paramStore{client: client, env: env, logger: logger}
}

// Path returns the absolute parameter name for a category/key pair such
// as "database/url".
func (s *paramStore) Path(key string) string {
	return fmt.Sprintf("/%s/classifieds/%s", s.env, key)
}

// Exists probes path without decrypting it.
func (s *paramStore) Exists(ctx context.Context, path string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := s.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking SSM parameter %q: %w", path, err)
	}
	return true, nil
}

// Get returns the decrypted value at path.
func (s *paramStore) Get(ctx context.Context, path string) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	out, err := s.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("reading SSM parameter %q: %w", path, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("SSM parameter %q has no value", path)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// Put writes value at path as a SecureString or a String.
func (s *paramStore) Put(ctx context.Context, path, value string, secure, overwrite bool) error {
	if value == "" {
		return fmt.Errorf("SSM parameter value must not be empty for path %q", path)
	}

	paramType := ssmtypes.ParameterTypeString
	if secure {
		paramType = ssmtypes.ParameterTypeSecureString
	}

	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := s.client.PutParameter(opCtx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(value),
		Type:      paramType,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		var exists *ssmtypes.ParameterAlreadyExists
		if errors.As(err, &exists) {
			return fmt.Errorf("SSM parameter %q already exists: %w", path, err)
		}
		return fmt.Errorf("writing SSM parameter %q: %w", path, err)
	}

	s.logger.Info("SSM parameter written",
		"path", path,
		"type", string(paramType),
		"value_length", len(value),
	)
	return nil
}
