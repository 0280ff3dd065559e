// Package ecr issues registry tokens for Amazon Elastic Container Registry hosts.
//
// ECR answers the /v2/ check with a Basic challenge, but the password it expects
// is a short-lived token obtained from the ECR API rather than the user's AWS keys.
package ecr

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/regscout/pkg/types"
)

var errLoadAWSConfig = errors.New("failed to load AWS configuration")

var hostPattern = regexp.MustCompile(`\d+\.dkr\.ecr\.([-a-z0-9]+)\.amazonaws\.com`)

// RegionFromRegistry extracts the AWS region from an ECR registry URL.
func RegionFromRegistry(registry string) (string, bool) {
	match := hostPattern.FindStringSubmatch(registry)
	if match == nil {
		return "", false
	}

	return match[1], true
}

// API is the subset of the ECR client used by Issuer.
type API interface {
	GetAuthorizationToken(
		ctx context.Context,
		params *ecr.GetAuthorizationTokenInput,
		optFns ...func(*ecr.Options),
	) (*ecr.GetAuthorizationTokenOutput, error)
}

// ClientFactory builds an API client for a region and optional static credentials.
type ClientFactory func(ctx context.Context, region string, creds types.HostCredentials) (API, error)

// Issuer implements types.TokenIssuer with the ECR GetAuthorizationToken API.
type Issuer struct {
	newClient ClientFactory
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClientFactory replaces how ECR clients are constructed.
func WithClientFactory(factory ClientFactory) Option {
	return func(i *Issuer) {
		i.newClient = factory
	}
}

// NewIssuer creates an Issuer using the AWS SDK default configuration chain.
func NewIssuer(opts ...Option) *Issuer {
	issuer := &Issuer{newClient: defaultClient}
	for _, opt := range opts {
		opt(issuer)
	}

	return issuer
}

// IssueToken returns the base64 "AWS:<password>" token for region.
//
// Username and password, when both set, are used as the access key ID and
// secret access key; otherwise the SDK's default credential chain applies.
// Any failure is logged and reported as ok == false.
func (i *Issuer) IssueToken(ctx context.Context, region string, creds types.HostCredentials) (string, bool) {
	fields := logrus.Fields{"region": region}

	client, err := i.newClient(ctx, region, creds)
	if err != nil {
		logrus.WithError(err).WithFields(fields).Debug("Failed to create ECR client")

		return "", false
	}

	output, err := client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		logrus.WithError(err).WithFields(fields).Debug("ECR GetAuthorizationToken failed")

		return "", false
	}

	if output == nil || len(output.AuthorizationData) == 0 {
		logrus.WithFields(fields).Warn("Could not extract authorization token from ECR response")

		return "", false
	}

	token := aws.ToString(output.AuthorizationData[0].AuthorizationToken)
	if token == "" {
		logrus.WithFields(fields).Warn("Could not extract authorization token from ECR response")

		return "", false
	}

	return token, true
}

func defaultClient(ctx context.Context, region string, creds types.HostCredentials) (API, error) {
	loadOptions := []func(*awsConfig.LoadOptions) error{awsConfig.WithRegion(region)}

	if creds.HasBasicAuth() {
		loadOptions = append(loadOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.Username, creds.Password, ""),
		))
	}

	cfg, err := awsConfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errLoadAWSConfig, err)
	}

	return ecr.NewFromConfig(cfg), nil
}
