package registry

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/regscout/pkg/metrics"
	"github.com/nicholas-fedor/regscout/pkg/registry/auth"
	"github.com/nicholas-fedor/regscout/pkg/registry/digest"
	"github.com/nicholas-fedor/regscout/pkg/registry/errclass"
	"github.com/nicholas-fedor/regscout/pkg/registry/helpers"
	"github.com/nicholas-fedor/regscout/pkg/registry/labels"
	"github.com/nicholas-fedor/regscout/pkg/registry/locator"
	"github.com/nicholas-fedor/regscout/pkg/registry/manifest"
	"github.com/nicholas-fedor/regscout/pkg/registry/tags"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

// Lookup operations, as recorded in metrics.
const (
	OperationDigest       = "digest"
	OperationConfigDigest = "config-digest"
	OperationLabels       = "labels"
	OperationTags         = "tags"
)

// Client resolves digests, labels and tags from container registries.
// It holds no per-call state and is safe for concurrent use.
type Client struct {
	locator   *locator.Locator
	auth      *auth.Resolver
	manifests *manifest.Resolver
	labels    *labels.Service
	tags      *tags.Lister
	metrics   *metrics.Metrics
}

type options struct {
	tokens  types.TokenIssuer
	cache   types.Cache
	metrics *metrics.Metrics
}

// Option configures a Client.
type Option func(*options)

// WithTokenIssuer enables vendor token issuance for managed registries such as ECR.
func WithTokenIssuer(issuer types.TokenIssuer) Option {
	return func(o *options) {
		o.tokens = issuer
	}
}

// WithCache caches label and tag lookups.
func WithCache(cache types.Cache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// WithMetrics records lookups and host failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New creates a Client calling registries through client and looking up
// credentials through credentials.
func New(client types.HTTPClient, credentials types.CredentialFinder, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	authResolver := auth.NewResolver(client, credentials, o.tokens)
	manifests := manifest.NewResolver(client, authResolver)

	return &Client{
		locator:   locator.New(credentials),
		auth:      authResolver,
		manifests: manifests,
		labels:    labels.NewService(client, authResolver, manifests, o.cache, labels.WithMetrics(o.metrics)),
		tags:      tags.NewLister(client, authResolver, o.cache),
		metrics:   o.metrics,
	}
}

// Resolve splits lookupName into the registry URL and repository path.
func (c *Client) Resolve(lookupName, registryURL string) types.RegistryRepository {
	return c.locator.Resolve(lookupName, registryURL)
}

// GetAuthHeaders returns the authentication headers for the next call to registry.
func (c *Client) GetAuthHeaders(ctx context.Context, registry, repository string) (types.AuthHeaders, error) {
	headers, err := c.auth.GetAuthHeaders(ctx, registry, repository)

	return headers, c.observe(err)
}

// GetManifestResponse fetches the raw manifest for a tag or digest.
func (c *Client) GetManifestResponse(
	ctx context.Context,
	registry, repository, reference string,
) (*types.ManifestResponse, error) {
	res, err := c.manifests.GetManifestResponse(ctx, registry, repository, reference)

	return res, c.observe(err)
}

// GetConfigDigest resolves the image configuration digest of tag.
func (c *Client) GetConfigDigest(ctx context.Context, registry, repository, tag string) (string, error) {
	c.metrics.ObserveLookup(OperationConfigDigest)

	configDigest, err := c.manifests.GetConfigDigest(ctx, registry, repository, tag)

	return configDigest, c.observe(err)
}

// GetDigest locates lookupName and returns the digest of its manifest for tag.
//
// An empty string means the manifest could not be fetched.
func (c *Client) GetDigest(ctx context.Context, lookupName, registryURL, tag string) (string, error) {
	c.metrics.ObserveLookup(OperationDigest)

	repo := c.Resolve(lookupName, registryURL)
	fields := logrus.Fields{
		"registry":   repo.Registry,
		"repository": repo.Repository,
		"tag":        tag,
	}

	res, err := c.manifests.GetManifestResponse(ctx, repo.Registry, repo.Repository, tag)
	if err != nil {
		return "", c.observe(err)
	}

	if res == nil {
		logrus.WithFields(fields).Debug("No manifest, no digest")

		return "", nil
	}

	remoteDigest := digest.ExtractDigestFromResponse(res)
	logrus.WithFields(fields).WithField("digest", remoteDigest).Debug("Resolved digest")

	return remoteDigest, nil
}

// GetLabels returns the image labels of tag.
func (c *Client) GetLabels(ctx context.Context, registry, repository, tag string) (types.Labels, error) {
	c.metrics.ObserveLookup(OperationLabels)

	result, err := c.labels.GetLabels(ctx, registry, repository, tag)

	return result, c.observe(err)
}

// ListTags returns the tags of repository.
func (c *Client) ListTags(ctx context.Context, registry, repository string) ([]string, error) {
	c.metrics.ObserveLookup(OperationTags)

	result, err := c.tags.ListTags(ctx, registry, repository)

	return result, c.observe(err)
}

// observe records host-fatal failures.
func (c *Client) observe(err error) error {
	var hostErr *errclass.ExternalHostError
	if errors.As(err, &hostErr) {
		c.metrics.ObserveHostError(hostErr.Host)
	}

	return err
}

// WarnOnAPIConsumption reports whether lookups against registry count toward a
// pull rate limit (Docker Hub, GHCR), so polling callers can warn about it.
func WarnOnAPIConsumption(registry string) bool {
	host := helpers.RegistryHost(registry)

	return helpers.IsDockerHub(registry) || host == "ghcr.io"
}
