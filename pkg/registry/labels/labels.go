// Package labels retrieves the labels of an image configuration blob and
// caches them per registry, repository and tag.
package labels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	dockerspec "github.com/moby/docker-image-spec/specs-go/v1"

	"github.com/nicholas-fedor/regscout/pkg/metrics"
	"github.com/nicholas-fedor/regscout/pkg/registry/errclass"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

const (
	// CacheNamespace is the cache namespace holding label lookups.
	CacheNamespace = "datasource-docker-labels"
	// CacheTTLMinutes is how long a label lookup stays cached.
	CacheTTLMinutes = 60
)

var errParseConfig = errors.New("failed to parse image config")

// HeaderSource provides authentication headers for a registry call.
type HeaderSource interface {
	GetAuthHeaders(ctx context.Context, registry, repository string) (types.AuthHeaders, error)
}

// ConfigDigestResolver resolves the image configuration digest for a tag.
type ConfigDigestResolver interface {
	GetConfigDigest(ctx context.Context, registry, repository, tag string) (string, error)
}

// Service looks up image labels, serving repeated lookups from a cache.
type Service struct {
	client    types.HTTPClient
	auth      HeaderSource
	manifests ConfigDigestResolver
	cache     types.Cache
	metrics   *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records cache hits and misses.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a Service. A nil cache disables caching.
func NewService(
	client types.HTTPClient,
	auth HeaderSource,
	manifests ConfigDigestResolver,
	cache types.Cache,
	opts ...Option,
) *Service {
	s := &Service{
		client:    client,
		auth:      auth,
		manifests: manifests,
		cache:     cache,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CacheKey returns the cache key of a label lookup.
func CacheKey(registry, repository, tag string) string {
	return strings.Join([]string{registry, repository, tag}, ":")
}

// GetLabels returns the labels of the image tagged tag.
//
// A cached result, including an empty one, is returned without contacting the
// registry. Lookups that fail before the blob is fetched return an empty map
// and are not cached. The only error returned is an *errclass.ExternalHostError.
func (s *Service) GetLabels(ctx context.Context, registry, repository, tag string) (types.Labels, error) {
	fields := logrus.Fields{
		"registry":   registry,
		"repository": repository,
		"tag":        tag,
	}

	cacheKey := CacheKey(registry, repository, tag)

	if cached, ok := s.cached(cacheKey); ok {
		logrus.WithFields(fields).Debug("Returning cached labels")
		s.metrics.ObserveLabelCache(metrics.CacheHit)

		return cached, nil
	}

	s.metrics.ObserveLabelCache(metrics.CacheMiss)

	configDigest, err := s.manifests.GetConfigDigest(ctx, registry, repository, tag)
	if err != nil {
		return nil, err
	}

	if configDigest == "" {
		logrus.WithFields(fields).Debug("No config digest, skipping labels")

		return types.Labels{}, nil
	}

	headers, err := s.auth.GetAuthHeaders(ctx, registry, repository)
	if err != nil {
		return nil, err
	}

	if headers == nil {
		logrus.WithFields(fields).Debug("No auth available for config blob")

		return types.Labels{}, nil
	}

	blobURL := strings.TrimSuffix(registry, "/") + "/v2/" + repository + "/blobs/" + configDigest
	fields["digest"] = configDigest

	res, err := s.client.Get(ctx, blobURL, types.RequestOptions{Headers: headers})
	if err != nil {
		if err := errclass.Handle(err, registry, fields); err != nil {
			return nil, err
		}

		return types.Labels{}, nil
	}

	labels, err := parseLabels(res.Body)
	if err != nil {
		logrus.WithError(err).WithFields(fields).Warn("Failed to parse image config")

		return types.Labels{}, nil
	}

	if s.cache != nil {
		s.cache.Set(CacheNamespace, cacheKey, labels, CacheTTLMinutes)
	}

	logrus.WithFields(fields).WithField("count", len(labels)).Debug("Fetched image labels")

	return labels, nil
}

func (s *Service) cached(key string) (types.Labels, bool) {
	if s.cache == nil {
		return nil, false
	}

	value, ok := s.cache.Get(CacheNamespace, key)
	if !ok {
		return nil, false
	}

	labels, ok := value.(types.Labels)

	return labels, ok
}

// parseLabels reads config.Labels from an image configuration blob.
func parseLabels(body []byte) (types.Labels, error) {
	var image dockerspec.DockerOCIImage
	if err := json.Unmarshal(body, &image); err != nil {
		return nil, fmt.Errorf("%w: %w", errParseConfig, err)
	}

	labels := make(types.Labels, len(image.Config.Labels))
	for key, value := range image.Config.Labels {
		labels[key] = value
	}

	return labels, nil
}
