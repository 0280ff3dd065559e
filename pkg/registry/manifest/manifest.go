// Package manifest fetches image manifests from a registry and resolves the
// image configuration digest, following manifest lists and OCI indexes to a
// single-image manifest.
package manifest

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/nicholas-fedor/regscout/pkg/registry/errclass"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

// Docker distribution media types. The OCI equivalents come from image-spec.
const (
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	MediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
)

// maxManifestDepth bounds how many manifest lists are followed before giving up.
const maxManifestDepth = 2

// supportedSchemaVersion is the only manifest schema version that carries a config descriptor.
const supportedSchemaVersion = 2

// AcceptedMediaTypes are sent in the Accept header of every manifest request.
var AcceptedMediaTypes = []string{
	MediaTypeDockerManifestList,
	MediaTypeDockerManifest,
	ocispec.MediaTypeImageIndex,
	ocispec.MediaTypeImageManifest,
}

// HeaderSource provides authentication headers for a registry call.
type HeaderSource interface {
	GetAuthHeaders(ctx context.Context, registry, repository string) (types.AuthHeaders, error)
}

// Resolver fetches manifests through an HTTP client, authenticating each call
// with headers from a HeaderSource.
type Resolver struct {
	client types.HTTPClient
	auth   HeaderSource
}

// NewResolver creates a Resolver.
func NewResolver(client types.HTTPClient, auth HeaderSource) *Resolver {
	return &Resolver{client: client, auth: auth}
}

// BuildManifestURL returns the manifest endpoint for reference (a tag or a digest).
func BuildManifestURL(registry, repository, reference string) string {
	return strings.TrimSuffix(registry, "/") + "/v2/" + repository + "/manifests/" + reference
}

// GetManifestResponse fetches the raw manifest for reference.
//
// It returns nil without an error when no authentication could be obtained or
// the failure is not fatal for the host. Callers parse the body themselves.
func (r *Resolver) GetManifestResponse(
	ctx context.Context,
	registry, repository, reference string,
) (*types.ManifestResponse, error) {
	fields := logrus.Fields{
		"registry":   registry,
		"repository": repository,
		"reference":  reference,
	}

	headers, err := r.auth.GetAuthHeaders(ctx, registry, repository)
	if err != nil {
		return nil, err
	}

	if headers == nil {
		logrus.WithFields(fields).Debug("No auth available, skipping manifest request")

		return nil, nil
	}

	requestHeaders := make(map[string]string, len(headers)+1)
	for key, value := range headers {
		requestHeaders[key] = value
	}

	requestHeaders["Accept"] = strings.Join(AcceptedMediaTypes, ", ")

	manifestURL := BuildManifestURL(registry, repository, reference)
	logrus.WithFields(fields).WithField("url", manifestURL).Debug("Fetching manifest")

	res, err := r.client.Get(ctx, manifestURL, types.RequestOptions{Headers: requestHeaders})
	if err != nil {
		return nil, errclass.Handle(err, registry, fields)
	}

	return &types.ManifestResponse{Body: res.Body, Headers: res.Headers}, nil
}

// GetConfigDigest returns the digest of the image configuration blob for tag.
//
// Manifest lists and OCI indexes are followed through their first entry, at
// most maxManifestDepth times. An empty string means no digest could be
// resolved; only host-fatal failures are returned as errors.
func (r *Resolver) GetConfigDigest(ctx context.Context, registry, repository, tag string) (string, error) {
	fields := logrus.Fields{
		"registry":   registry,
		"repository": repository,
		"tag":        tag,
	}

	reference := tag

	for depth := 0; depth <= maxManifestDepth; depth++ {
		res, err := r.GetManifestResponse(ctx, registry, repository, reference)
		if err != nil {
			return "", err
		}

		if res == nil {
			return "", nil
		}

		var parsed Manifest
		if err := json.Unmarshal(res.Body, &parsed); err != nil {
			logrus.WithError(err).WithFields(fields).Debug("Failed to parse manifest")

			return "", nil
		}

		if parsed.SchemaVersion != supportedSchemaVersion {
			logrus.WithFields(fields).
				WithField("schema_version", parsed.SchemaVersion).
				Debug("Unsupported manifest schema version")

			return "", nil
		}

		switch {
		case parsed.IsList():
			if len(parsed.Manifests) == 0 {
				logrus.WithFields(fields).Debug("Manifest list has no entries")

				return "", nil
			}

			reference = parsed.Manifests[0].Digest.String()
			logrus.WithFields(fields).WithField("digest", reference).Debug("Following first manifest list entry")
		case parsed.IsImage():
			if parsed.Config == nil || parsed.Config.Digest == "" {
				return "", nil
			}

			return parsed.Config.Digest.String(), nil
		default:
			logrus.WithFields(fields).WithField("media_type", parsed.MediaType).Debug("Unknown manifest shape")

			return "", nil
		}
	}

	logrus.WithFields(fields).Debug("Too many nested manifest lists")

	return "", nil
}
