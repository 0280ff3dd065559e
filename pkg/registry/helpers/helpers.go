// Package helpers provides utility functions shared by the registry packages.
// It includes image reference splitting, registry URL normalization and digest normalization.
package helpers

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/distribution/reference"
)

// Domains for Docker Hub, the default registry.
const (
	DefaultRegistryDomain = "docker.io"
	DefaultRegistryHost   = "index.docker.io"
	DefaultRegistryURL    = "https://" + DefaultRegistryHost
)

// DefaultTag is used when an image reference carries neither a tag nor a digest.
const DefaultTag = "latest"

var errFailedParseImage = errors.New("failed to parse image reference")

// GetRegistryAddress extracts the registry address from an image reference.
// It returns the domain part of the reference, mapping Docker Hub’s default domain
// to its canonical host address if applicable.
func GetRegistryAddress(imageRef string) (string, error) {
	normalizedRef, err := reference.ParseNormalizedNamed(imageRef)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errFailedParseImage, err)
	}

	address := reference.Domain(normalizedRef)
	if address == DefaultRegistryDomain {
		address = DefaultRegistryHost
	}

	return address, nil
}

// SplitImageReference splits an image reference such as "ghcr.io/foo/bar:1.2" or
// "nginx@sha256:..." into the lookup name and the tag or digest to resolve.
//
// The lookup name keeps the registry host exactly as written so the repository
// locator can apply its own rules. References without a tag or digest resolve "latest".
func SplitImageReference(image string) (string, string, error) {
	ref, err := reference.Parse(image)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", errFailedParseImage, err)
	}

	named, ok := ref.(reference.Named)
	if !ok {
		return "", "", fmt.Errorf("%w: %q has no repository name", errFailedParseImage, image)
	}

	if digested, ok := ref.(reference.Digested); ok {
		return named.Name(), digested.Digest().String(), nil
	}

	if tagged, ok := ref.(reference.Tagged); ok {
		return named.Name(), tagged.Tag(), nil
	}

	return named.Name(), DefaultTag, nil
}

// HasScheme reports whether a registry URL starts with http:// or https://.
func HasScheme(registry string) bool {
	return strings.HasPrefix(registry, "http://") || strings.HasPrefix(registry, "https://")
}

// EnsureScheme prefixes a registry URL with https:// when it has no scheme.
func EnsureScheme(registry string) string {
	if HasScheme(registry) {
		return registry
	}

	return "https://" + registry
}

// TrimScheme removes a leading http:// or https:// from a registry URL.
func TrimScheme(registry string) string {
	registry = strings.TrimPrefix(registry, "https://")

	return strings.TrimPrefix(registry, "http://")
}

// RegistryHost returns the host (with port) of a registry URL, with or without scheme.
func RegistryHost(registry string) string {
	parsed, err := url.Parse(EnsureScheme(registry))
	if err != nil || parsed.Host == "" {
		host, _, _ := strings.Cut(TrimScheme(registry), "/")

		return host
	}

	return parsed.Host
}

// IsDockerHub reports whether a registry URL points at the default public registry.
func IsDockerHub(registry string) bool {
	host := RegistryHost(registry)

	return host == DefaultRegistryDomain || strings.HasSuffix(host, "."+DefaultRegistryDomain)
}

// NormalizeDigest standardizes a digest string for consistent comparison.
// It trims common prefixes (e.g., "sha256:") to return the raw digest value,
// ensuring compatibility across different registry formats.
func NormalizeDigest(digest string) string {
	prefixes := []string{"sha256:"}
	for _, prefix := range prefixes {
		if strings.HasPrefix(digest, prefix) {
			return strings.TrimPrefix(digest, prefix)
		}
	}

	return digest
}
