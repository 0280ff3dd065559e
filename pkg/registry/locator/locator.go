// Package locator normalizes a package lookup name and a configured registry URL
// into a canonical registry/repository pair.
package locator

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/regscout/pkg/registry/helpers"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

// officialNamespace is Docker Hub's implicit namespace for official images.
const officialNamespace = "library/"

// Locator resolves lookup names. A nil credential finder disables the insecure registry check.
type Locator struct {
	credentials types.CredentialFinder
}

// New creates a Locator that consults credentials for insecure registry settings.
func New(credentials types.CredentialFinder) *Locator {
	return &Locator{credentials: credentials}
}

// Resolve maps lookupName and registryURL to a RegistryRepository. It never fails;
// an empty repository is left for the caller to detect.
//
// Lookup names may embed their registry either as a prefix matching registryURL
// ("registry.example.com/team/app" with registryURL "https://registry.example.com")
// or as a leading host segment containing "." or ":" ("ghcr.io/foo/bar").
func (l *Locator) Resolve(lookupName, registryURL string) types.RegistryRepository {
	if result, ok := resolveEmbedded(lookupName, registryURL); ok {
		logrus.WithFields(logrus.Fields{
			"lookup_name": lookupName,
			"registry":    result.Registry,
			"repository":  result.Repository,
		}).Trace("Lookup name embeds the configured registry")

		return result
	}

	var registry string

	segments := strings.Split(lookupName, "/")
	if len(segments) > 1 && strings.ContainsAny(segments[0], ".:") {
		registry = segments[0]
		segments = segments[1:]
	}

	repository := strings.Join(segments, "/")

	if registry == "" {
		registry = strings.TrimSuffix(registryURL, "/")
	}

	if registry == helpers.DefaultRegistryDomain {
		registry = helpers.DefaultRegistryHost
	}

	registry = helpers.EnsureScheme(registry)

	if l != nil && l.credentials != nil {
		if l.credentials.Find(types.HostTypeDocker, registry).InsecureRegistry {
			registry = strings.Replace(registry, "https://", "http://", 1)
		}
	}

	if strings.HasSuffix(registry, "."+helpers.DefaultRegistryDomain) && !strings.Contains(repository, "/") {
		repository = officialNamespace + repository
	}

	logrus.WithFields(logrus.Fields{
		"lookup_name": lookupName,
		"registry":    registry,
		"repository":  repository,
	}).Trace("Resolved registry repository")

	return types.RegistryRepository{Registry: registry, Repository: repository}
}

// resolveEmbedded handles lookup names that start with the configured registry's host and path.
// The configured URL, path included, is kept as the registry.
func resolveEmbedded(lookupName, registryURL string) (types.RegistryRepository, bool) {
	if registryURL == "" || registryURL == helpers.DefaultRegistryURL {
		return types.RegistryRepository{}, false
	}

	registry := strings.TrimSuffix(registryURL, "/")
	prefix := helpers.TrimScheme(registry) + "/"

	if !strings.HasPrefix(lookupName, prefix) {
		return types.RegistryRepository{}, false
	}

	return types.RegistryRepository{
		Registry:   helpers.EnsureScheme(registry),
		Repository: strings.TrimPrefix(lookupName, prefix),
	}, true
}
