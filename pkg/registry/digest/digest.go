// Package digest extracts content digests from registry manifest responses and
// compares them with digests known locally.
package digest

import (
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/regscout/pkg/registry/helpers"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

// ContentDigestHeader is the HTTP header key used to retrieve the digest from a registry’s response.
// This header, typically "Docker-Content-Digest", contains the digest value (e.g., "sha256:abc...") for a manifest.
const ContentDigestHeader = "Docker-Content-Digest"

// repoDigestSeparator separates the repository from the digest in a repo digest ("repo@sha256:abc").
const repoDigestSeparator = "@"

// ExtractDigestFromResponse returns the digest of a manifest response.
//
// The registry-asserted Docker-Content-Digest header is preferred. Without it,
// the digest is the SHA-256 of the body exactly as received; the body is never
// re-serialized, since the registry hashes its own canonical bytes.
//
// Parameters:
//   - res: Manifest response; nil yields an empty string.
//
// Returns:
//   - string: Digest in "sha256:<hex>" form, or the header value verbatim.
func ExtractDigestFromResponse(res *types.ManifestResponse) string {
	if res == nil {
		return ""
	}

	if headerDigest := res.Headers.Get(ContentDigestHeader); headerDigest != "" {
		logrus.WithField("digest", headerDigest).Debug("Using digest from response header")

		return headerDigest
	}

	computed := digest.FromBytes(res.Body).String()
	logrus.WithField("digest", computed).Debug("Computed digest from response body")

	return computed
}

// Validate reports whether value is a well-formed digest ("algorithm:hex").
func Validate(value string) bool {
	return digest.Digest(value).Validate() == nil
}

// DigestsMatch compares a list of local digests with a remote digest to determine if there’s a match.
//
// Local digests may be plain ("sha256:abc") or repo digests ("repo@sha256:abc").
// Both sides are normalized before comparison.
//
// Parameters:
//   - localDigests: Digests known locally.
//   - remoteDigest: The digest fetched from the registry.
//
// Returns:
//   - bool: True if any normalized local digest matches the normalized remote digest.
func DigestsMatch(localDigests []string, remoteDigest string) bool {
	normalizedRemoteDigest := helpers.NormalizeDigest(remoteDigest)
	if normalizedRemoteDigest == "" {
		return false
	}

	for _, local := range localDigests {
		if _, after, found := strings.Cut(local, repoDigestSeparator); found {
			local = after
		}

		normalizedLocalDigest := helpers.NormalizeDigest(local)
		logrus.WithFields(logrus.Fields{
			"local_digest":  normalizedLocalDigest,
			"remote_digest": normalizedRemoteDigest,
		}).Debug("Comparing digests")

		if normalizedLocalDigest == normalizedRemoteDigest {
			logrus.Debug("Found digest match")

			return true
		}
	}

	return false
}
