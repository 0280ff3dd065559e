package types

import (
	"context"
	"net/http"
)

// RegistryRepository is a canonical registry/repository pair.
//
// Registry always carries an explicit http:// or https:// scheme and Repository
// never includes the registry host.
type RegistryRepository struct {
	Registry   string `json:"registry"`
	Repository string `json:"repository"`
}

// AuthHeaders maps header names to values for an authenticated registry call.
//
// A nil map means no usable authentication could be obtained, while an empty
// non-nil map means the registry does not require authentication.
type AuthHeaders map[string]string

// ManifestResponse is the raw result of a manifest fetch.
type ManifestResponse struct {
	Body    []byte
	Headers http.Header
}

// Labels are the image configuration labels of an image.
type Labels map[string]string

// TokenIssuer obtains a registry token from a cloud vendor's token service.
//
// Failures are swallowed by implementations and reported as ok == false.
type TokenIssuer interface {
	IssueToken(ctx context.Context, region string, credentials HostCredentials) (token string, ok bool)
}

// Cache is a namespaced key/value store with per-entry expiry.
type Cache interface {
	Get(namespace, key string) (any, bool)
	Set(namespace, key string, value any, ttlMinutes int)
}

// DigestChange records an image whose manifest digest moved between two checks.
type DigestChange struct {
	Image    string `json:"image"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}
