package types

// HostCredentials holds what the credential collaborator knows about a registry host.
//
// It is a value type: callers receive a copy and must never write it back or share it.
type HostCredentials struct {
	Username         string `json:"username,omitempty"` // Registry username or access key ID.
	Password         string `json:"password,omitempty"` // Registry password, token or secret access key.
	InsecureRegistry bool   `json:"insecureRegistry,omitempty"`
}

// HasBasicAuth reports whether both a username and a password are present.
func (c HostCredentials) HasBasicAuth() bool {
	return c.Username != "" && c.Password != ""
}

// HostTypeDocker is the host type used when looking up container registry credentials.
const HostTypeDocker = "docker"

// CredentialFinder looks up long-term credentials ("host rules") for a URL.
type CredentialFinder interface {
	Find(hostType, url string) HostCredentials
}

// HostFilter reports whether requests to a URL's host have been disabled.
type HostFilter interface {
	Disabled(url string) bool
}
