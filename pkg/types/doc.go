// Package types defines the data model and collaborator interfaces shared by regscout's registry packages.
//
// Key components:
//   - RegistryRepository: Canonical registry URL and repository path.
//   - HostCredentials: Read-only credentials returned by a CredentialFinder.
//   - AuthHeaders: Headers for a single authenticated registry call.
//   - ManifestResponse: Raw manifest body and headers.
//   - DigestChange: A manifest digest that moved between two checks.
//   - HTTPClient, CredentialFinder, HostFilter, TokenIssuer, Cache: Collaborators injected into the registry packages.
//   - RequestError: Error produced at the HTTP-call boundary, consumed by the error classifier.
package types
