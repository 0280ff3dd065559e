// Package registry is a client for the Docker Registry V2 HTTP API.
//
// Key components:
//   - locator: Splits a lookup name into registry URL and repository.
//   - auth: Checks /v2/ and resolves Basic, bearer or ECR authentication headers.
//   - manifest: Fetches manifests and resolves config digests through manifest lists.
//   - digest: Extracts and compares manifest digests.
//   - labels: Reads image config labels behind a cache.
//   - tags: Lists repository tags.
//   - errclass: Classifies call failures as ignorable, transient or host-fatal.
//   - transport: The default HTTP client with TLS, retries and host filtering.
//
// Usage example:
//
//	creds := hostrules.New(hostrules.WithDockerConfig(""))
//	client := registry.New(transport.New(transport.WithHostFilter(creds)), creds,
//	    registry.WithCache(cache.NewMemory()))
//	repo := client.Resolve("ghcr.io/org/app", helpers.DefaultRegistryURL)
//	labels, err := client.GetLabels(ctx, repo.Registry, repo.Repository, "latest")
//
// Failures that only affect one artifact yield empty results. Failures of the
// registry host itself are returned as *errclass.ExternalHostError.
package registry
