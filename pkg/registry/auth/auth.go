// Package auth resolves the headers needed to call a registry.
// It checks /v2/, classifies the registry's authentication scheme and performs
// Basic verification, vendor token issuance or a bearer token exchange.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/regscout/pkg/registry/ecr"
	"github.com/nicholas-fedor/regscout/pkg/registry/errclass"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

// ChallengeHeader is the HTTP Header containing challenge instructions.
const ChallengeHeader = "WWW-Authenticate"

// AuthorizationHeader is the request header carrying credentials.
const AuthorizationHeader = "Authorization"

// tokenResponse is the body returned by a bearer token realm.
// Docker Hub sets token; OAuth2-style services set access_token.
type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// Resolver obtains per-call authentication headers. It holds no mutable state
// and is safe for concurrent use.
type Resolver struct {
	client      types.HTTPClient
	credentials types.CredentialFinder
	tokens      types.TokenIssuer
}

// NewResolver creates a Resolver. tokens may be nil when vendor token issuance is not available.
func NewResolver(client types.HTTPClient, credentials types.CredentialFinder, tokens types.TokenIssuer) *Resolver {
	return &Resolver{
		client:      client,
		credentials: credentials,
		tokens:      tokens,
	}
}

// GetAuthHeaders returns the headers for the next call to registry on behalf of
// repository.
//
// It returns an empty map when the registry needs no authentication and nil when
// no usable authentication could be obtained. The only error it returns is an
// *errclass.ExternalHostError. Headers are scoped to repository and short-lived;
// callers must not reuse them beyond the current lookup.
func (r *Resolver) GetAuthHeaders(ctx context.Context, registry, repository string) (types.AuthHeaders, error) {
	fields := logrus.Fields{
		"registry":   registry,
		"repository": repository,
	}

	headers, err := r.getAuthHeaders(ctx, registry, repository, fields)
	if err != nil {
		return nil, errclass.Handle(err, registry, fields)
	}

	return headers, nil
}

func (r *Resolver) getAuthHeaders(
	ctx context.Context,
	registry, repository string,
	fields logrus.Fields,
) (types.AuthHeaders, error) {
	apiCheckURL := registry + "/v2/"

	check, err := r.client.Get(ctx, apiCheckURL, types.RequestOptions{IgnoreErrorStatus: true})
	if err != nil {
		return nil, err
	}

	header := check.Headers.Get(ChallengeHeader)
	if header == "" {
		logrus.WithFields(fields).Debug("Registry requires no authentication")

		return types.AuthHeaders{}, nil
	}

	challenge, err := ParseChallenge(header)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(fields).WithFields(logrus.Fields{
		"scheme":  challenge.Scheme,
		"realm":   challenge.Params["realm"],
		"service": challenge.Params["service"],
	}).Debug("Got response to challenge request")

	headers := r.credentialHeaders(ctx, registry, apiCheckURL, fields)

	if challenge.IsBasic() {
		logrus.WithFields(fields).Debug("Using Basic auth for registry")

		if _, err := r.client.Get(ctx, apiCheckURL, types.RequestOptions{Headers: headers}); err != nil {
			return nil, err
		}

		return headers, nil
	}

	authURL, err := TokenURL(challenge, repository)
	if err != nil {
		logrus.WithError(err).WithFields(fields).Debug("Cannot build token URL from challenge")

		return nil, nil
	}

	logrus.WithFields(fields).WithField("url", authURL.String()).Trace("Obtaining registry token")

	res, err := r.client.Get(ctx, authURL.String(), types.RequestOptions{Headers: headers})
	if err != nil {
		return nil, err
	}

	var body tokenResponse
	if err := json.Unmarshal(res.Body, &body); err != nil {
		logrus.WithError(err).WithFields(fields).Debug("Failed to decode token response")

		return nil, nil
	}

	token := body.Token
	if token == "" {
		token = body.AccessToken
	}

	if token == "" {
		logrus.WithFields(fields).Warn("Failed to obtain registry token")

		return nil, nil
	}

	return types.AuthHeaders{AuthorizationHeader: "Bearer " + token}, nil
}

// credentialHeaders builds the Basic authorization used for verification or
// token exchange. The credentials never leave this function.
func (r *Resolver) credentialHeaders(
	ctx context.Context,
	registry, apiCheckURL string,
	fields logrus.Fields,
) types.AuthHeaders {
	headers := types.AuthHeaders{}

	var creds types.HostCredentials
	if r.credentials != nil {
		creds = r.credentials.Find(types.HostTypeDocker, apiCheckURL)
	}

	if region, ok := ecr.RegionFromRegistry(registry); ok {
		if r.tokens == nil {
			logrus.WithFields(fields).Debug("No token issuer configured for ECR registry")

			return headers
		}

		if token, ok := r.tokens.IssueToken(ctx, region, creds); ok {
			logrus.WithFields(fields).WithField("region", region).Debug("Using ECR token")

			headers[AuthorizationHeader] = "Basic " + token
		}

		return headers
	}

	if creds.HasBasicAuth() {
		logrus.WithFields(fields).Debug("Credentials found.")

		auth := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
		headers[AuthorizationHeader] = "Basic " + auth
	} else {
		logrus.WithFields(fields).Debug("No credentials found.")
	}

	return headers
}
