package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Errors for challenge parsing.
var (
	errEmptyChallenge         = errors.New("empty challenge header")
	errInvalidChallengeHeader = errors.New("challenge header did not include all values needed to construct an auth url")
)

// Challenge is a parsed WWW-Authenticate header.
type Challenge struct {
	// Scheme is the authentication scheme as sent, e.g. "Bearer" or "Basic".
	Scheme string
	// Params holds the auth-params with lowercased keys; values keep their case.
	Params map[string]string
}

// IsBasic reports whether the challenge uses the Basic scheme.
func (c Challenge) IsBasic() bool {
	return strings.EqualFold(c.Scheme, "basic")
}

// ParseChallenge parses a WWW-Authenticate header value such as
//
//	Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:library/ubuntu:pull,push"
//
// Quoted values may contain commas and escaped quotes.
func ParseChallenge(header string) (Challenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Challenge{}, errEmptyChallenge
	}

	scheme, rest, _ := strings.Cut(header, " ")
	challenge := Challenge{Scheme: scheme, Params: map[string]string{}}

	for rest = strings.TrimSpace(rest); rest != ""; {
		var key, value string

		key, rest, _ = strings.Cut(rest, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		rest = strings.TrimLeft(rest, " ")

		if strings.HasPrefix(rest, `"`) {
			value, rest = readQuoted(rest[1:])
		} else {
			value, rest, _ = strings.Cut(rest, ",")
			value = strings.TrimSpace(value)
		}

		if key != "" {
			challenge.Params[key] = value
		}

		rest = strings.TrimLeft(rest, " ,")
	}

	return challenge, nil
}

// readQuoted reads up to the closing quote, unescaping backslash escapes, and
// returns the value and what follows the closing quote.
func readQuoted(input string) (string, string) {
	var builder strings.Builder

	for i := 0; i < len(input); i++ {
		switch input[i] {
		case '\\':
			if i+1 < len(input) {
				i++
				builder.WriteByte(input[i])
			}
		case '"':
			return builder.String(), input[i+1:]
		default:
			builder.WriteByte(input[i])
		}
	}

	return builder.String(), ""
}

// TokenURL builds the token exchange URL for pulling repository:
// {realm}?service={service}&scope=repository:{repository}:pull.
func TokenURL(challenge Challenge, repository string) (*url.URL, error) {
	realm := challenge.Params["realm"]
	if realm == "" {
		return nil, errInvalidChallengeHeader
	}

	authURL, err := url.Parse(realm)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidChallengeHeader, err)
	}

	query := authURL.Query()
	if service := challenge.Params["service"]; service != "" {
		query.Set("service", service)
	}

	query.Set("scope", fmt.Sprintf("repository:%s:pull", repository))
	authURL.RawQuery = query.Encode()

	return authURL, nil
}
