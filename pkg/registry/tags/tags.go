// Package tags lists the tags of a repository, following the registry's
// Link-header pagination.
package tags

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/regscout/pkg/registry/errclass"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

const (
	// CacheNamespace is the cache namespace holding tag listings.
	CacheNamespace = "datasource-docker-tags"
	// CacheTTLMinutes is how long a tag listing stays cached.
	CacheTTLMinutes = 15

	maxPages = 20
	pageSize = "10000"
)

// nextLinkPattern matches the target of a rel="next" Link header entry.
var nextLinkPattern = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?next"?`)

// HeaderSource provides authentication headers for a registry call.
type HeaderSource interface {
	GetAuthHeaders(ctx context.Context, registry, repository string) (types.AuthHeaders, error)
}

type tagList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// Lister lists repository tags.
type Lister struct {
	client types.HTTPClient
	auth   HeaderSource
	cache  types.Cache
}

// NewLister creates a Lister. A nil cache disables caching.
func NewLister(client types.HTTPClient, auth HeaderSource, cache types.Cache) *Lister {
	return &Lister{client: client, auth: auth, cache: cache}
}

// ListTags returns every tag of repository, in registry order.
//
// At most maxPages pages are read. A nil slice means the tags could not be
// listed; only host-fatal failures are returned as errors.
func (l *Lister) ListTags(ctx context.Context, registry, repository string) ([]string, error) {
	fields := logrus.Fields{
		"registry":   registry,
		"repository": repository,
	}

	cacheKey := registry + ":" + repository

	if l.cache != nil {
		if cached, ok := l.cache.Get(CacheNamespace, cacheKey); ok {
			if tags, ok := cached.([]string); ok {
				logrus.WithFields(fields).Debug("Returning cached tags")

				return tags, nil
			}
		}
	}

	headers, err := l.auth.GetAuthHeaders(ctx, registry, repository)
	if err != nil {
		return nil, err
	}

	if headers == nil {
		logrus.WithFields(fields).Debug("No auth available, skipping tag listing")

		return nil, nil
	}

	pageURL := strings.TrimSuffix(registry, "/") + "/v2/" + repository + "/tags/list?n=" + pageSize

	var tags []string

	for page := 0; pageURL != "" && page < maxPages; page++ {
		res, err := l.client.Get(ctx, pageURL, types.RequestOptions{Headers: headers})
		if err != nil {
			return nil, errclass.Handle(err, registry, fields)
		}

		var body tagList
		if err := json.Unmarshal(res.Body, &body); err != nil {
			logrus.WithError(err).WithFields(fields).Debug("Failed to parse tag list")

			return nil, nil
		}

		tags = append(tags, body.Tags...)
		pageURL = nextPage(pageURL, res.Headers.Get("Link"))
	}

	if pageURL != "" {
		logrus.WithFields(fields).WithField("pages", maxPages).Debug("Tag listing truncated")
	}

	if tags == nil {
		tags = []string{}
	}

	if l.cache != nil {
		l.cache.Set(CacheNamespace, cacheKey, tags, CacheTTLMinutes)
	}

	return tags, nil
}

// nextPage resolves the rel="next" target of a Link header against the current page URL.
func nextPage(current, link string) string {
	match := nextLinkPattern.FindStringSubmatch(link)
	if match == nil {
		return ""
	}

	base, err := url.Parse(current)
	if err != nil {
		return ""
	}

	next, err := base.Parse(match[1])
	if err != nil {
		return ""
	}

	return next.String()
}
