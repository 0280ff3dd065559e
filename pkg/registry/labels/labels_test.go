package labels_test

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nicholas-fedor/regscout/pkg/metrics"
	"github.com/nicholas-fedor/regscout/pkg/registry/errclass"
	"github.com/nicholas-fedor/regscout/pkg/registry/labels"
	"github.com/nicholas-fedor/regscout/pkg/registry/manifest"
	"github.com/nicholas-fedor/regscout/pkg/registry/transport"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

const (
	manifestPath = "/v2/team/app/manifests/latest"
	blobPath     = "/v2/team/app/blobs/sha256:abc"
	imageBody    = `{"schemaVersion":2,"mediaType":"application/vnd.docker.distribution.manifest.v2+json",` +
		`"config":{"digest":"sha256:abc","size":1}}`
	configBody = `{"architecture":"amd64","os":"linux",` +
		`"config":{"Labels":{"org.opencontainers.image.source":"https://github.com/team/app","maintainer":"team"}},` +
		`"rootfs":{"type":"layers","diff_ids":[]}}`
)

var _ = ginkgo.Describe("CacheKey", func() {
	ginkgo.It("should join registry, repository and tag", func() {
		gomega.Expect(labels.CacheKey("https://index.docker.io", "library/ubuntu", "22.04")).
			To(gomega.Equal("https://index.docker.io:library/ubuntu:22.04"))
	})
})

var _ = ginkgo.Describe("Service", func() {
	var (
		server   *ghttp.Server
		auth     *staticHeaders
		cache    *clockCache
		registry *prometheus.Registry
		service  *labels.Service
		ctx      context.Context
	)

	ginkgo.BeforeEach(func() {
		server = ghttp.NewServer()
		auth = &staticHeaders{headers: types.AuthHeaders{}}
		cache = newClockCache()
		registry = prometheus.NewRegistry()
		ctx = context.Background()

		m, err := metrics.NewWithRegistry(registry)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		client := transport.New(transport.WithRetries(0, 0))
		service = labels.NewService(client, auth, manifest.NewResolver(client, auth), cache, labels.WithMetrics(m))
	})

	ginkgo.AfterEach(func() {
		server.Close()
	})

	ginkgo.It("should return the labels of the config blob", func() {
		server.RouteToHandler(http.MethodGet, manifestPath, ghttp.RespondWith(http.StatusOK, imageBody))
		server.RouteToHandler(http.MethodGet, blobPath, ghttp.RespondWith(http.StatusOK, configBody))

		result, err := service.GetLabels(ctx, server.URL(), "team/app", "latest")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(result).To(gomega.Equal(types.Labels{
			"org.opencontainers.image.source": "https://github.com/team/app",
			"maintainer":                      "team",
		}))
		gomega.Expect(cache.sets).To(gomega.Equal(1))
	})

	ginkgo.It("should serve a cached empty result until it expires", func() {
		server.RouteToHandler(http.MethodGet, manifestPath, ghttp.RespondWith(http.StatusOK, imageBody))
		server.RouteToHandler(http.MethodGet, blobPath, ghttp.RespondWith(http.StatusOK, `{"config":{}}`))

		first, err := service.GetLabels(ctx, server.URL(), "team/app", "latest")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(first).NotTo(gomega.BeNil())
		gomega.Expect(first).To(gomega.BeEmpty())
		gomega.Expect(server.ReceivedRequests()).To(gomega.HaveLen(2))

		cache.advance(59 * time.Minute)

		second, err := service.GetLabels(ctx, server.URL(), "team/app", "latest")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(second).To(gomega.BeEmpty())
		gomega.Expect(server.ReceivedRequests()).To(gomega.HaveLen(2))

		cache.advance(2 * time.Minute)

		_, err = service.GetLabels(ctx, server.URL(), "team/app", "latest")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(server.ReceivedRequests()).To(gomega.HaveLen(4))

		expected := `
# HELP regscout_label_cache_lookups_total Number of image label cache lookups
# TYPE regscout_label_cache_lookups_total counter
regscout_label_cache_lookups_total{result="hit"} 1
regscout_label_cache_lookups_total{result="miss"} 2
`
		gomega.Expect(testutil.GatherAndCompare(registry, strings.NewReader(expected),
			"regscout_label_cache_lookups_total")).To(gomega.Succeed())
	})

	ginkgo.It("should not cache when the config digest cannot be resolved", func() {
		server.RouteToHandler(http.MethodGet, manifestPath, ghttp.RespondWith(http.StatusNotFound, ""))

		for range 2 {
			result, err := service.GetLabels(ctx, server.URL(), "team/app", "latest")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(result).To(gomega.Equal(types.Labels{}))
		}

		gomega.Expect(server.ReceivedRequests()).To(gomega.HaveLen(2))
		gomega.Expect(cache.sets).To(gomega.BeZero())
	})

	ginkgo.It("should not cache when no auth is available", func() {
		auth.headers = nil

		result, err := service.GetLabels(ctx, server.URL(), "team/app", "latest")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(result).To(gomega.Equal(types.Labels{}))
		gomega.Expect(cache.sets).To(gomega.BeZero())
	})

	ginkgo.It("should not cache an unparsable config blob", func() {
		server.RouteToHandler(http.MethodGet, manifestPath, ghttp.RespondWith(http.StatusOK, imageBody))
		server.RouteToHandler(http.MethodGet, blobPath, ghttp.RespondWith(http.StatusOK, `<html>`))

		result, err := service.GetLabels(ctx, server.URL(), "team/app", "latest")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(result).To(gomega.Equal(types.Labels{}))
		gomega.Expect(cache.sets).To(gomega.BeZero())
	})

	ginkgo.It("should return an empty result when the blob is missing", func() {
		server.RouteToHandler(http.MethodGet, manifestPath, ghttp.RespondWith(http.StatusOK, imageBody))
		server.RouteToHandler(http.MethodGet, blobPath, ghttp.RespondWith(http.StatusNotFound, ""))

		result, err := service.GetLabels(ctx, server.URL(), "team/app", "latest")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(result).To(gomega.Equal(types.Labels{}))
	})

	ginkgo.It("should raise a host error when the blob store fails", func() {
		server.RouteToHandler(http.MethodGet, manifestPath, ghttp.RespondWith(http.StatusOK, imageBody))
		server.RouteToHandler(http.MethodGet, blobPath, ghttp.RespondWith(http.StatusBadGateway, ""))

		_, err := service.GetLabels(ctx, server.URL(), "team/app", "latest")
		gomega.Expect(errclass.IsExternalHostError(err)).To(gomega.BeTrue())
		gomega.Expect(cache.sets).To(gomega.BeZero())
	})

	ginkgo.It("should work without a cache", func() {
		server.RouteToHandler(http.MethodGet, manifestPath, ghttp.RespondWith(http.StatusOK, imageBody))
		server.RouteToHandler(http.MethodGet, blobPath, ghttp.RespondWith(http.StatusOK, configBody))

		uncached := labels.NewService(transport.New(transport.WithRetries(0, 0)), auth,
			manifest.NewResolver(transport.New(), auth), nil)

		result, err := uncached.GetLabels(ctx, server.URL(), "team/app", "latest")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(result).To(gomega.HaveKeyWithValue("maintainer", "team"))
	})
})
