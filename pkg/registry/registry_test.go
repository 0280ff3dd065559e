package registry_test

import (
	"context"
	"net/http"
	"strings"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nicholas-fedor/regscout/pkg/cache"
	"github.com/nicholas-fedor/regscout/pkg/metrics"
	"github.com/nicholas-fedor/regscout/pkg/registry"
	"github.com/nicholas-fedor/regscout/pkg/registry/errclass"
	"github.com/nicholas-fedor/regscout/pkg/registry/transport"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

const (
	manifestDigest = "sha256:d68e1e532088964195ad3a0a71526bc2f11a78de0def85629beb75e2265f0547"
	imageManifest  = `{"schemaVersion":2,"mediaType":"application/vnd.docker.distribution.manifest.v2+json",` +
		`"config":{"digest":"sha256:abc","size":1}}`
	imageConfig = `{"config":{"Labels":{"org.opencontainers.image.version":"1.2.3"}}}`
)

var _ = ginkgo.Describe("Client", func() {
	var (
		server    *ghttp.Server
		client    *registry.Client
		promReg   *prometheus.Registry
		memory    *cache.Memory
		ctx       context.Context
		tokenAuth string
	)

	ginkgo.BeforeEach(func() {
		server = ghttp.NewServer()
		promReg = prometheus.NewRegistry()
		memory = cache.NewMemory()
		ctx = context.Background()
		tokenAuth = "Bearer scoped-token"

		m, err := metrics.NewWithRegistry(promReg)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		client = registry.New(
			transport.New(transport.WithRetries(0, 0), transport.WithMetrics(m)),
			staticCredentials{Username: "user", Password: "pass"},
			registry.WithCache(memory),
			registry.WithMetrics(m),
		)

		server.RouteToHandler(http.MethodGet, "/v2/", ghttp.RespondWith(http.StatusUnauthorized, "", http.Header{
			"WWW-Authenticate": []string{`Bearer realm="` + server.URL() + `/token",service="test"`},
		}))
		server.RouteToHandler(http.MethodGet, "/token", ghttp.CombineHandlers(
			ghttp.VerifyFormKV("scope", "repository:team/app:pull"),
			ghttp.RespondWith(http.StatusOK, `{"token":"scoped-token"}`),
		))
	})

	ginkgo.AfterEach(func() {
		memory.Close()
		server.Close()
	})

	ginkgo.It("should resolve lookup names", func() {
		repo := client.Resolve("ubuntu", "https://index.docker.io")
		gomega.Expect(repo).To(gomega.Equal(types.RegistryRepository{
			Registry:   "https://index.docker.io",
			Repository: "library/ubuntu",
		}))
	})

	ginkgo.Describe("GetDigest", func() {
		ginkgo.It("should return the registry-asserted digest", func() {
			server.RouteToHandler(http.MethodGet, "/v2/team/app/manifests/1.0", ghttp.CombineHandlers(
				ghttp.VerifyHeaderKV("Authorization", tokenAuth),
				ghttp.RespondWith(http.StatusOK, imageManifest, http.Header{
					"Docker-Content-Digest": []string{manifestDigest},
				}),
			))

			result, err := client.GetDigest(ctx, "team/app", server.URL(), "1.0")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(result).To(gomega.Equal(manifestDigest))
		})

		ginkgo.It("should hash the manifest when the header is missing", func() {
			server.RouteToHandler(http.MethodGet, "/v2/team/app/manifests/1.0",
				ghttp.RespondWith(http.StatusOK, "hello"))

			result, err := client.GetDigest(ctx, "team/app", server.URL(), "1.0")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(result).To(gomega.Equal(
				"sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"))
		})

		ginkgo.It("should return an empty digest when a third-party registry rate limits", func() {
			server.RouteToHandler(http.MethodGet, "/v2/team/app/manifests/1.0",
				ghttp.RespondWith(http.StatusTooManyRequests, ""))

			result, err := client.GetDigest(ctx, "team/app", server.URL(), "1.0")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(result).To(gomega.BeEmpty())
		})

		ginkgo.It("should count host failures", func() {
			server.RouteToHandler(http.MethodGet, "/v2/team/app/manifests/1.0",
				ghttp.RespondWith(http.StatusServiceUnavailable, ""))

			_, err := client.GetDigest(ctx, "team/app", server.URL(), "1.0")
			gomega.Expect(errclass.IsExternalHostError(err)).To(gomega.BeTrue())

			host := strings.TrimPrefix(server.URL(), "http://")
			expected := `
# HELP regscout_registry_host_errors_total Number of host-fatal registry failures
# TYPE regscout_registry_host_errors_total counter
regscout_registry_host_errors_total{host="` + host + `"} 1
`
			gomega.Expect(testutil.GatherAndCompare(promReg, strings.NewReader(expected),
				"regscout_registry_host_errors_total")).To(gomega.Succeed())
		})
	})

	ginkgo.Describe("GetConfigDigest", func() {
		ginkgo.It("should resolve the config digest", func() {
			server.RouteToHandler(http.MethodGet, "/v2/team/app/manifests/1.0",
				ghttp.RespondWith(http.StatusOK, imageManifest))

			result, err := client.GetConfigDigest(ctx, server.URL(), "team/app", "1.0")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(result).To(gomega.Equal("sha256:abc"))
		})
	})

	ginkgo.Describe("GetLabels", func() {
		ginkgo.It("should fetch labels once and then serve them from the cache", func() {
			server.RouteToHandler(http.MethodGet, "/v2/team/app/manifests/1.0",
				ghttp.RespondWith(http.StatusOK, imageManifest))
			server.RouteToHandler(http.MethodGet, "/v2/team/app/blobs/sha256:abc", ghttp.CombineHandlers(
				ghttp.VerifyHeaderKV("Authorization", tokenAuth),
				ghttp.RespondWith(http.StatusOK, imageConfig),
			))

			first, err := client.GetLabels(ctx, server.URL(), "team/app", "1.0")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(first).To(gomega.Equal(types.Labels{"org.opencontainers.image.version": "1.2.3"}))

			requests := len(server.ReceivedRequests())

			second, err := client.GetLabels(ctx, server.URL(), "team/app", "1.0")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(second).To(gomega.Equal(first))
			gomega.Expect(server.ReceivedRequests()).To(gomega.HaveLen(requests))
		})
	})

	ginkgo.Describe("ListTags", func() {
		ginkgo.It("should list tags with the scoped token", func() {
			server.RouteToHandler(http.MethodGet, "/v2/team/app/tags/list", ghttp.CombineHandlers(
				ghttp.VerifyHeaderKV("Authorization", tokenAuth),
				ghttp.RespondWith(http.StatusOK, `{"name":"team/app","tags":["1.0","latest"]}`),
			))

			result, err := client.ListTags(ctx, server.URL(), "team/app")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(result).To(gomega.Equal([]string{"1.0", "latest"}))
		})
	})
})

var _ = ginkgo.DescribeTable("WarnOnAPIConsumption",
	func(registryURL string, expected bool) {
		gomega.Expect(registry.WarnOnAPIConsumption(registryURL)).To(gomega.Equal(expected))
	},
	ginkgo.Entry("Docker Hub", "https://index.docker.io", true),
	ginkgo.Entry("GHCR", "https://ghcr.io", true),
	ginkgo.Entry("private registry", "https://registry.example.com", false),
)
