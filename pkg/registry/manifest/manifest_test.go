package manifest_test

import (
	"context"
	"errors"
	"net/http"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/nicholas-fedor/regscout/pkg/registry/errclass"
	"github.com/nicholas-fedor/regscout/pkg/registry/manifest"
	"github.com/nicholas-fedor/regscout/pkg/registry/transport"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

const (
	listBody = `{
		"schemaVersion": 2,
		"mediaType": "application/vnd.docker.distribution.manifest.list.v2+json",
		"manifests": [
			{"mediaType": "application/vnd.docker.distribution.manifest.v2+json", "digest": "sha256:def", "size": 10,
			 "platform": {"architecture": "amd64", "os": "linux"}},
			{"mediaType": "application/vnd.docker.distribution.manifest.v2+json", "digest": "sha256:999", "size": 10,
			 "platform": {"architecture": "arm64", "os": "linux"}}
		]
	}`
	imageBody = `{
		"schemaVersion": 2,
		"mediaType": "application/vnd.docker.distribution.manifest.v2+json",
		"config": {"mediaType": "application/vnd.docker.container.image.v1+json", "digest": "sha256:abc", "size": 5},
		"layers": []
	}`
)

var _ = ginkgo.Describe("BuildManifestURL", func() {
	ginkgo.It("should join the registry, repository and reference", func() {
		gomega.Expect(manifest.BuildManifestURL("https://ghcr.io/", "org/app", "v1")).
			To(gomega.Equal("https://ghcr.io/v2/org/app/manifests/v1"))
	})
})

var _ = ginkgo.Describe("Manifest", func() {
	ginkgo.DescribeTable("shape detection",
		func(m manifest.Manifest, isList, isImage bool) {
			gomega.Expect(m.IsList()).To(gomega.Equal(isList))
			gomega.Expect(m.IsImage()).To(gomega.Equal(isImage))
		},
		ginkgo.Entry("docker list", manifest.Manifest{MediaType: manifest.MediaTypeDockerManifestList}, true, false),
		ginkgo.Entry("docker image", manifest.Manifest{MediaType: manifest.MediaTypeDockerManifest}, false, true),
		ginkgo.Entry("oci index", manifest.Manifest{MediaType: "application/vnd.oci.image.index.v1+json"}, true, false),
		ginkgo.Entry("oci image", manifest.Manifest{MediaType: "application/vnd.oci.image.manifest.v1+json"}, false, true),
		ginkgo.Entry("unknown media type", manifest.Manifest{MediaType: "application/json"}, false, false),
		ginkgo.Entry("untyped with no content", manifest.Manifest{}, false, false),
	)
})

var _ = ginkgo.Describe("Resolver", func() {
	var (
		server   *ghttp.Server
		auth     *staticHeaders
		resolver *manifest.Resolver
		ctx      context.Context
	)

	ginkgo.BeforeEach(func() {
		server = ghttp.NewServer()
		auth = &staticHeaders{headers: types.AuthHeaders{"Authorization": "Bearer token"}}
		resolver = manifest.NewResolver(transport.New(transport.WithRetries(0, 0)), auth)
		ctx = context.Background()
	})

	ginkgo.AfterEach(func() {
		server.Close()
	})

	ginkgo.Describe("GetManifestResponse", func() {
		ginkgo.It("should request every supported media type with the auth headers", func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/v2/team/app/manifests/latest"),
				ghttp.VerifyHeaderKV("Authorization", "Bearer token"),
				func(_ http.ResponseWriter, r *http.Request) {
					accept := r.Header.Get("Accept")
					for _, mediaType := range manifest.AcceptedMediaTypes {
						gomega.Expect(accept).To(gomega.ContainSubstring(mediaType))
					}
				},
				ghttp.RespondWith(http.StatusOK, imageBody, http.Header{"Docker-Content-Digest": []string{"sha256:123"}}),
			))

			res, err := resolver.GetManifestResponse(ctx, server.URL(), "team/app", "latest")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(res).NotTo(gomega.BeNil())
			gomega.Expect(string(res.Body)).To(gomega.Equal(imageBody))
			gomega.Expect(res.Headers.Get("Docker-Content-Digest")).To(gomega.Equal("sha256:123"))
		})

		ginkgo.It("should return nil without a request when no auth is available", func() {
			auth.headers = nil

			res, err := resolver.GetManifestResponse(ctx, server.URL(), "team/app", "latest")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(res).To(gomega.BeNil())
			gomega.Expect(server.ReceivedRequests()).To(gomega.BeEmpty())
		})

		ginkgo.It("should pass a host error from the auth step through unchanged", func() {
			hostErr := &errclass.ExternalHostError{Host: "index.docker.io", Err: errors.New("rate limited")}
			auth.err = hostErr

			_, err := resolver.GetManifestResponse(ctx, server.URL(), "team/app", "latest")
			gomega.Expect(err).To(gomega.BeIdenticalTo(hostErr))
		})

		ginkgo.It("should return nil for a missing manifest", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, `{"errors":[]}`))

			res, err := resolver.GetManifestResponse(ctx, server.URL(), "team/app", "missing")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(res).To(gomega.BeNil())
		})

		ginkgo.It("should raise a host error on a server failure", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, ""))

			_, err := resolver.GetManifestResponse(ctx, server.URL(), "team/app", "latest")
			gomega.Expect(errclass.IsExternalHostError(err)).To(gomega.BeTrue())
		})
	})

	ginkgo.Describe("GetConfigDigest", func() {
		ginkgo.It("should follow the first manifest list entry", func() {
			server.AppendHandlers(
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, "/v2/team/app/manifests/latest"),
					ghttp.RespondWith(http.StatusOK, listBody),
				),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, "/v2/team/app/manifests/sha256:def"),
					ghttp.RespondWith(http.StatusOK, imageBody),
				),
			)

			configDigest, err := resolver.GetConfigDigest(ctx, server.URL(), "team/app", "latest")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(configDigest).To(gomega.Equal("sha256:abc"))
			gomega.Expect(auth.calls).To(gomega.Equal(2))
		})

		ginkgo.It("should follow an OCI index without a media type", func() {
			server.AppendHandlers(
				ghttp.RespondWith(http.StatusOK, `{"schemaVersion":2,"manifests":[{"digest":"sha256:def","size":1}]}`),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, "/v2/team/app/manifests/sha256:def"),
					ghttp.RespondWith(http.StatusOK, `{"schemaVersion":2,"config":{"digest":"sha256:oci","size":1}}`),
				),
			)

			configDigest, err := resolver.GetConfigDigest(ctx, server.URL(), "team/app", "latest")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(configDigest).To(gomega.Equal("sha256:oci"))
		})

		ginkgo.It("should return the config digest of a single manifest", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, imageBody))

			configDigest, err := resolver.GetConfigDigest(ctx, server.URL(), "team/app", "latest")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(configDigest).To(gomega.Equal("sha256:abc"))
		})

		ginkgo.DescribeTable("should return an empty digest for unusable manifests",
			func(body string) {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, body))

				configDigest, err := resolver.GetConfigDigest(ctx, server.URL(), "team/app", "latest")
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(configDigest).To(gomega.BeEmpty())
			},
			ginkgo.Entry("schema version 1", `{"schemaVersion":1,"name":"team/app","tag":"latest","fsLayers":[]}`),
			ginkgo.Entry("invalid JSON", `not json`),
			ginkgo.Entry("empty manifest list",
				`{"schemaVersion":2,"mediaType":"application/vnd.docker.distribution.manifest.list.v2+json","manifests":[]}`),
			ginkgo.Entry("image without config",
				`{"schemaVersion":2,"mediaType":"application/vnd.docker.distribution.manifest.v2+json"}`),
			ginkgo.Entry("unknown media type", `{"schemaVersion":2,"mediaType":"application/json"}`),
		)

		ginkgo.It("should return an empty digest for a missing tag", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, ""))

			configDigest, err := resolver.GetConfigDigest(ctx, server.URL(), "team/app", "missing")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(configDigest).To(gomega.BeEmpty())
		})

		ginkgo.It("should stop after a bounded number of nested lists", func() {
			nested := `{"schemaVersion":2,"mediaType":"application/vnd.oci.image.index.v1+json",` +
				`"manifests":[{"digest":"sha256:loop","size":1}]}`
			server.RouteToHandler(http.MethodGet, "/v2/team/app/manifests/latest", ghttp.RespondWith(http.StatusOK, nested))
			server.RouteToHandler(http.MethodGet, "/v2/team/app/manifests/sha256:loop", ghttp.RespondWith(http.StatusOK, nested))

			configDigest, err := resolver.GetConfigDigest(ctx, server.URL(), "team/app", "latest")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(configDigest).To(gomega.BeEmpty())
			gomega.Expect(server.ReceivedRequests()).To(gomega.HaveLen(3))
		})

		ginkgo.It("should propagate a host error from a nested manifest", func() {
			server.AppendHandlers(
				ghttp.RespondWith(http.StatusOK, listBody),
				ghttp.RespondWith(http.StatusInternalServerError, ""),
			)

			_, err := resolver.GetConfigDigest(ctx, server.URL(), "team/app", "latest")
			gomega.Expect(errclass.IsExternalHostError(err)).To(gomega.BeTrue())
		})
	})
})
