package auth_test

import (
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/nicholas-fedor/regscout/pkg/registry/auth"
)

var _ = ginkgo.Describe("ParseChallenge", func() {
	ginkgo.It("should parse a Docker Hub bearer challenge", func() {
		challenge, err := auth.ParseChallenge(
			`Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:library/ubuntu:pull,push"`,
		)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(challenge.Scheme).To(gomega.Equal("Bearer"))
		gomega.Expect(challenge.IsBasic()).To(gomega.BeFalse())
		gomega.Expect(challenge.Params).To(gomega.Equal(map[string]string{
			"realm":   "https://auth.docker.io/token",
			"service": "registry.docker.io",
			"scope":   "repository:library/ubuntu:pull,push",
		}))
	})

	ginkgo.It("should detect Basic regardless of case", func() {
		challenge, err := auth.ParseChallenge(`BASIC realm="Registry Realm"`)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(challenge.IsBasic()).To(gomega.BeTrue())
		gomega.Expect(challenge.Params["realm"]).To(gomega.Equal("Registry Realm"))
	})

	ginkgo.It("should accept unquoted values and escaped quotes", func() {
		challenge, err := auth.ParseChallenge(`Bearer realm=https://auth.example.com/token, service="say \"hi\""`)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(challenge.Params["realm"]).To(gomega.Equal("https://auth.example.com/token"))
		gomega.Expect(challenge.Params["service"]).To(gomega.Equal(`say "hi"`))
	})

	ginkgo.It("should keep a scheme without parameters", func() {
		challenge, err := auth.ParseChallenge("Basic")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(challenge.IsBasic()).To(gomega.BeTrue())
		gomega.Expect(challenge.Params).To(gomega.BeEmpty())
	})

	ginkgo.It("should reject an empty header", func() {
		_, err := auth.ParseChallenge("  ")
		gomega.Expect(err).To(gomega.HaveOccurred())
	})
})

var _ = ginkgo.Describe("TokenURL", func() {
	ginkgo.It("should add service and pull scope", func() {
		challenge := auth.Challenge{Scheme: "Bearer", Params: map[string]string{
			"realm":   "https://ghcr.io/token",
			"service": "ghcr.io",
		}}

		tokenURL, err := auth.TokenURL(challenge, "nicholas-fedor/regscout")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(tokenURL.Host).To(gomega.Equal("ghcr.io"))
		gomega.Expect(tokenURL.Query().Get("service")).To(gomega.Equal("ghcr.io"))
		gomega.Expect(tokenURL.Query().Get("scope")).To(gomega.Equal("repository:nicholas-fedor/regscout:pull"))
	})

	ginkgo.It("should keep query parameters already present in the realm", func() {
		challenge := auth.Challenge{Params: map[string]string{"realm": "https://auth.example.com/token?account=ci"}}

		tokenURL, err := auth.TokenURL(challenge, "team/app")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(tokenURL.Query().Get("account")).To(gomega.Equal("ci"))
		gomega.Expect(tokenURL.Query().Has("service")).To(gomega.BeFalse())
	})

	ginkgo.It("should fail without a realm", func() {
		_, err := auth.TokenURL(auth.Challenge{Params: map[string]string{"service": "x"}}, "team/app")
		gomega.Expect(err).To(gomega.HaveOccurred())
	})
})
