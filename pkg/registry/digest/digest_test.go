package digest_test

import (
	"net/http"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/nicholas-fedor/regscout/pkg/registry/digest"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

const (
	emptyBodyDigest = "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	helloDigest     = "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	testDigest      = "sha256:d68e1e532088964195ad3a0a71526bc2f11a78de0def85629beb75e2265f0547"
)

var _ = ginkgo.Describe("ExtractDigestFromResponse", func() {
	ginkgo.It("should prefer the content digest header", func() {
		res := &types.ManifestResponse{
			Body:    []byte("hello"),
			Headers: http.Header{digest.ContentDigestHeader: []string{testDigest}},
		}

		gomega.Expect(digest.ExtractDigestFromResponse(res)).To(gomega.Equal(testDigest))
	})

	ginkgo.It("should hash the exact body bytes without the header", func() {
		res := &types.ManifestResponse{Body: []byte("hello"), Headers: http.Header{}}

		gomega.Expect(digest.ExtractDigestFromResponse(res)).To(gomega.Equal(helloDigest))
	})

	ginkgo.It("should be deterministic", func() {
		body := []byte(`{"schemaVersion": 2,  "config": {}}`)
		first := digest.ExtractDigestFromResponse(&types.ManifestResponse{Body: body})
		second := digest.ExtractDigestFromResponse(&types.ManifestResponse{Body: body})

		gomega.Expect(first).To(gomega.Equal(second))
		gomega.Expect(first).To(gomega.HavePrefix("sha256:"))
		gomega.Expect(digest.Validate(first)).To(gomega.BeTrue())
	})

	ginkgo.It("should not normalize whitespace before hashing", func() {
		compact := digest.ExtractDigestFromResponse(&types.ManifestResponse{Body: []byte(`{"a":1}`)})
		spaced := digest.ExtractDigestFromResponse(&types.ManifestResponse{Body: []byte(`{"a": 1}`)})

		gomega.Expect(compact).NotTo(gomega.Equal(spaced))
	})

	ginkgo.It("should hash an empty body", func() {
		gomega.Expect(digest.ExtractDigestFromResponse(&types.ManifestResponse{})).To(gomega.Equal(emptyBodyDigest))
	})

	ginkgo.It("should return an empty string for a nil response", func() {
		gomega.Expect(digest.ExtractDigestFromResponse(nil)).To(gomega.BeEmpty())
	})
})

var _ = ginkgo.Describe("Validate", func() {
	ginkgo.DescribeTable("digest formats",
		func(value string, valid bool) {
			gomega.Expect(digest.Validate(value)).To(gomega.Equal(valid))
		},
		ginkgo.Entry("sha256", testDigest, true),
		ginkgo.Entry("missing algorithm", "d68e1e532088964195ad3a0a71526bc2f11a78de0def85629beb75e2265f0547", false),
		ginkgo.Entry("short hex", "sha256:abc", false),
		ginkgo.Entry("empty", "", false),
	)
})

var _ = ginkgo.Describe("DigestsMatch", func() {
	ginkgo.DescribeTable("comparisons",
		func(local []string, remote string, expected bool) {
			gomega.Expect(digest.DigestsMatch(local, remote)).To(gomega.Equal(expected))
		},
		ginkgo.Entry("repo digest", []string{"ghcr.io/org/app@" + testDigest}, testDigest, true),
		ginkgo.Entry("plain digest", []string{testDigest}, testDigest, true),
		ginkgo.Entry("remote without prefix", []string{testDigest}, testDigest[len("sha256:"):], true),
		ginkgo.Entry("second entry matches", []string{"org/app@sha256:aaaa", "org/app@" + testDigest}, testDigest, true),
		ginkgo.Entry("no match", []string{"org/app@sha256:aaaa"}, testDigest, false),
		ginkgo.Entry("no local digests", nil, testDigest, false),
		ginkgo.Entry("empty remote", []string{""}, "", false),
	)
})
