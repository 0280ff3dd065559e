package manifest

import (
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Manifest is the subset of an image manifest, manifest list or OCI index
// needed to reach the image configuration.
type Manifest struct {
	specs.Versioned

	MediaType string               `json:"mediaType,omitempty"`
	Config    *ocispec.Descriptor  `json:"config,omitempty"`
	Manifests []ocispec.Descriptor `json:"manifests,omitempty"`
}

// IsList reports whether m references per-platform manifests.
// A manifest without a media type is judged by its shape.
func (m Manifest) IsList() bool {
	switch m.MediaType {
	case MediaTypeDockerManifestList, ocispec.MediaTypeImageIndex:
		return true
	case "":
		return m.Manifests != nil && m.Config == nil
	default:
		return false
	}
}

// IsImage reports whether m describes a single image.
func (m Manifest) IsImage() bool {
	switch m.MediaType {
	case MediaTypeDockerManifest, ocispec.MediaTypeImageManifest:
		return true
	case "":
		return m.Config != nil
	default:
		return false
	}
}
