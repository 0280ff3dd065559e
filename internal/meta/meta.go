// Package meta holds build metadata set through linker flags.
package meta

var (
	// Version is the release version (-ldflags "-X github.com/nicholas-fedor/regscout/internal/meta.Version=v1.0.0").
	Version = "v0.0.0-unknown"
	// UserAgent is sent with every registry request.
	UserAgent = "regscout/" + Version
)
