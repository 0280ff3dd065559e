// Package errclass classifies registry call failures.
//
// Every HTTP-call boundary in the registry packages passes its error through
// Classify, so downstream code switches on a closed set of classes instead of
// inspecting status codes and transport error codes ad hoc:
//   - Ignorable: the artifact is absent or inaccessible; the caller returns an empty result.
//   - HostFatal: the registry itself is unhealthy or rate limiting; the error propagates
//     as an *ExternalHostError so orchestration can suspend the host.
//   - Transient: anything else; logged and treated as an empty result.
package errclass

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/regscout/pkg/registry/helpers"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

// Class is the outcome of classifying a registry call failure.
type Class int

const (
	// Transient failures are logged and turned into an empty result.
	Transient Class = iota
	// Ignorable failures are expected and turned into an empty result.
	Ignorable
	// HostFatal failures propagate as *ExternalHostError.
	HostFatal
)

// quayHost is swallowed entirely; it answers several endpoints with non-conformant errors.
const quayHost = "quay.io"

// String returns a lowercase name for logging.
func (c Class) String() string {
	switch c {
	case Ignorable:
		return "ignorable"
	case HostFatal:
		return "host-fatal"
	case Transient:
		return "transient"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ExternalHostError signals that a registry host is failing and further calls
// to it should be suspended.
type ExternalHostError struct {
	Host string
	Err  error
}

// Error implements the error interface.
func (e *ExternalHostError) Error() string {
	return fmt.Sprintf("external host error (%s): %v", e.Host, e.Err)
}

// Unwrap returns the underlying request error.
func (e *ExternalHostError) Unwrap() error {
	return e.Err
}

// IsExternalHostError reports whether err is, or wraps, an *ExternalHostError.
func IsExternalHostError(err error) bool {
	var hostErr *ExternalHostError

	return errors.As(err, &hostErr)
}

// Classify maps a registry call failure to its Class. The registry argument is
// the registry URL the lookup is running against.
func Classify(err error, registry string) Class {
	if err == nil {
		return Ignorable
	}

	var hostErr *ExternalHostError
	if errors.As(err, &hostErr) {
		return HostFatal
	}

	var reqErr *types.RequestError
	if !errors.As(err, &reqErr) {
		return Transient
	}

	if isQuay(reqErr.Host) || isQuay(helpers.RegistryHost(registry)) {
		return Ignorable
	}

	status := reqErr.StatusCode

	switch {
	case status >= http.StatusInternalServerError && status < 600:
		return HostFatal
	case status == http.StatusTooManyRequests && helpers.IsDockerHub(registry):
		return HostFatal
	case reqErr.Code == types.CodeRequestFailed && helpers.IsDockerHub(registry):
		return HostFatal
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusNotFound:
		return Ignorable
	}

	switch reqErr.Code {
	case types.CodeHostDisabled, types.CodeHostnameMismatch, types.CodeTimeout:
		return Ignorable
	}

	return Transient
}

// Handle classifies err and returns what a registry component should return
// to its caller: nil for ignorable and transient failures, the original error
// for an *ExternalHostError raised deeper in the chain, or a new
// *ExternalHostError for other host-fatal failures.
func Handle(err error, registry string, fields logrus.Fields) error {
	if err == nil {
		return nil
	}

	class := Classify(err, registry)
	entry := logrus.WithFields(fields).WithError(err).WithField("class", class.String())

	switch class {
	case HostFatal:
		if IsExternalHostError(err) {
			return err
		}

		entry.Warn("Registry host failure, suspending lookups")

		return &ExternalHostError{Host: helpers.RegistryHost(registry), Err: err}
	case Ignorable:
		entry.Debug("Ignoring registry error")
	default:
		entry.Warn("Unexpected registry error")
	}

	return nil
}

func isQuay(host string) bool {
	return host == quayHost || strings.HasSuffix(host, "."+quayHost)
}
