// Package transport implements the HTTP client used for registry and token service calls.
//
// Every failure leaves this package as a *types.RequestError carrying the
// status code, a transport error code and the request host, so callers can
// classify it without inspecting net/http internals.
package transport

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/docker/go-connections/tlsconfig"
	"github.com/eapache/go-resiliency/retrier"
	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/regscout/pkg/metrics"
	"github.com/nicholas-fedor/regscout/pkg/types"
)

// UserAgent is the User-Agent header value used in registry requests.
// It can be customized at build time using linker flags.
var UserAgent = "regscout/unknown"

const (
	defaultTimeout    = 60 * time.Second
	defaultRetries    = 2
	defaultRetryDelay = 250 * time.Millisecond
	// maxBodySize caps manifest, blob and token bodies read into memory.
	maxBodySize = 32 << 20
)

var (
	errFailedCreateRequest = errors.New("failed to create request")
	errFailedReadBody      = errors.New("failed to read response body")
	errBodyTooLarge        = errors.New("response body too large")
)

// Client is the default types.HTTPClient implementation.
type Client struct {
	httpClient *http.Client
	hostFilter types.HostFilter
	metrics    *metrics.Metrics
	userAgent   string
	retries     int
	retryDelay  time.Duration
	maxBodySize int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout of the default *http.Client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHostFilter refuses requests to hosts the filter reports as disabled.
func WithHostFilter(filter types.HostFilter) Option {
	return func(c *Client) {
		c.hostFilter = filter
	}
}

// WithMetrics records every request in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithRetries sets how many times a failed connection is retried and the initial backoff.
func WithRetries(retries int, delay time.Duration) Option {
	return func(c *Client) {
		c.retries = retries
		c.retryDelay = delay
	}
}

// WithUserAgent overrides UserAgent for this client.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithMaxBodySize sets the largest response body accepted, in bytes.
func WithMaxBodySize(size int64) Option {
	return func(c *Client) {
		c.maxBodySize = size
	}
}

// New creates a Client with a TLS configuration based on docker's client defaults.
func New(opts ...Option) *Client {
	base, _ := http.DefaultTransport.(*http.Transport)
	roundTripper := base.Clone()
	roundTripper.TLSClientConfig = tlsconfig.ClientDefault()

	client := &Client{
		httpClient: &http.Client{
			Transport: roundTripper,
			Timeout:   defaultTimeout,
		},
		userAgent:   UserAgent,
		retries:     defaultRetries,
		retryDelay:  defaultRetryDelay,
		maxBodySize: maxBodySize,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Get sends a GET request and reads the whole response body.
//
// Responses with a status of 400 or above fail with a *types.RequestError unless
// opts.IgnoreErrorStatus is set. Connection failures are retried with exponential
// backoff; timeouts and TLS failures are not.
func (c *Client) Get(ctx context.Context, rawURL string, opts types.RequestOptions) (*types.HTTPResponse, error) {
	host := hostOf(rawURL)
	fields := logrus.Fields{"url": rawURL, "host": host}

	if c.hostFilter != nil && c.hostFilter.Disabled(rawURL) {
		logrus.WithFields(fields).Debug("Host is disabled, skipping request")

		return nil, &types.RequestError{Code: types.CodeHostDisabled, Host: host, URL: rawURL}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &types.RequestError{
			Code: types.CodeRequestFailed,
			Host: host,
			URL:  rawURL,
			Err:  fmt.Errorf("%w: %w", errFailedCreateRequest, err),
		}
	}

	req.Header.Set("User-Agent", c.userAgent)

	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	var response *types.HTTPResponse

	retry := retrier.New(retrier.ExponentialBackoff(c.retries, c.retryDelay), connectionClassifier{})

	err = retry.Run(func() error {
		var err error

		response, err = c.do(req, host)

		return err
	})
	if err != nil {
		logrus.WithFields(fields).WithError(err).Debug("Request failed")

		return nil, err
	}

	if response.StatusCode >= http.StatusBadRequest && !opts.IgnoreErrorStatus {
		logrus.WithFields(fields).WithField("status", response.StatusCode).Debug("Registry returned error status")

		return nil, &types.RequestError{
			StatusCode: response.StatusCode,
			Code:       types.CodeHTTPStatus,
			Host:       host,
			URL:        rawURL,
		}
	}

	logrus.WithFields(fields).WithField("status", response.StatusCode).Trace("Request completed")

	return response, nil
}

func (c *Client) do(req *http.Request, host string) (*types.HTTPResponse, error) {
	rawURL := req.URL.String()

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(host, 0)

		return nil, &types.RequestError{Code: errorCode(err), Host: host, URL: rawURL, Err: err}
	}
	defer res.Body.Close()

	c.metrics.ObserveRequest(host, res.StatusCode)

	body, err := io.ReadAll(io.LimitReader(res.Body, c.maxBodySize+1))
	if err != nil {
		return nil, &types.RequestError{
			Code: errorCode(err),
			Host: host,
			URL:  rawURL,
			Err:  fmt.Errorf("%w: %w", errFailedReadBody, err),
		}
	}

	if int64(len(body)) > c.maxBodySize {
		return nil, &types.RequestError{
			Code: types.CodeBodyTooLarge,
			Host: host,
			URL:  rawURL,
			Err:  fmt.Errorf("%w: more than %d bytes", errBodyTooLarge, c.maxBodySize),
		}
	}

	return &types.HTTPResponse{
		StatusCode: res.StatusCode,
		Headers:    res.Header,
		Body:       body,
	}, nil
}

// errorCode maps a net/http failure to a types.Code* value.
func errorCode(err error) string {
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return types.CodeHostnameMismatch
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.CodeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.CodeTimeout
	}

	return types.CodeRequestFailed
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return parsed.Host
}

// connectionClassifier retries generic connection failures only.
type connectionClassifier struct{}

// Classify implements retrier.Classifier.
func (connectionClassifier) Classify(err error) retrier.Action {
	if err == nil {
		return retrier.Succeed
	}

	if errors.Is(err, context.Canceled) {
		return retrier.Fail
	}

	var reqErr *types.RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode == 0 && reqErr.Code == types.CodeRequestFailed {
		return retrier.Retry
	}

	return retrier.Fail
}
