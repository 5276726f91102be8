// Package utils provides the tuned HTTP client the snapshot API is called
// through, plus transport-level middleware.
package utils

import (
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClientConfig holds connection pool and timeout settings. The snapshot
// workload talks to a single API host at a few requests per minute, so the
// defaults keep a small warm pool rather than a large one.
type HTTPClientConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	KeepAlive             time.Duration
	RequestTimeout        time.Duration
}

// DefaultHTTPClientConfig returns the settings used for snapshot calls.
func DefaultHTTPClientConfig() *HTTPClientConfig {
	return &HTTPClientConfig{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		MaxConnsPerHost:       8,
		IdleConnTimeout:       90 * time.Second,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		KeepAlive:             30 * time.Second,
		RequestTimeout:        30 * time.Second,
	}
}

// NewHTTPClient creates an HTTP client from the configuration. A nil config
// uses the defaults.
func NewHTTPClient(config *HTTPClientConfig) *http.Client {
	if config == nil {
		config = DefaultHTTPClientConfig()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.RequestTimeout,
	}
}

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// ChainRoundTrippers composes transport wrappers. The first wrapper is
// outermost.
func ChainRoundTrippers(transport http.RoundTripper, wrappers ...func(http.RoundTripper) http.RoundTripper) http.RoundTripper {
	result := transport
	for i := len(wrappers) - 1; i >= 0; i-- {
		result = wrappers[i](result)
	}
	return result
}

// WithTransportMiddleware wraps a client's transport in place.
func WithTransportMiddleware(client *http.Client, wrappers ...func(http.RoundTripper) http.RoundTripper) *http.Client {
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = ChainRoundTrippers(transport, wrappers...)
	return client
}

// LoggingRoundTripper traces requests at debug level.
func LoggingRoundTripper(log zerolog.Logger) func(http.RoundTripper) http.RoundTripper {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(req)
			elapsed := time.Since(start)

			if err != nil {
				log.Warn().Err(err).Str("method", req.Method).Str("path", req.URL.Path).Dur("elapsed", elapsed).Msg("http request failed")
				return resp, err
			}
			log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Int("status", resp.StatusCode).Dur("elapsed", elapsed).Msg("http request")
			return resp, err
		})
	}
}
