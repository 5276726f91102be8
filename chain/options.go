package chain

import (
	"net/http"

	"github.com/rs/zerolog"
)

// ClientOption is a functional option for configuring the snapshot client
type ClientOption func(*Client)

// WithBaseURL overrides the REST base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithClientLogger sets the logger used by the snapshot client
func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = logger
	}
}

// WithClientMetrics sets the metrics sink recording snapshot request outcomes
func WithClientMetrics(m Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// ResolverOption is a functional option for configuring the resolver
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger used by the resolver
func WithResolverLogger(logger zerolog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.log = logger
	}
}
