package feed

import (
	"github.com/rs/zerolog"

	"github.com/tickdesk/tickdesk-go/sched"
)

// Option is a functional option for configuring the feed client
type Option func(*Client)

// WithConfig sets a custom feed configuration
func WithConfig(config *Config) Option {
	return func(c *Client) {
		c.cfg = config
	}
}

// WithLogger sets the logger used by the client and its transport
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.log = logger
	}
}

// WithScheduler overrides the timer scheduler. Tests use sched.NewManual
// to drive reconnect and subscribe-retry timing deterministically.
func WithScheduler(s sched.Scheduler) Option {
	return func(c *Client) {
		c.scheduler = s
	}
}

// WithMetrics registers an instrumentation collector
func WithMetrics(m Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTickCallback registers the tick callback
func WithTickCallback(cb TickCallback) Option {
	return func(c *Client) {
		c.onTick = cb
	}
}

// WithStatusCallback registers the connection status callback
func WithStatusCallback(cb StatusCallback) Option {
	return func(c *Client) {
		c.onStatus = cb
	}
}

// WithErrorCallback registers the error callback
func WithErrorCallback(cb ErrorCallback) Option {
	return func(c *Client) {
		c.onError = cb
	}
}

// WithCloseCallback registers the close callback
func WithCloseCallback(cb CloseCallback) Option {
	return func(c *Client) {
		c.onClose = cb
	}
}
