// Package feed provides the streaming market-data client: one WebSocket
// connection to the broker feed, a subscription set that survives
// reconnects, and normalization of the feed's loosely shaped tick payloads.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	tickdesk "github.com/tickdesk/tickdesk-go"
	"github.com/tickdesk/tickdesk-go/internal/wsconn"
	"github.com/tickdesk/tickdesk-go/middleware"
	"github.com/tickdesk/tickdesk-go/sched"
)

// DefaultURLTemplate is the broker feed endpoint. The {token} placeholder is
// substituted with the session token at connect time.
const DefaultURLTemplate = "wss://api-feed.dhan.co?version=2&token={token}&authType=2"

// Config holds feed client tunables.
type Config struct {
	URLTemplate            string
	ConnectTimeout         time.Duration
	WriteTimeout           time.Duration
	PingInterval           time.Duration
	PongWait               time.Duration
	ReconnectDelay         time.Duration
	MaxReconnectAttempts   int
	SubscribeRetryInterval time.Duration
	ReadBufferSize         int
	WriteBufferSize        int
}

// DefaultConfig returns the defaults for the broker feed.
func DefaultConfig() *Config {
	return &Config{
		URLTemplate:            DefaultURLTemplate,
		ConnectTimeout:         30 * time.Second,
		WriteTimeout:           10 * time.Second,
		PingInterval:           10 * time.Second,
		PongWait:               40 * time.Second,
		ReconnectDelay:         5 * time.Second,
		MaxReconnectAttempts:   10,
		SubscribeRetryInterval: 2 * time.Second,
		ReadBufferSize:         4096,
		WriteBufferSize:        4096,
	}
}

// TickCallback receives every normalized tick for a watched instrument, in
// arrival order.
type TickCallback func(Instrument, FeedTick)

// StatusCallback receives connection state changes.
type StatusCallback func(Status)

// ErrorCallback receives transport and upstream feed errors.
type ErrorCallback func(error)

// CloseCallback is invoked once per close event.
type CloseCallback func()

// Metrics is the instrumentation hook the client reports into. The metrics
// package provides a Prometheus-backed implementation.
type Metrics interface {
	TickReceived()
	ProtocolError()
	SubscribeReplay()
	FeedState(status string)
}

// Client streams market data for a desired set of instruments.
type Client struct {
	accessToken string
	cfg         *Config
	scheduler   sched.Scheduler
	log         zerolog.Logger
	metrics     Metrics

	onTick   TickCallback
	onStatus StatusCallback
	onError  ErrorCallback
	onClose  CloseCallback

	// The controller and the connection each own their state behind their
	// own lock. Inbound message handling is single-goroutine (the transport
	// read loop), so ticks are applied in arrival order.
	subs   *subscriptionController
	frames middleware.FrameHandler

	connMu sync.Mutex
	conn   *wsconn.Connection
}

// NewClient creates a feed client. The access token is required; it is
// substituted into the URL template at connect time.
func NewClient(accessToken string, opts ...Option) (*Client, error) {
	if accessToken == "" {
		return nil, tickdesk.ErrInvalidAccessToken
	}

	c := &Client{
		accessToken: accessToken,
		cfg:         DefaultConfig(),
		scheduler:   sched.Real(),
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.subs = newSubscriptionController(c.scheduler, c.cfg.SubscribeRetryInterval, c.send, c.log)
	if c.metrics != nil {
		c.subs.onReplay = c.metrics.SubscribeReplay
	}

	// Callbacks run on the read goroutine; recovery keeps a panicking
	// callback from taking the read loop down with it.
	mws := []middleware.Middleware{
		middleware.Recovery(c.log),
		middleware.Logging(c.log),
	}
	if fm, ok := c.metrics.(middleware.FrameMetrics); ok {
		mws = append(mws, middleware.Metrics(fm))
	}
	c.frames = middleware.Chain(mws...)(func(ctx context.Context, frame []byte) error {
		c.handleMessage(frame)
		return nil
	})
	return c, nil
}

// FeedURL substitutes the token into the URL template and normalizes the
// scheme: a secure page origin yields a secure stream.
func FeedURL(template, token string) string {
	url := strings.ReplaceAll(template, "{token}", token)
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	default:
		return url
	}
}

// Connect opens the streaming connection. After reconnect exhaustion
// (StatusFailed) a new Connect call starts a fresh attempt cycle.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	if c.conn == nil {
		c.conn = wsconn.NewConnection(wsconn.ConnectionConfig{
			URL: FeedURL(c.cfg.URLTemplate, c.accessToken),
			Config: &wsconn.Config{
				ConnectTimeout:       c.cfg.ConnectTimeout,
				WriteTimeout:         c.cfg.WriteTimeout,
				PingInterval:         c.cfg.PingInterval,
				PongWait:             c.cfg.PongWait,
				ReconnectDelay:       c.cfg.ReconnectDelay,
				MaxReconnectAttempts: c.cfg.MaxReconnectAttempts,
				ReadBufferSize:       c.cfg.ReadBufferSize,
				WriteBufferSize:      c.cfg.WriteBufferSize,
			},
			Scheduler: c.scheduler,
			Logger:    c.log,
			OnMessage: func(data []byte) {
				_ = c.frames(context.Background(), data)
			},
			OnState:   c.handleState,
			OnError:   c.handleError,
			OnClose:   c.handleClose,
		})
	}
	conn := c.conn
	c.connMu.Unlock()

	return conn.Connect(ctx)
}

// Disconnect closes the connection and cancels any pending reconnect. It is
// idempotent and safe to call before ever connecting.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Status returns the user-visible connection state.
func (c *Client) Status() Status {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return StatusIdle
	}
	return statusFromState(conn.State())
}

// SetSubscriptions replaces the desired-subscription set. While the
// connection is open the new set is subscribed immediately (and removed
// instruments unsubscribed); otherwise it is replayed on the next open.
func (c *Client) SetSubscriptions(subs []Subscription) error {
	for _, s := range subs {
		if !s.Instrument.Valid() {
			return fmt.Errorf("%w: %q/%q", tickdesk.ErrInvalidInstrument, s.Instrument.ExchangeSegment, s.Instrument.SecurityID)
		}
	}

	c.subs.setDesired(subs)
	return nil
}

// send drops the payload with a log entry when the connection is not open;
// the subscribe retry cycle covers the gap.
func (c *Client) send(payload []byte) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		c.log.Warn().Msg("send before connect, dropping message")
		return tickdesk.ErrNotConnected
	}
	return conn.Send(payload)
}

// handleMessage decodes one inbound frame. Malformed payloads are dropped
// with a warning and never take the connection down.
func (c *Client) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn().Err(err).Msg("undecodable feed message dropped")
		c.noteProtocolError()
		return
	}

	switch env.Type {
	case messageTypeConnected:
		c.log.Info().Msg("feed handshake acknowledged")

	case messageTypeMarketFeed:
		c.handleMarketFeed(env.Data)

	case messageTypeError:
		err := fmt.Errorf("feed error: %s", env.Message)
		c.log.Warn().Str("message", env.Message).Msg("feed reported error")
		if c.onError != nil {
			c.onError(err)
		}

	default:
		c.log.Debug().Str("type", env.Type).Msg("unrecognized feed message type dropped")
		c.noteProtocolError()
	}
}

func (c *Client) handleMarketFeed(data json.RawMessage) {
	if len(data) == 0 {
		return
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		c.log.Warn().Err(err).Msg("undecodable market_feed payload dropped")
		c.noteProtocolError()
		return
	}

	now := time.Now()
	watched := c.subs.watched()

	for _, record := range tickRecords(payload) {
		inst, ok := MatchInstrument(record, watched)
		if !ok {
			continue
		}
		tick, ok := ParseTick(record, now)
		if !ok {
			continue
		}

		c.subs.confirm()

		if c.metrics != nil {
			c.metrics.TickReceived()
		}
		if c.onTick != nil {
			c.onTick(inst, tick)
		}
	}
}

func (c *Client) handleState(s wsconn.State) {
	status := statusFromState(s)

	switch s {
	case wsconn.StateOpen:
		c.subs.onOpen()
	case wsconn.StateClosed, wsconn.StateFailed:
		c.subs.onClosed()
	}

	if c.metrics != nil {
		c.metrics.FeedState(string(status))
	}
	if c.onStatus != nil {
		c.onStatus(status)
	}
}

func (c *Client) handleError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Client) handleClose() {
	if c.onClose != nil {
		c.onClose()
	}
}

func (c *Client) noteProtocolError() {
	if c.metrics != nil {
		c.metrics.ProtocolError()
	}
}

func statusFromState(s wsconn.State) Status {
	switch s {
	case wsconn.StateConnecting:
		return StatusConnecting
	case wsconn.StateOpen:
		return StatusConnected
	case wsconn.StateClosed:
		return StatusDisconnected
	case wsconn.StateFailed:
		return StatusFailed
	default:
		return StatusIdle
	}
}
