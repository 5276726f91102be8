// Package wsconn manages a single WebSocket connection to the market feed:
// lifecycle state machine, keepalive, and bounded reconnection.
package wsconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	tickdesk "github.com/tickdesk/tickdesk-go"
	"github.com/tickdesk/tickdesk-go/sched"
)

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	// StateFailed is terminal: reconnect attempts are exhausted and only an
	// explicit Connect call leaves it.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds tunables for the connection.
type Config struct {
	ConnectTimeout       time.Duration
	WriteTimeout         time.Duration
	PingInterval         time.Duration
	PongWait             time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	ReadBufferSize       int
	WriteBufferSize      int
}

// DefaultConfig returns defaults tuned for the broker feed's keepalive
// contract (10s ping, 40s disconnect threshold).
func DefaultConfig() *Config {
	return &Config{
		ConnectTimeout:       30 * time.Second,
		WriteTimeout:         10 * time.Second,
		PingInterval:         10 * time.Second,
		PongWait:             40 * time.Second,
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 10,
		ReadBufferSize:       4096,
		WriteBufferSize:      4096,
	}
}

// ConnectionConfig wires a new Connection.
type ConnectionConfig struct {
	URL       string
	Config    *Config
	Scheduler sched.Scheduler
	Logger    zerolog.Logger

	// OnMessage receives every inbound payload in arrival order.
	OnMessage func(data []byte)
	// OnState is invoked on every lifecycle transition.
	OnState func(State)
	// OnError is invoked once per transport error.
	OnError func(error)
	// OnClose is invoked once per close event, whether by error or normal close.
	OnClose func()
}

// session holds the per-dial resources so a stale goroutine from a previous
// generation can never touch the current connection.
type session struct {
	conn   *websocket.Conn
	sendCh chan []byte
	stopCh chan struct{}
}

// Connection owns one WebSocket connection and its reconnect policy.
type Connection struct {
	id  string
	url string
	cfg *Config

	scheduler sched.Scheduler
	log       zerolog.Logger

	onMessage func([]byte)
	onState   func(State)
	onError   func(error)
	onClose   func()

	mu        sync.Mutex
	state     State
	gen       int
	sess      *session
	attempts  int
	reconnect sched.Timer
	closing   bool
}

// NewConnection creates a connection in StateIdle. It does not dial.
func NewConnection(cfg ConnectionConfig) *Connection {
	if cfg.Config == nil {
		cfg.Config = DefaultConfig()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = sched.Real()
	}

	id := uuid.NewString()
	return &Connection{
		id:        id,
		url:       cfg.URL,
		cfg:       cfg.Config,
		scheduler: cfg.Scheduler,
		log:       cfg.Logger.With().Str("conn_id", id).Logger(),
		onMessage: cfg.OnMessage,
		onState:   cfg.OnState,
		onError:   cfg.OnError,
		onClose:   cfg.OnClose,
		state:     StateIdle,
	}
}

// ID returns the connection's identity.
func (c *Connection) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether the connection is open.
func (c *Connection) IsOpen() bool { return c.State() == StateOpen }

// Connect dials the feed. Calling it from StateFailed resets the attempt
// counter; calling it while connecting or open is an error.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return tickdesk.ErrAlreadyConnected
	}
	c.closing = false
	c.attempts = 0
	c.cancelReconnectLocked()
	c.mu.Unlock()

	return c.dial(ctx)
}

// dial performs one connection attempt. Used by Connect and by scheduled
// reconnects, which must not reset the attempt counter.
func (c *Connection) dial(ctx context.Context) error {
	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.ConnectTimeout,
		ReadBufferSize:   c.cfg.ReadBufferSize,
		WriteBufferSize:  c.cfg.WriteBufferSize,
	}

	conn, _, err := dialer.DialContext(dialCtx, c.url, nil)

	c.mu.Lock()
	if c.closing {
		c.state = StateClosed
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		c.state = StateClosed
		c.log.Warn().Err(err).Msg("feed dial failed")
		exhausted := c.scheduleReconnectLocked()
		c.mu.Unlock()
		// Closed is always observable; Failed follows when the attempt
		// budget is spent.
		c.notifyState(StateClosed)
		if exhausted != nil {
			c.notifyState(StateFailed)
			c.notifyError(exhausted)
		}
		return fmt.Errorf("failed to dial feed: %w", err)
	}

	c.gen++
	gen := c.gen
	sess := &session{
		conn:   conn,
		sendCh: make(chan []byte, 256),
		stopCh: make(chan struct{}),
	}
	c.sess = sess
	c.state = StateOpen
	c.attempts = 0
	c.mu.Unlock()

	c.notifyState(StateOpen)

	go c.readLoop(sess, gen)
	go c.writeLoop(sess, gen)

	return nil
}

// Send transmits a message while the connection is open. Otherwise the
// message is dropped with a warning.
func (c *Connection) Send(message []byte) error {
	c.mu.Lock()
	if c.state != StateOpen || c.sess == nil {
		c.mu.Unlock()
		c.log.Warn().Msg("send while feed not open, dropping message")
		return tickdesk.ErrNotConnected
	}
	sess := c.sess
	c.mu.Unlock()

	select {
	case sess.sendCh <- message:
		return nil
	case <-sess.stopCh:
		return tickdesk.ErrNotConnected
	default:
		return fmt.Errorf("feed send buffer full")
	}
}

// Close tears the connection down and cancels any pending reconnect. It is
// idempotent and safe to call before ever connecting.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closing = true
	c.cancelReconnectLocked()
	if c.state != StateOpen || c.sess == nil {
		if c.state == StateConnecting {
			c.state = StateClosed
		}
		c.mu.Unlock()
		return nil
	}
	sess := c.sess
	c.sess = nil
	c.gen++
	c.state = StateClosed
	c.mu.Unlock()

	close(sess.stopCh)
	sess.conn.Close()
	c.notifyState(StateClosed)
	return nil
}

func (c *Connection) readLoop(sess *session, gen int) {
	conn := sess.conn

	if c.cfg.PongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
			return nil
		})
	}

	for {
		select {
		case <-sess.stopCh:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(gen, err)
			return
		}

		// Synchronous: ticks must reach the handler in arrival order.
		if c.onMessage != nil {
			c.onMessage(message)
		}
	}
}

func (c *Connection) writeLoop(sess *session, gen int) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	conn := sess.conn

	for {
		select {
		case <-sess.stopCh:
			return
		case message := <-sess.sendCh:
			if c.cfg.WriteTimeout > 0 {
				conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.handleClosed(gen, err)
				return
			}
		case <-ticker.C:
			if c.cfg.WriteTimeout > 0 {
				conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.handleClosed(gen, err)
				return
			}
		}
	}
}

// handleClosed processes a transport failure for generation gen. The first
// loop to observe the failure wins; the generation check makes the close
// callbacks fire at most once per event.
func (c *Connection) handleClosed(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateOpen || c.sess == nil {
		c.mu.Unlock()
		return
	}
	sess := c.sess
	c.sess = nil
	c.gen++
	c.state = StateClosed

	var exhausted error
	if !c.closing {
		exhausted = c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	close(sess.stopCh)
	sess.conn.Close()

	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Warn().Err(err).Msg("feed connection lost")
		c.notifyError(err)
	}
	c.notifyState(StateClosed)
	if c.onClose != nil {
		c.onClose()
	}
	if exhausted != nil {
		c.notifyState(StateFailed)
		c.notifyError(exhausted)
	}
}

// scheduleReconnectLocked counts the failed attempt and either schedules the
// next dial or transitions to StateFailed. Caller holds c.mu. A non-nil
// return is the exhaustion error to surface after unlocking.
func (c *Connection) scheduleReconnectLocked() error {
	c.attempts++
	if c.cfg.MaxReconnectAttempts > 0 && c.attempts >= c.cfg.MaxReconnectAttempts {
		c.state = StateFailed
		c.log.Error().Int("attempts", c.attempts).Msg("reconnect attempts exhausted")
		return tickdesk.ErrReconnectExhausted
	}

	c.log.Info().
		Int("attempt", c.attempts).
		Dur("delay", c.cfg.ReconnectDelay).
		Msg("scheduling feed reconnect")

	c.reconnect = c.scheduler.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		if c.closing || c.state == StateOpen || c.state == StateConnecting {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.dial(context.Background())
	})
	return nil
}

func (c *Connection) cancelReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notifyState(s)
}

func (c *Connection) notifyState(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Connection) notifyError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}
