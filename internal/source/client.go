// Package source implements the Source Client half of the relay (spec.md
// §4.1): one instance per active station, dialing an upstream NTRIP caster,
// relaying RTCM bytes opaquely, and reconnecting with an attempt budget.
// Structured the way the teacher's pkg/server.Server is (mutex-guarded
// state, a cancellable context, a background run loop started by Start),
// but talking raw TCP per spec.md instead of net/http.
package source

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/ntrip-relay/internal/wire"
)

// State is a Source Client's position in the reconnection state machine of
// spec.md §4.1.
type State int

const (
	StateIdle State = iota
	StateDialing
	StateHandshaking
	StateStreaming
	StateClosing
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Config configures one Source Client.
type Config struct {
	Host       string
	Port       int
	Mountpoint string
	Username   string
	Password   string

	ReadTimeout       time.Duration // default 30s
	ReconnectInterval time.Duration // default 5s
	MaxAttempts       int           // default 10
}

func (c *Config) setDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
}

// Stats is the snapshot returned by Client.Stats.
type Stats struct {
	Connected     bool
	LastDataAt    time.Time
	BytesReceived uint64
}

// Client is one Source Client instance (spec.md §4.1). Exactly one runs per
// active mountpoint, owned exclusively by the Relay Supervisor.
type Client struct {
	cfg Config
	log logrus.FieldLogger

	mu         sync.Mutex
	conn       net.Conn
	state      State
	attempts   int
	lastDataAt time.Time
	connected  bool

	bytesReceived uint64 // atomic

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onFrame        func([]byte)
	onConnected    func()
	onDisconnected func()
	onError        func(error)
}

// New constructs a Source Client. Observer hooks are set separately via
// OnFrame/OnConnected/OnDisconnected/OnError before Connect is called.
func New(cfg Config, log logrus.FieldLogger) *Client {
	cfg.setDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		cfg:   cfg,
		log:   log.WithField("mountpoint", cfg.Mountpoint),
		state: StateIdle,
	}
}

func (c *Client) OnFrame(f func([]byte))  { c.onFrame = f }
func (c *Client) OnConnected(f func())    { c.onConnected = f }
func (c *Client) OnDisconnected(f func()) { c.onDisconnected = f }
func (c *Client) OnError(f func(error))   { c.onError = f }

// Connect begins or resumes connection attempts. Idempotent while a run
// loop is already active.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.ctx != nil && c.ctx.Err() == nil {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.attempts = 0
	ctx := c.ctx
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Disconnect tears down the socket and cancels any pending reconnect. After
// it returns, no further onFrame is delivered (spec.md §5).
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.connected = false
	c.setState(StateIdle)
	c.mu.Unlock()
	return nil
}

// SendPosition writes a single NMEA GGA sentence if connected, reporting
// whether it was written. Write failures are reported via onError but do
// not themselves disconnect (spec.md §4.1).
func (c *Client) SendPosition(lat, lon, alt float64) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return false
	}

	sentence := wire.FormatGGA(lat, lon, alt)
	if _, err := conn.Write([]byte(sentence)); err != nil {
		if c.onError != nil {
			c.onError(fmt.Errorf("%w: writing GGA: %v", ErrTransportError, err))
		}
		return false
	}
	return true
}

// Stats returns a snapshot of the client's liveness signals.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Connected:     c.connected,
		LastDataAt:    c.lastDataAt,
		BytesReceived: atomic.LoadUint64(&c.bytesReceived),
	}
}

func (c *Client) setState(s State) {
	c.state = s
}

// run drives the Dialing -> Handshaking -> Streaming -> Backoff state
// machine (spec.md §4.1) until ctx is cancelled or the attempt budget is
// exhausted.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.setState(StateDialing)
		c.mu.Unlock()

		err := c.connectOnce(ctx)
		if err == nil {
			// connectOnce only returns nil when the stream ended because
			// ctx was cancelled (disconnect); nothing left to do.
			return
		}

		if err == errAuthRejectedTerminal {
			if c.onError != nil {
				c.onError(ErrAuthRejected)
			}
			return
		}

		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		if c.onDisconnected != nil {
			c.onDisconnected()
		}
		if c.onError != nil {
			c.onError(err)
		}

		c.mu.Lock()
		c.attempts++
		attempts := c.attempts
		maxAttempts := c.cfg.MaxAttempts
		c.setState(StateBackoff)
		c.mu.Unlock()

		if attempts >= maxAttempts {
			if c.onError != nil {
				c.onError(ErrPermanent)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

var errAuthRejectedTerminal = fmt.Errorf("terminal: %w", ErrAuthRejected)

// connectOnce performs one dial+handshake+stream cycle. It returns nil only
// when the stream loop exited because of context cancellation (a clean
// disconnect); any other return value is an error that should drive the
// Backoff transition, except errAuthRejectedTerminal which stops retrying
// entirely.
func (c *Client) connectOnce(ctx context.Context) error {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransportError, addr, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	c.mu.Lock()
	c.conn = conn
	c.setState(StateHandshaking)
	c.mu.Unlock()

	if err := c.writeRequest(conn); err != nil {
		conn.Close()
		return fmt.Errorf("%w: writing request: %v", ErrTransportError, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	hs, err := readHandshake(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: handshake: %v", ErrTransportError, err)
	}

	if strings.Contains(hs.StatusLine, "401") {
		conn.Close()
		return errAuthRejectedTerminal
	}
	if !strings.HasPrefix(hs.StatusLine, "ICY 200 OK") {
		conn.Close()
		return fmt.Errorf("%w: unexpected status %q", ErrProtocolError, hs.StatusLine)
	}

	c.mu.Lock()
	c.connected = true
	c.attempts = 0
	c.lastDataAt = time.Now()
	c.setState(StateStreaming)
	c.mu.Unlock()

	if len(hs.Residual) > 0 {
		c.deliverFrame(hs.Residual)
	}
	if c.onConnected != nil {
		c.onConnected()
	}

	return c.streamLoop(ctx, conn)
}

func (c *Client) writeRequest(conn net.Conn) error {
	var b strings.Builder
	fmt.Fprintf(&b, "GET /%s HTTP/1.1\r\n", c.cfg.Mountpoint)
	fmt.Fprintf(&b, "Host: %s:%d\r\n", c.cfg.Host, c.cfg.Port)
	b.WriteString("User-Agent: NTRIP-Relay/1.0\r\n")
	if c.cfg.Username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
		fmt.Fprintf(&b, "Authorization: Basic %s\r\n", token)
	}
	b.WriteString("\r\n")
	_, err := conn.Write([]byte(b.String()))
	return err
}

// streamLoop relays opaque RTCM chunks verbatim until the socket closes or
// ctx is cancelled. It deliberately never buffers or parses RTCM frame
// boundaries (spec.md §4.1 step 4, §9).
func (c *Client) streamLoop(ctx context.Context, conn net.Conn) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	r := bufio.NewReaderSize(conn, 4096)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		n, err := r.Read(buf)
		if n > 0 {
			c.deliverFrame(buf[:n])
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: read: %v", ErrTransportError, err)
		}
	}
}

func (c *Client) deliverFrame(b []byte) {
	frame := make([]byte, len(b))
	copy(frame, b)

	c.mu.Lock()
	c.lastDataAt = time.Now()
	c.mu.Unlock()
	atomic.AddUint64(&c.bytesReceived, uint64(len(frame)))

	if c.onFrame != nil {
		c.onFrame(frame)
	}
}
