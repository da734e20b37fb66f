package server

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/linechat/internal/chat"
	"github.com/Tyrowin/linechat/internal/protocol"
)

// connHooks let the owner observe a connection closing. detach runs before
// queued lines are flushed and the transport is released; closed runs after.
type connHooks struct {
	detach func(*Conn)
	closed func(*Conn, Role, *chat.User)
}

// Conn is one client stream. Lines are read on a dedicated goroutine and
// written by another one draining a bounded queue, so sends never block the
// caller and every connection sees its lines in enqueue order.
type Conn struct {
	id        string
	transport Transport
	logger    *slog.Logger
	limiter   *rateLimiter
	hooks     connHooks

	writeTimeout time.Duration

	send      chan string
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	closed  bool
	writing bool
	role    Role
	user    *chat.User
}

func newConn(t Transport, cfg *Config, logger *slog.Logger, hooks connHooks) *Conn {
	id := uuid.NewString()
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Conn{
		id:        id,
		transport: t,
		logger:    logger.With("conn_id", id, "remote", t.RemoteAddr()),
		limiter:   newRateLimiter(cfg.RateLimit),
		hooks:     hooks,

		writeTimeout: writeTimeout,
		send:         make(chan string, cfg.SendQueueSize),
		done:         make(chan struct{}),
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address reported by the transport.
func (c *Conn) RemoteAddr() string { return c.transport.RemoteAddr() }

// Role returns the current role.
func (c *Conn) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// User returns the associated user, if any.
func (c *Conn) User() (chat.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return chat.User{}, false
	}
	return *c.user, true
}

func (c *Conn) binding() (Role, *chat.User) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role, c.user
}

func (c *Conn) bindPrimary(u chat.User) error {
	return c.bind(RolePrimary, u)
}

func (c *Conn) bindSupplemental(u chat.User) error {
	return c.bind(RoleSupplemental, u)
}

// bind moves an unassociated connection into role. Each connection is bound
// at most once.
func (c *Conn) bind(role Role, u chat.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.role != RoleUnassociated {
		return ErrAlreadyBound
	}
	c.role = role
	c.user = &u
	c.logger = c.logger.With("user", u.Username, "role", role.String())
	return nil
}

func (c *Conn) log() *slog.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed once the connection starts closing.
func (c *Conn) Done() <-chan struct{} { return c.done }

// SendLine queues text for delivery. Embedded newlines are flattened so the
// text stays a single line on the wire. When the queue is full the
// connection is considered too slow and gets closed.
func (c *Conn) SendLine(text string) error {
	if c.Closed() {
		return ErrConnClosed
	}
	line := protocol.Flatten(text)

	select {
	case c.send <- line:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
	}

	c.log().Warn("send queue full; closing slow connection", "queue_size", cap(c.send))
	c.Close()
	return ErrSendQueueFull
}

// Send encodes v as one protocol line and queues it.
func (c *Conn) Send(v any) error {
	line, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	return c.SendLine(line)
}

// Close releases the connection. It is safe to call any number of times from
// any goroutine; only the first call has an effect. Lines queued before the
// call are still written by the writer goroutine, bounded by the write
// timeout, before the transport is released.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		writing := c.writing
		c.mu.Unlock()
		close(c.done)

		if c.hooks.detach != nil {
			c.hooks.detach(c)
		}
		if !writing {
			c.release()
		}
	})
}

// release closes the transport and reports the final binding. It runs
// exactly once: from Close when no writer was started, otherwise from the
// writer after it flushed.
func (c *Conn) release() {
	if err := c.transport.Close(); err != nil && !isExpectedCloseError(err) {
		c.log().Warn("error closing transport", "error", err)
	}
	if c.hooks.closed != nil {
		role, user := c.binding()
		c.hooks.closed(c, role, user)
	}
}

// readLoop hands every accepted line to handle and returns when the stream
// ends. handle runs synchronously, so a connection's requests are processed
// in the order they arrived.
func (c *Conn) readLoop(handle func(line string)) {
	defer c.Close()

	for {
		line, err := c.transport.ReadLine()
		if err != nil {
			c.logReadError(err)
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		handle(line)
		if c.Closed() {
			return
		}
	}
}

func (c *Conn) logReadError(err error) {
	logger := c.log()
	switch {
	case c.Closed():
		logger.Debug("read stopped after close", "error", err)
	case errors.Is(err, ErrLineTooLong):
		logger.Warn("line too long; closing connection", "error", err)
	case isExpectedCloseError(err) || isWebSocketCloseError(err):
		logger.Info("client disconnected")
	default:
		logger.Warn("read error", "error", err)
	}
}

// startWriting claims the transport for the writer. Claiming twice is
// harmless. It fails once the connection is closed without a writer, in
// which case Close already released it.
func (c *Conn) startWriting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writing {
		return true
	}
	if c.closed {
		return false
	}
	c.writing = true
	return true
}

// writeLoop is the only goroutine that writes to the transport. After Close
// it flushes what is still queued and releases the transport.
func (c *Conn) writeLoop() {
	if !c.startWriting() {
		return
	}
	defer c.release()

	var keepalive <-chan time.Time
	p, canPing := c.transport.(pinger)
	if canPing {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		keepalive = ticker.C
	}

	for {
		select {
		case line := <-c.send:
			if err := c.transport.WriteLine(line); err != nil {
				if !isExpectedCloseError(err) {
					c.log().Warn("write failed; closing connection", "error", err)
				}
				c.Close()
				return
			}
			c.log().Debug("line sent", "line", line)
		case <-keepalive:
			if err := p.Ping(); err != nil {
				c.log().Debug("keepalive failed", "error", err)
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes the lines still queued at close. It gives up on the first
// error or once the write timeout has passed.
func (c *Conn) flush() {
	deadline := time.Now().Add(c.writeTimeout)
	for {
		select {
		case line := <-c.send:
			if time.Now().After(deadline) {
				c.log().Debug("dropping queued lines after close", "pending", len(c.send)+1)
				return
			}
			if err := c.transport.WriteLine(line); err != nil {
				c.log().Debug("flush after close failed", "error", err)
				return
			}
		default:
			return
		}
	}
}
