package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/linechat/internal/chat"
	"github.com/Tyrowin/linechat/internal/eventbus"
	"github.com/Tyrowin/linechat/internal/protocol"
	"github.com/Tyrowin/linechat/internal/registry"
	"github.com/Tyrowin/linechat/internal/uid"
)

// ConnectEvent is published after a connection joined the set.
type ConnectEvent struct {
	Conn *Conn
}

// LineEvent carries one inbound line.
type LineEvent struct {
	Conn *Conn
	Line string
}

// DisconnectEvent is published once per connection after its transport was
// released. Role and User are the binding at the moment it closed.
type DisconnectEvent struct {
	Conn *Conn
	Role Role
	User *chat.User
}

// Server accepts client streams and routes their lines through the event
// bus to the protocol handlers.
type Server struct {
	cfg    *Config
	logger *slog.Logger

	ids     *uid.Generator
	users   *registry.Registry
	hub     *Hub
	origins *originPolicy
	now     func() time.Time

	bus          *eventbus.Bus
	connected    *eventbus.Topic[ConnectEvent]
	lines        *eventbus.Topic[LineEvent]
	disconnected *eventbus.Topic[DisconnectEvent]

	state        atomic.Int32
	mu           sync.Mutex
	listener     net.Listener
	closing      bool
	closingCh    chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	stopped      chan struct{}
	shutdownErr  error
}

// New builds a Server from cfg. A nil cfg uses defaults and a nil logger
// uses slog.Default().
func New(cfg *Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	sanitized := sanitizeConfig(*cfg)
	cfg = &sanitized
	if logger == nil {
		logger = slog.Default()
	}

	exec, err := eventbus.NewExecutor(cfg.Dispatch.Strategy, cfg.Dispatch.Workers)
	if err != nil {
		return nil, fmt.Errorf("dispatch executor: %w", err)
	}
	bus := eventbus.New(eventbus.WithExecutor(exec), eventbus.WithLogger(logger))
	ids := uid.NewGenerator()

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		ids:          ids,
		users:        registry.New(ids, logger),
		hub:          newHub(logger),
		origins:      newOriginPolicy(cfg.AllowedOrigins, logger),
		now:          time.Now,
		bus:          bus,
		connected:    eventbus.NewTopic[ConnectEvent](bus, "connected"),
		lines:        eventbus.NewTopic[LineEvent](bus, "line"),
		disconnected: eventbus.NewTopic[DisconnectEvent](bus, "disconnected"),
		closingCh:    make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	s.connected.Subscribe(func(e ConnectEvent) {
		e.Conn.log().Info("client connected", "connections", s.hub.Len())
	})
	s.lines.Subscribe(func(e LineEvent) {
		s.dispatch(e.Conn, e.Line)
	})
	s.disconnected.Subscribe(s.handleDisconnect)

	return s, nil
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config { return *s.cfg }

// Users exposes the registry.
func (s *Server) Users() *registry.Registry { return s.users }

// Connections returns the number of live connections.
func (s *Server) Connections() int { return s.hub.Len() }

// State returns the lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

// OnDisconnect registers an additional listener for closed connections.
func (s *Server) OnDisconnect(fn func(DisconnectEvent)) (unsubscribe func()) {
	return s.disconnected.Subscribe(fn)
}

// BroadcastExcluding pushes update to every supplemental connection not
// bound to excluded.
func (s *Server) BroadcastExcluding(excluded *chat.User, update protocol.Update) int {
	return s.hub.BroadcastExcluding(excluded, update)
}

// Listen binds the configured TCP address.
func (s *Server) Listen() error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateListening)) {
		if st := s.State(); st == StateShuttingDown || st == StateStopped {
			return ErrServerClosed
		}
		return ErrAlreadyListening
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.state.Store(int32(StateIdle))
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown, then returns ErrServerClosed.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server: Serve called before Listen")
	}

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			backoff = nextBackoff(backoff)
			s.logger.Warn("accept failed; retrying", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-s.closingCh:
				return ErrServerClosed
			}
			continue
		}
		backoff = 0

		transport := NewLineTransport(conn, s.cfg.MaxMessageSize, s.cfg.WriteTimeout)
		if _, err := s.Adopt(transport); err != nil {
			s.logger.Warn("connection refused", "remote", transport.RemoteAddr(), "error", err)
		}
	}
}

// ListenAndServe combines Listen and Serve.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// Adopt attaches an already established transport to the server. The
// transport is closed when the connection cannot be accepted.
func (s *Server) Adopt(t Transport) (*Conn, error) {
	c := newConn(t, s.cfg, s.logger, connHooks{
		detach: s.detach,
		closed: s.closed,
	})

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = t.Close()
		return nil, ErrServerClosed
	}
	if _, ok := s.hub.add(c, s.cfg.MaxConnections); !ok {
		s.mu.Unlock()
		_ = t.Close()
		return nil, ErrTooManyConnections
	}
	s.wg.Add(2)
	s.mu.Unlock()

	// The writer owns the transport from here on, even before it runs.
	c.startWriting()
	s.connected.Publish(ConnectEvent{Conn: c})

	go func() {
		defer s.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer s.wg.Done()
		c.readLoop(func(line string) {
			s.lines.PublishAndWait(LineEvent{Conn: c, Line: line})
		})
	}()

	return c, nil
}

func (s *Server) detach(c *Conn) {
	if n, ok := s.hub.remove(c); ok {
		c.log().Info("client removed", "connections", n)
	}
}

func (s *Server) closed(c *Conn, role Role, user *chat.User) {
	s.disconnected.Publish(DisconnectEvent{Conn: c, Role: role, User: user})
}

// handleDisconnect releases the username of a departed primary connection
// and tells everyone else about it.
func (s *Server) handleDisconnect(e DisconnectEvent) {
	if e.Role != RolePrimary || e.User == nil {
		return
	}
	s.users.Remove(e.User.Username)
	s.hub.BroadcastExcluding(e.User, protocol.UserDepartedUpdate(*e.User))
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Shutdown stops accepting, closes every connection and waits up to timeout
// for their goroutines. Later calls wait for the first one to finish and
// return its result.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(timeout)
		close(s.stopped)
	})
	<-s.stopped
	return s.shutdownErr
}

func (s *Server) shutdown(timeout time.Duration) error {
	s.logger.Info("initiating server shutdown")
	s.state.Store(int32(StateShuttingDown))

	s.mu.Lock()
	s.closing = true
	close(s.closingCh)
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Warn("error closing listener", "error", err)
		}
	}

	conns := s.hub.snapshot()
	for _, c := range conns {
		c.Close()
	}
	s.logger.Info("closed client connections", "count", len(conns))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		s.logger.Info("server shutdown completed")
	case <-time.After(timeout):
		s.logger.Warn("shutdown timeout reached; some goroutines may still be running")
		err = context.DeadlineExceeded
	}

	s.bus.Close()
	s.state.Store(int32(StateStopped))
	return err
}

// Stopped is closed once Shutdown has finished.
func (s *Server) Stopped() <-chan struct{} { return s.stopped }
