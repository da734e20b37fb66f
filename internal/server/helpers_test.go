package server_test

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/linechat/internal/server"
)

const readTimeout = 2 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs a server on a loopback port and shuts it down with the test.
func startServer(t *testing.T, configure func(*server.Config)) *server.Server {
	t.Helper()

	cfg := server.NewConfig()
	cfg.Addr = "127.0.0.1:0"
	if configure != nil {
		configure(cfg)
	}

	srv, err := server.New(cfg, quietLogger())
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	t.Cleanup(func() {
		_ = srv.Shutdown(2 * time.Second)
		select {
		case err := <-serveErr:
			assert.ErrorIs(t, err, server.ErrServerClosed)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return after Shutdown")
		}
	})
	return srv
}

// frame is any line the server may send.
type frame struct {
	ResponseID *int            `json:"response-id"`
	Update     string          `json:"update-message"`
	Body       json.RawMessage `json:"body"`
	raw        string
}

func (f frame) response() int {
	if f.ResponseID == nil {
		return -2
	}
	return *f.ResponseID
}

type userBody struct {
	UID      int64  `json:"uid"`
	Username string `json:"uname"`
}

type messageBody struct {
	UID     int64  `json:"uid"`
	Content string `json:"content"`
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, srv *server.Server) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func requestLine(kind string, params map[string]string) string {
	req := map[string]any{"request-id": kind}
	if params != nil {
		req["params"] = params
	}
	data, _ := json.Marshal(req)
	return string(data)
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.conn, "%s\n", line)
	require.NoError(c.t, err)
}

func (c *testClient) request(kind string, params map[string]string) frame {
	c.t.Helper()
	c.send(requestLine(kind, params))
	return c.next()
}

func (c *testClient) next() frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err, "waiting for a line")

	var f frame
	require.NoError(c.t, json.Unmarshal([]byte(line), &f), line)
	f.raw = line
	return f
}

func (c *testClient) expectSilence(d time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(d)))
	line, err := c.reader.ReadString('\n')
	var netErr net.Error
	require.Truef(c.t, errors.As(err, &netErr) && netErr.Timeout(), "expected silence, got %q (%v)", line, err)
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		_, err := c.reader.ReadString('\n')
		if err == nil {
			continue
		}
		var netErr net.Error
		require.False(c.t, errors.As(err, &netErr) && netErr.Timeout(), "connection was not closed")
		return
	}
}

func decodeBody(t *testing.T, f frame, v any) {
	t.Helper()
	require.NotEmpty(t, f.Body, f.raw)
	require.NoError(t, json.Unmarshal(f.Body, v), f.raw)
}

// register opens a primary connection for name.
func register(t *testing.T, srv *server.Server, name string) (*testClient, userBody) {
	t.Helper()
	c := dial(t, srv)
	resp := c.request("ru", map[string]string{"uname": name})
	require.Equal(t, 1, resp.response(), resp.raw)

	var body struct {
		User userBody `json:"user"`
	}
	decodeBody(t, resp, &body)
	return c, body.User
}

// subscribe opens a supplemental connection for name.
func subscribe(t *testing.T, srv *server.Server, name string) *testClient {
	t.Helper()
	c := dial(t, srv)
	resp := c.request("su", map[string]string{"main-user": name})
	require.Equal(t, 1, resp.response(), resp.raw)
	return c
}
