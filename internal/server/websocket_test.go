package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/linechat/internal/server"
)

const allowedOrigin = "http://localhost:8080"

func startHTTP(t *testing.T, srv *server.Server) string {
	t.Helper()
	ts := httptest.NewServer(server.SetupRoutes(srv))
	t.Cleanup(ts.Close)
	return ts.URL
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	header := http.Header{"Origin": {allowedOrigin}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func wsRequest(t *testing.T, conn *websocket.Conn, kind string, params map[string]string) frame {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(requestLine(kind, params))))
	return wsNext(t, conn)
}

func wsNext(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)

	var f frame
	require.NoError(t, json.Unmarshal(data, &f), string(data))
	f.raw = string(data)
	return f
}

func TestWebSocketClientsShareTheRoomWithTCP(t *testing.T) {
	srv := startServer(t, nil)
	url := wsURL(startHTTP(t, srv))

	alice := dialWS(t, url)
	resp := wsRequest(t, alice, "ru", map[string]string{"uname": "alice"})
	require.Equal(t, 1, resp.response(), resp.raw)

	aliceUpdates := dialWS(t, url)
	resp = wsRequest(t, aliceUpdates, "su", map[string]string{"main-user": "alice"})
	require.Equal(t, 1, resp.response(), resp.raw)

	bob, _ := register(t, srv, "bob")
	nu := wsNext(t, aliceUpdates)
	assert.Equal(t, "nu", nu.Update, nu.raw)

	resp = bob.request("sm", map[string]string{"message": "hello over tcp"})
	require.Equal(t, 1, resp.response(), resp.raw)

	nm := wsNext(t, aliceUpdates)
	assert.Equal(t, "nm", nm.Update, nm.raw)
	var pushed struct {
		Message messageBody `json:"message"`
	}
	decodeBody(t, nm, &pushed)
	assert.Equal(t, "hello over tcp", pushed.Message.Content)
}

func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	srv := startServer(t, nil)
	url := wsURL(startHTTP(t, srv))

	tests := []struct {
		name   string
		header http.Header
	}{
		{"missing origin", http.Header{}},
		{"foreign origin", http.Header{"Origin": {"http://evil.example"}}},
		{"malformed origin", http.Header{"Origin": {"not a url"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(url, tt.header)
			if conn != nil {
				_ = conn.Close()
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestWebSocketOversizedFrameClosesConnection(t *testing.T) {
	srv := startServer(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = 64
	})
	url := wsURL(startHTTP(t, srv))

	conn := dialWS(t, url)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 256))))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.False(t, isTimeout(err), "expected the server to close the connection")
}

func TestWebSocketEndpointRequiresGet(t *testing.T) {
	srv := startServer(t, nil)
	base := startHTTP(t, srv)

	resp, err := http.Post(base+"/ws", "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthHandler(t *testing.T) {
	srv := startServer(t, nil)
	_, _ = register(t, srv, "alice")
	_ = subscribe(t, srv, "alice")

	rec := httptest.NewRecorder()
	srv.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok","state":"listening","connections":2,"users":1}`, rec.Body.String())
}

func TestHealthHandlerAfterShutdown(t *testing.T) {
	srv, err := server.New(nil, quietLogger())
	require.NoError(t, err)
	require.NoError(t, srv.Shutdown(time.Second))

	rec := httptest.NewRecorder()
	srv.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"stopped"`)
}

func isTimeout(err error) bool {
	ne, ok := err.(interface{ Timeout() bool })
	return ok && ne.Timeout()
}
