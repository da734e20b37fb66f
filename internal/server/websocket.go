package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// wsTransport carries one protocol line per WebSocket text frame.
type wsTransport struct {
	conn         *websocket.Conn
	remote       string
	writeTimeout time.Duration
	maxLineSize  int
}

// NewWebSocketTransport wraps an upgraded connection. Frames larger than
// maxLineSize fail the read and close the connection.
func NewWebSocketTransport(conn *websocket.Conn, remote string, maxLineSize int, writeTimeout time.Duration) Transport {
	if maxLineSize <= 0 {
		maxLineSize = defaultMaxMessageSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	if remote == "" {
		remote = conn.RemoteAddr().String()
	}
	conn.SetReadLimit(int64(maxLineSize))
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	return &wsTransport{
		conn:         conn,
		remote:       remote,
		writeTimeout: writeTimeout,
		maxLineSize:  maxLineSize,
	}
}

func (t *wsTransport) ReadLine() (string, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return "", fmt.Errorf("%w: limit %d bytes", ErrLineTooLong, t.maxLineSize)
			}
			return "", err
		}
		if kind != websocket.TextMessage {
			continue
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
}

func (t *wsTransport) WriteLine(line string) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

// Ping is called from the writer goroutine only.
func (t *wsTransport) Ping() error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

func (t *wsTransport) Close() error {
	// WriteControl may run concurrently with the writer goroutine.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string {
	return t.remote
}

func isWebSocketCloseError(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived)
}
