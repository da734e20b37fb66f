package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrLineTooLong is returned by ReadLine when a client line exceeds the
// configured maximum size. The connection is closed afterwards.
var ErrLineTooLong = errors.New("server: line exceeds maximum size")

// Transport moves whole lines between the server and one client. ReadLine
// is only called from the connection's reader goroutine and WriteLine only
// from its writer goroutine; Close may be called from anywhere.
type Transport interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
}

// pinger is implemented by transports that need keepalive frames.
type pinger interface {
	Ping() error
}

type lineTransport struct {
	conn         net.Conn
	scanner      *bufio.Scanner
	writer       *bufio.Writer
	writeTimeout time.Duration
	maxLineSize  int
}

// NewLineTransport frames a byte stream as newline-terminated lines. Both
// "\n" and "\r\n" terminators are accepted.
func NewLineTransport(conn net.Conn, maxLineSize int, writeTimeout time.Duration) Transport {
	if maxLineSize <= 0 {
		maxLineSize = defaultMaxMessageSize
	}
	scanner := bufio.NewScanner(conn)
	initial := 4096
	if maxLineSize < initial {
		initial = maxLineSize
	}
	// Room for the terminator so a line of exactly maxLineSize bytes passes.
	scanner.Buffer(make([]byte, 0, initial), maxLineSize+2)

	return &lineTransport{
		conn:         conn,
		scanner:      scanner,
		writer:       bufio.NewWriter(conn),
		writeTimeout: writeTimeout,
		maxLineSize:  maxLineSize,
	}
}

func (t *lineTransport) ReadLine() (string, error) {
	if t.scanner.Scan() {
		line := t.scanner.Text()
		if len(line) > t.maxLineSize {
			return "", fmt.Errorf("%w: %d bytes", ErrLineTooLong, len(line))
		}
		return line, nil
	}
	err := t.scanner.Err()
	if err == nil {
		return "", io.EOF
	}
	if errors.Is(err, bufio.ErrTooLong) {
		return "", fmt.Errorf("%w: limit %d bytes", ErrLineTooLong, t.maxLineSize)
	}
	return "", err
}

func (t *lineTransport) WriteLine(line string) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	if _, err := t.writer.WriteString(line); err != nil {
		return err
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return err
	}
	return t.writer.Flush()
}

func (t *lineTransport) Close() error {
	return t.conn.Close()
}

func (t *lineTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
