package server

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeTransport(t *testing.T, maxLine int) (Transport, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		_ = serverSide.Close()
		_ = clientSide.Close()
	})
	return NewLineTransport(serverSide, maxLine, time.Second), clientSide
}

func TestLineTransportReadsLines(t *testing.T) {
	tr, client := pipeTransport(t, 64)

	go func() {
		_, _ = io.WriteString(client, "first\nsecond\r\n"+strings.Repeat("y", 64)+"\n")
		_ = client.Close()
	}()

	for _, want := range []string{"first", "second", strings.Repeat("y", 64)} {
		line, err := tr.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}

	_, err := tr.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineTransportRejectsLongLines(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"one byte over", strings.Repeat("x", 65) + "\n"},
		{"far over without newline", strings.Repeat("x", 500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, client := pipeTransport(t, 64)
			go func() { _, _ = io.WriteString(client, tt.line) }()

			_, err := tr.ReadLine()
			assert.ErrorIs(t, err, ErrLineTooLong)
		})
	}
}

func TestLineTransportWritesLines(t *testing.T) {
	tr, client := pipeTransport(t, 64)
	reader := bufio.NewReader(client)

	go func() {
		_ = tr.WriteLine(`{"response-id":1}`)
	}()

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "{\"response-id\":1}\n", line)
}

func TestLineTransportWriteTimesOut(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	tr := NewLineTransport(serverSide, 64, 20*time.Millisecond)

	// Nobody reads the other end of the pipe.
	err := tr.WriteLine("stuck")
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}
