package console_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/linechat/internal/console"
)

type fakeController struct {
	stops    atomic.Int32
	statuses atomic.Int32
}

func (f *fakeController) Stop() { f.stops.Add(1) }

func (f *fakeController) Status() console.Status {
	f.statuses.Add(1)
	return console.Status{State: "listening", Connections: 2, Users: 1}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandle(t *testing.T) {
	tests := []struct {
		line       string
		wantStop   bool
		wantStops  int32
		wantStatus int32
	}{
		{"exit", true, 1, 0},
		{"  EXIT  ", true, 1, 0},
		{"stop", true, 1, 0},
		{"status", false, 0, 1},
		{"help", false, 0, 0},
		{"reboot", false, 0, 0},
		{"", false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ctl := &fakeController{}
			c := console.New(strings.NewReader(""), ctl, quietLogger())

			assert.Equal(t, tt.wantStop, c.Handle(tt.line))
			assert.Equal(t, tt.wantStops, ctl.stops.Load())
			assert.Equal(t, tt.wantStatus, ctl.statuses.Load())
		})
	}
}

func TestRunStopsOnExit(t *testing.T) {
	ctl := &fakeController{}
	in := strings.NewReader("status\nunknown\nexit\nstatus\n")
	c := console.New(in, ctl, quietLogger())

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, int32(1), ctl.stops.Load())
	assert.Equal(t, int32(1), ctl.statuses.Load(), "commands after exit are not run")
}

func TestRunReturnsAtEndOfInput(t *testing.T) {
	ctl := &fakeController{}
	c := console.New(strings.NewReader("status\n"), ctl, quietLogger())

	require.NoError(t, c.Run(context.Background()))
	assert.Zero(t, ctl.stops.Load())
}

func TestRunReturnsWhenContextIsDone(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := console.New(pr, &fakeController{}, quietLogger())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("tty gone") }

func TestRunReportsReadErrors(t *testing.T) {
	c := console.New(failingReader{}, &fakeController{}, quietLogger())
	assert.ErrorContains(t, c.Run(context.Background()), "tty gone")
}

func TestCommands(t *testing.T) {
	c := console.New(strings.NewReader(""), &fakeController{}, quietLogger())
	assert.Equal(t, []string{"exit", "help", "status", "stop"}, c.Commands())
}
