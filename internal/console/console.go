// Package console reads operator commands, one per line, from a local
// stream such as stdin.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
)

// Status is what the status command reports.
type Status struct {
	State       string
	Connections int
	Users       int
}

// Controller is the part of the running service the console drives.
type Controller interface {
	Stop()
	Status() Status
}

// CommandFunc handles one command. Returning stop ends Run.
type CommandFunc func(c *Console, args []string) (stop bool)

// Console dispatches operator commands to a Controller.
type Console struct {
	in       io.Reader
	ctl      Controller
	logger   *slog.Logger
	commands map[string]CommandFunc
}

// New creates a Console reading from in.
func New(in io.Reader, ctl Controller, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Console{
		in:     in,
		ctl:    ctl,
		logger: logger.With("component", "console"),
	}
	c.registerCommands()
	return c
}

func (c *Console) registerCommands() {
	stop := func(c *Console, _ []string) bool {
		c.logger.Info("stop requested")
		c.ctl.Stop()
		return true
	}

	c.commands = map[string]CommandFunc{
		"exit": stop,
		"stop": stop,
		"status": func(c *Console, _ []string) bool {
			st := c.ctl.Status()
			c.logger.Info("status", "state", st.State, "connections", st.Connections, "users", st.Users)
			return false
		},
		"help": func(c *Console, _ []string) bool {
			c.logger.Info("available commands", "commands", strings.Join(c.Commands(), ", "))
			return false
		},
	}
}

// Commands lists the known command names in sorted order.
func (c *Console) Commands() []string {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle runs a single command line and reports whether it asked to stop.
func (c *Console) Handle(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	name := strings.ToLower(fields[0])
	c.logger.Info("command", "line", strings.TrimSpace(line))

	cmd, ok := c.commands[name]
	if !ok {
		c.logger.Warn("unknown command; type help for the list", "command", name)
		return false
	}
	return cmd(c, fields[1:])
}

// Run reads commands until a stop command, end of input or ctx is done.
// Reaching end of input does not stop the controller.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read console: %w", err)
			}
			return nil
		case line := <-lines:
			if c.Handle(line) {
				return nil
			}
		}
	}
}
