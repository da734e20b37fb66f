package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/linechat/internal/console"
	"github.com/Tyrowin/linechat/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	noConsole := flag.Bool("no-console", false, "do not read operator commands from stdin")
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, logger, !*noConsole); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func newLogger(cfg *server.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(cfg *server.Config, logger *slog.Logger, withConsole bool) error {
	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(); err != nil && !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})

	var httpServer *http.Server
	if cfg.WebSocketAddr != "" {
		httpServer = server.CreateServer(cfg.WebSocketAddr, server.SetupRoutes(srv))
		g.Go(func() error {
			logger.Info("websocket listener started", "addr", cfg.WebSocketAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if withConsole {
		ctl := serverControl{srv: srv, stop: stop}
		go func() {
			if err := console.New(os.Stdin, ctl, logger).Run(gctx); err != nil {
				logger.Warn("console stopped", "error", err)
			}
		}()
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown requested")

		var errs []error
		if httpServer != nil {
			errs = append(errs, server.ShutdownHTTPServer(httpServer, cfg.ShutdownTimeout, logger))
		}
		errs = append(errs, srv.Shutdown(cfg.ShutdownTimeout))
		return errors.Join(errs...)
	})

	return g.Wait()
}

// serverControl lets the console stop the process and report counts.
type serverControl struct {
	srv  *server.Server
	stop context.CancelFunc
}

func (c serverControl) Stop() { c.stop() }

func (c serverControl) Status() console.Status {
	return console.Status{
		State:       c.srv.State().String(),
		Connections: c.srv.Connections(),
		Users:       c.srv.Users().Len(),
	}
}
