package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/vercel/ai-chatbot-sub000/log"
	"github.com/vercel/ai-chatbot-sub000/types"
)

// Exit codes of serve.
const (
	exitConfig  = 2
	exitStartup = 3
)

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the chat streaming HTTP service",
		Description: `Serves POST /chats/{chatId}/stream and the resume routes until
SIGINT or SIGTERM. On shutdown the listener stops accepting requests,
in-flight streams drain for server.shutdown_grace, and background
continuations still running after that are abandoned.`,
		Flags:  ServiceFlags(),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load config: %v", err), exitConfig)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfig)
	}

	logger := log.New("chatstream", os.Stderr, log.Level(cfg.Log.Level))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to start: %v", err), exitStartup)
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		_ = svc.Close(context.Background())
		return cli.Exit(fmt.Sprintf("failed to listen on %s: %v", cfg.Server.Listen, err), exitStartup)
	}
	return serve(ctx, svc, ln)
}

// serve runs svc on ln until ctx is done, then shuts down within the
// configured grace period.
func serve(ctx context.Context, svc *service, ln net.Listener) error {
	cfg := svc.config
	httpServer := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Duration,
	}

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	if interval := cfg.Registry.SweepInterval.Duration; interval > 0 {
		go svc.registry.RunSweeper(sweepCtx, interval)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Serve(ln) }()

	svc.logger.Sugar().Infof("chatstream %s listening on %s (provider=%s store=%s policy=%s)",
		types.Version, ln.Addr(), cfg.Provider.Kind, svc.store.Backend(), svc.policy.Name())

	var serveErr error
	select {
	case <-ctx.Done():
		svc.logger.Info("shutting down", map[string]any{"grace": cfg.Server.ShutdownGrace.String()})
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace.Duration)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		svc.logger.Sugar().Warnf("graceful shutdown incomplete after %s, closing connections: %v", cfg.Server.ShutdownGrace, err)
		_ = httpServer.Close()
	}
	if err := svc.Close(shutdownCtx); err != nil {
		svc.logger.Warn("shutdown finished with errors", map[string]any{"error": err.Error()})
	}
	if serveErr != nil {
		return cli.Exit(fmt.Sprintf("server failed: %v", serveErr), exitStartup)
	}
	return nil
}
