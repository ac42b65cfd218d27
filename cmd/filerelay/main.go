package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/filerelay/internal/config"
	"github.com/wilsonzlin/filerelay/internal/connhandler"
	"github.com/wilsonzlin/filerelay/internal/httpserver"
	"github.com/wilsonzlin/filerelay/internal/metrics"
	"github.com/wilsonzlin/filerelay/internal/ratelimit"
	"github.com/wilsonzlin/filerelay/internal/relay"
	"github.com/wilsonzlin/filerelay/internal/sweeper"
	"github.com/wilsonzlin/filerelay/internal/throttle"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting filerelay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_sessions", cfg.MaxSessions,
		"max_file_size", cfg.MaxFileSize,
		"session_timeout", cfg.SessionTimeout,
		"ping_interval", cfg.PingInterval,
		"chunk_size", cfg.ChunkSize,
		"max_message_length", cfg.MaxMessageLength,
		"max_connections_per_user", cfg.MaxConnectionsPerUser,
		"sweep_interval", cfg.SweepInterval,
	)

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	build := httpserver.BuildInfo{Commit: commit, BuildTime: builtAt}

	m := metrics.New()
	registry := relay.NewSessionRegistry(cfg, m, ratelimit.RealClock{})
	th := throttle.New(cfg.MaxConnectionsPerUser)

	sw := sweeper.New(registry, m, ratelimit.RealClock{}, logger, cfg.SessionTimeout)
	if cfg.SweepInterval > 0 {
		sw.Interval = cfg.SweepInterval
	}

	srv := httpserver.New(cfg, logger, build, m, registry)

	connHandler := connhandler.New(cfg, registry, th, m, logger)
	srv.Mount("/ws/{sessionID}/{role}/{userID}", connHandler)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sw.Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		stopSweep()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
