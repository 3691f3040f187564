package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/taskyard/overseer/internal/config"
	"github.com/taskyard/overseer/internal/guardian"
	"github.com/taskyard/overseer/internal/httpapi"
	"github.com/taskyard/overseer/internal/logbuf"
	"github.com/taskyard/overseer/internal/registry"
	"github.com/taskyard/overseer/internal/store"
	"github.com/taskyard/overseer/internal/supervisor"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the overseerd HTTP control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	accessLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	st, err := store.New(cfg.BaseDir, logger)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}

	reg := registry.New()
	logBufs := logbuf.NewRegistry()
	sup := supervisor.New(st, reg, logBufs, cfg.BaseDir, logger)
	guard := guardian.New(st, reg, sup, logger)

	if recovered, err := sup.Recover(ctx); err != nil {
		logger.Error("recover live tasks failed", "error", err)
	} else if recovered > 0 {
		logger.Info("recovered live tasks from previous run", "count", recovered)
	}

	router := httpapi.NewRouter(st, sup, guard, accessLogger)

	listener, addr, err := listenWithFallback(cfg.Port, cfg.PortScanRange)
	if err != nil {
		return fmt.Errorf("bind listener: %w", err)
	}

	server := &http.Server{Handler: router}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	guardCtx, cancelGuard := context.WithCancel(ctx)
	go guard.Run(guardCtx)

	logger.Info("overseerd listening", "addr", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serveErr:
		cancelGuard()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-quit:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancelGuard()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	sup.Shutdown()
	logger.Info("overseerd stopped")
	return nil
}

// listenWithFallback binds preferredPort, scanning upward through
// scanRange adjacent ports on EADDRINUSE.
func listenWithFallback(preferredPort, scanRange int) (net.Listener, string, error) {
	var lastErr error
	for offset := 0; offset <= scanRange; offset++ {
		port := preferredPort + offset
		addr := fmt.Sprintf(":%d", port)
		l, err := net.Listen("tcp", addr)
		if err == nil {
			return l, addr, nil
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("no free port in range %d-%d: %w", preferredPort, preferredPort+scanRange, lastErr)
}
