// Package main runs the pregelflow HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/flowgraph/pregelflow/internal/config"
	"github.com/flowgraph/pregelflow/internal/infrastructure/logging"
	"github.com/flowgraph/pregelflow/internal/infrastructure/metrics"
	"github.com/flowgraph/pregelflow/pkg/flowgraph"
)

func main() {
	configPath := flag.String("config", "", "configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "flowgraph-server: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Log.Apply()
	logger := logging.Named("server")
	defer func() { _ = logger.Sync() }()

	rt, err := flowgraph.New(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      NewServer(rt, metrics.Default().Handler()).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("store", cfg.Store.Driver))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
