// Package main runs the optional read-only Dashboard (SPEC_FULL §4.J) as a
// small standalone long-lived process, separate from the two Lambda-shaped
// workers: it is the one component in this system meant to stay up and
// serve HTTP rather than process one batch and exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vixroll/controlplane/internal/config"
	"github.com/vixroll/controlplane/internal/dashboard"
	"github.com/vixroll/controlplane/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadDashboardConfig()
	if err != nil {
		logger.WithError(err).Error("loading dashboard config")
		return 1
	}

	st, err := store.Open(cfg.StoreDSN)
	if err != nil {
		logger.WithError(err).Error("opening store")
		return 1
	}
	defer func() { _ = st.Close() }()

	ledger, err := store.OpenLedger(filepath.Join(cfg.DebugFolder, cfg.RollFile))
	if err != nil {
		logger.WithError(err).Error("opening ledger")
		return 1
	}

	keys := make([]dashboard.StoreKey, 0, len(cfg.Tracked))
	for _, k := range cfg.Tracked {
		keys = append(keys, dashboard.StoreKey{Symbol: k.Symbol, Broker: k.Broker, Maturity: k.Maturity})
	}
	backend := dashboard.NewStoreBackend(st, ledger, keys)

	srv := dashboard.NewServer(dashboard.Config{Port: cfg.Port}, backend, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("dashboard listening on %s", httpServer.Addr)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("dashboard server error")
			return 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("dashboard shutdown")
		return 1
	}
	return 0
}
