// Package entrypoint wires each worker's collaborators from its loaded
// Config and runs one batch, so cmd/strategy, cmd/executor, and the local
// cmd/replay harness share exactly one path from config to pipeline
// (SPEC_FULL §6's "Local replay harness" requirement).
package entrypoint

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/vixroll/controlplane/internal/broker"
	"github.com/vixroll/controlplane/internal/config"
	"github.com/vixroll/controlplane/internal/events"
	"github.com/vixroll/controlplane/internal/executor"
	"github.com/vixroll/controlplane/internal/notify"
	"github.com/vixroll/controlplane/internal/retry"
	"github.com/vixroll/controlplane/internal/store"
	"github.com/vixroll/controlplane/internal/strategy"
)

// Response is the wire-level return value both workers produce (§6: a JSON
// object with exactly one field).
type Response struct {
	State string `json:"State"`
}

// RunStrategy builds the Evaluator's collaborators from cfg and runs batch
// through it.
func RunStrategy(ctx context.Context, cfg *config.StrategyConfig, batch events.Batch, logger *log.Logger) (Response, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[strategy] ", log.LstdFlags)
	}

	st, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return Response{State: "ERROR"}, fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	ledger, err := store.OpenLedger(filepath.Join(cfg.DebugFolder, cfg.RollFile))
	if err != nil {
		return Response{State: "ERROR"}, fmt.Errorf("open ledger: %w", err)
	}

	evaluator := strategy.NewEvaluator(st, ledger, strategy.Config{
		StdSize:      cfg.StdSize,
		MaxRoll:      cfg.MaxRoll,
		StopDistance: cfg.StopDistance,
		BackTest:     cfg.BackTest,
		Broker:       config.DefaultBroker,
	}, nil, logger)

	result, err := evaluator.Run(ctx, batch)
	if err != nil {
		return Response{State: "ERROR"}, err
	}

	logger.Printf("strategy: %d orders created, %d skipped", len(result.OrdersCreated), len(result.Skipped))
	return Response{State: "OK"}, nil
}

// RunExecutor builds the Scheduler's collaborators from cfg and runs batch
// through it.
func RunExecutor(ctx context.Context, cfg *config.ExecutorConfig, batch events.Batch, logger *log.Logger) (Response, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[executor] ", log.LstdFlags)
	}

	st, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return Response{State: "ERROR"}, fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	igClient := broker.NewClient(cfg.IGURL, cfg.APIKey, cfg.Identifier, cfg.Password)
	circuitBreaker := broker.NewCircuitBreakerBroker(igClient)

	retryCfg := retry.DefaultConfig
	if cfg.Retry.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.Retry.MaxRetries
	}
	if cfg.Retry.InitialBackoffSeconds > 0 {
		retryCfg.InitialBackoff = time.Duration(cfg.Retry.InitialBackoffSeconds) * time.Second
	}
	if cfg.Retry.MaxBackoffSeconds > 0 {
		retryCfg.MaxBackoff = time.Duration(cfg.Retry.MaxBackoffSeconds) * time.Second
	}
	retryClient := retry.NewClient(logger, retryCfg)

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.EmailSMTP != "" {
		notifier = notify.NewSMTPNotifier(cfg.EmailSMTP, cfg.EmailUser, cfg.EmailAddress, cfg.EmailUser, cfg.EmailPassword)
	}

	scheduler := executor.NewScheduler(st, circuitBreaker, notifier, retryClient, config.DefaultBroker)

	report, err := scheduler.Run(ctx, batch)
	if err != nil {
		return Response{State: "ERROR"}, err
	}

	logger.Printf("executor: %d submitted, %d rejected, %d invalid, %d errors",
		len(report.Submitted), len(report.Rejected), len(report.Invalid), len(report.Errors))
	return Response{State: "OK"}, nil
}
