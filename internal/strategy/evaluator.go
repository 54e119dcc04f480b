// Package strategy implements the Strategy Evaluator: the VIX roll signal
// that decides whether to open, hold, or close a front-month VIX futures
// position (SPEC_FULL §4.G).
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/vixroll/controlplane/internal/calendar"
	"github.com/vixroll/controlplane/internal/events"
	"github.com/vixroll/controlplane/internal/models"
	"github.com/vixroll/controlplane/internal/retry"
	"github.com/vixroll/controlplane/internal/risk"
	"github.com/vixroll/controlplane/internal/store"
	"github.com/vixroll/controlplane/internal/util"
)

// rollTick is the roll computation's rounding granularity (SPEC_FULL §4.G
// step 4: "round(..., 2)").
const rollTick = 0.01

// frontRoot is the CME root symbol for VIX futures.
const frontRoot = "VX"

// vixSymbol is the spot index quoted alongside the front future.
const vixSymbol = "VIX"

// Config carries the strategy's tunables, loaded from config.StrategyConfig.
type Config struct {
	StdSize      float64
	MaxRoll      float64
	StopDistance *float64
	BackTest     bool
	Broker       string
}

// Evaluator runs the roll-signal pipeline over a batch of inserted quotes.
type Evaluator struct {
	Store  *store.Store
	Ledger *store.Ledger
	Config Config
	Retry  *retry.Client
	logger *log.Logger
}

// NewEvaluator builds an Evaluator. retryClient may be nil, in which case
// retry.DefaultConfig governs Store reads, matching the executor's Scheduler.
func NewEvaluator(st *store.Store, ledger *store.Ledger, cfg Config, retryClient *retry.Client, logger *log.Logger) *Evaluator {
	if logger == nil {
		logger = log.Default()
	}
	if retryClient == nil {
		retryClient = retry.NewClient(logger)
	}
	return &Evaluator{Store: st, Ledger: ledger, Config: cfg, Retry: retryClient, logger: logger}
}

// Result summarizes one Run invocation.
type Result struct {
	OrdersCreated []string
	Skipped       []string
}

// Run evaluates every inserted quote in batch.
func (e *Evaluator) Run(ctx context.Context, batch events.Batch) (Result, error) {
	var result Result

	quotes, err := batch.InsertedQuotes()
	if err != nil {
		return result, fmt.Errorf("decode batch: %w", err)
	}

	for _, q := range quotes {
		if err := e.evaluateQuote(ctx, q, &result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// evaluateQuote implements steps 1-9 of SPEC_FULL §4.G for a single inserted
// quote.
func (e *Evaluator) evaluateQuote(ctx context.Context, q models.Quote, result *Result) error {
	date, err := time.Parse("20060102", q.Date)
	if err != nil {
		return fmt.Errorf("parse quote date %q: %w", q.Date, err)
	}

	frontFuture := calendar.FrontMonthSymbol(frontRoot, date)
	if q.Symbol != vixSymbol && q.Symbol != frontFuture {
		return nil
	}

	vixQuote, ok, err := e.optionalQuote(ctx, vixSymbol, q.Date)
	if err != nil {
		return err
	}
	if !ok {
		result.Skipped = append(result.Skipped, "awaiting VIX quote for "+q.Date)
		return nil
	}
	futureQuote, ok, err := e.optionalQuote(ctx, frontFuture, q.Date)
	if err != nil {
		return err
	}
	if !ok {
		result.Skipped = append(result.Skipped, "awaiting "+frontFuture+" quote for "+q.Date)
		return nil
	}

	expiry := calendar.VixExpiryOnOrAfter(date)
	daysLeft := calendar.DaysBetween(date, expiry)
	if daysLeft <= 0 {
		return nil
	}

	roll := util.RoundToTick((futureQuote.Close-vixQuote.Close)/float64(daysLeft), rollTick)

	if e.Ledger.Seen(q.Date, frontFuture) {
		result.Skipped = append(result.Skipped, "already evaluated "+q.Date+" "+frontFuture)
		return nil
	}

	maturity := expiry.Format("200601")
	openPos, err := retry.Do(ctx, e.Retry, "net position", func(ctx context.Context) (float64, error) {
		return e.Store.NetPosition(ctx, frontRoot, e.Config.Broker, maturity)
	})
	if err != nil {
		return fmt.Errorf("net position: %w", err)
	}

	if openPos != 0 && daysLeft == 1 {
		if err := e.emitClose(ctx, frontFuture, maturity, openPos, futureQuote.Close, date, result); err != nil {
			return err
		}
	}

	if daysLeft > 1 && math.Abs(roll) >= e.Config.MaxRoll {
		if err := e.emitEntry(ctx, frontFuture, maturity, roll, futureQuote.Close, vixQuote.Close, openPos, date, result); err != nil {
			return err
		}
	}

	line := fmt.Sprintf("%s,%s,%g,%g,%d,%g", q.Date, frontFuture, futureQuote.Close, vixQuote.Close, daysLeft, roll)
	if err := e.Ledger.Record(q.Date, frontFuture, line); err != nil {
		return fmt.Errorf("record ledger: %w", err)
	}
	return nil
}

// optionalQuote fetches a quote, translating ErrNoRows into (nil, false, nil)
// since a missing counterpart quote is a legitimate no-op, not a failure.
func (e *Evaluator) optionalQuote(ctx context.Context, symbol, date string) (*models.Quote, bool, error) {
	q, err := retry.Do(ctx, e.Retry, "get quote", func(ctx context.Context) (*models.Quote, error) {
		return e.Store.GetQuote(ctx, symbol, date)
	})
	if errors.Is(err, store.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get quote %s/%s: %w", symbol, date, err)
	}
	return q, true, nil
}

// emitClose flattens an existing position the day before expiry.
func (e *Evaluator) emitClose(ctx context.Context, frontFuture, maturity string, openPos, price float64, date time.Time, result *Result) error {
	side := models.SideSell
	if openPos < 0 {
		side = models.SideBuy
	}
	return e.createOrder(ctx, frontRoot, maturity, models.OrderDetail{
		Side:    side,
		Size:    math.Abs(openPos),
		OrdType: models.OrdTypeMarket,
	}, models.ReasonClose, price, date, result)
}

// emitEntry opens a new position when the roll signal clears MaxRoll and the
// resulting position would not breach the security's MaxPosition.
func (e *Evaluator) emitEntry(ctx context.Context, frontFuture, maturity string, roll, futureClose, vixClose, openPos float64, date time.Time, result *Result) error {
	side := models.SideSell
	if futureClose-vixClose < 0 {
		side = models.SideBuy
	}

	maxPosition := math.MaxFloat64
	sec, err := retry.Do(ctx, e.Retry, "get security", func(ctx context.Context) (*models.Security, error) {
		return e.Store.GetSecurity(ctx, frontRoot, e.Config.Broker)
	})
	if err != nil && !errors.Is(err, store.ErrNoRows) {
		return fmt.Errorf("get security: %w", err)
	}
	if sec != nil {
		maxPosition = sec.Risk.MaxPosition
	}

	if risk.WouldBreachPosition(side, e.Config.StdSize, openPos, maxPosition) {
		result.Skipped = append(result.Skipped, frontFuture+" entry would breach max position")
		return nil
	}

	return e.createOrder(ctx, frontRoot, maturity, models.OrderDetail{
		Side:         side,
		Size:         e.Config.StdSize,
		OrdType:      models.OrdTypeMarket,
		StopDistance: e.Config.StopDistance,
	}, models.ReasonOpen, futureClose, date, result)
}

// createOrder writes the order via Store.CreateOrder, pre-filling it as
// FILLED when the evaluator runs in back-test mode (SPEC_FULL §4.G).
func (e *Evaluator) createOrder(ctx context.Context, symbol, maturity string, detail models.OrderDetail, reason models.StrategyReason, price float64, date time.Time, result *Result) error {
	draft := models.OrderDraft{
		Symbol:      symbol,
		Broker:      e.Config.Broker,
		Maturity:    maturity,
		ProductType: "FUTURE",
		Order:       detail,
		Strategy:    models.OrderStrategy{Name: "vix-roll", Reason: reason},
	}

	if e.Config.BackTest {
		draft.BackTestTrade = &models.Trade{
			FillTime:   date,
			Side:       detail.Side,
			FilledSize: detail.Size,
			Price:      price,
			Broker:     models.TradeBrokerRef{Name: e.Config.Broker, RefType: "backtest", Ref: "backtest"},
		}
	}

	order, err := e.Store.CreateOrder(ctx, draft)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	e.logger.Printf("strategy: created %s %s order %s for %s", reason, detail.Side, order.OrderID, symbol)
	result.OrdersCreated = append(result.OrdersCreated, order.OrderID)
	return nil
}
