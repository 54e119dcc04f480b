// Package executor implements the Executor Scheduler: the batch pipeline
// that validates newly inserted orders against the security master, applies
// the risk gate, and dispatches surviving orders to the broker concurrently
// (SPEC_FULL §4.F).
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vixroll/controlplane/internal/broker"
	"github.com/vixroll/controlplane/internal/events"
	"github.com/vixroll/controlplane/internal/models"
	"github.com/vixroll/controlplane/internal/notify"
	"github.com/vixroll/controlplane/internal/retry"
	"github.com/vixroll/controlplane/internal/risk"
	"github.com/vixroll/controlplane/internal/store"
)

// batchDeadline bounds concurrent order dispatch; orders not settled by the
// deadline are left PENDING and picked up, or not, by a later invocation.
const batchDeadline = 10 * time.Second

// Scheduler runs one executor batch invocation end to end.
type Scheduler struct {
	Store      *store.Store
	Broker     broker.Broker
	Notifier   notify.Notifier
	Retry      *retry.Client
	BrokerName string
}

// NewScheduler builds a Scheduler. retryClient may be nil, in which case
// retry.DefaultConfig governs broker calls.
func NewScheduler(st *store.Store, brk broker.Broker, notifier notify.Notifier, retryClient *retry.Client, brokerName string) *Scheduler {
	if retryClient == nil {
		retryClient = retry.NewClient(nil)
	}
	return &Scheduler{Store: st, Broker: brk, Notifier: notifier, Retry: retryClient, BrokerName: brokerName}
}

// Run executes the pipeline in SPEC_FULL §4.F over batch and returns the
// report already sent through the Notifier.
func (s *Scheduler) Run(ctx context.Context, batch events.Batch) (notify.Report, error) {
	report := notify.Report{Worker: "executor"}

	orders, err := batch.InsertedOrders()
	if err != nil {
		return report, fmt.Errorf("decode batch: %w", err)
	}

	var candidates []models.Order
	for _, o := range orders {
		if o.Broker == s.BrokerName {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		_ = s.Notifier.Notify(ctx, report)
		return report, nil
	}

	session, err := retry.Do(ctx, s.Retry, "broker login", func(ctx context.Context) (*broker.Session, error) {
		return s.Broker.Login(ctx)
	})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("login failed: %v", err))
		_ = s.Notifier.Notify(ctx, report)
		return report, err
	}
	defer func() {
		if logoutErr := s.Broker.Logout(context.Background(), session); logoutErr != nil {
			log.Printf("executor: logout failed: %v", logoutErr)
		}
	}()

	keys := distinctKeys(candidates, s.BrokerName)
	securities, err := retry.Do(ctx, s.Retry, "get securities", func(ctx context.Context) ([]models.Security, error) {
		return s.Store.GetSecurities(ctx, keys)
	})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("load securities failed: %v", err))
		_ = s.Notifier.Notify(ctx, report)
		return report, err
	}
	bySymbol := make(map[string]models.Security, len(securities))
	for _, sec := range securities {
		bySymbol[sec.Symbol] = sec
	}

	var valid []models.Order
	for _, o := range candidates {
		sec, ok := bySymbol[o.Symbol]
		if !ok || !sec.TradingEnabled {
			report.Invalid = append(report.Invalid, o.OrderID)
			continue
		}
		valid = append(valid, o)
	}

	// One GetPositions call per batch, before the risk gate and fan-out: its
	// result isn't consulted (the gate reads Store.NetPosition, and each
	// dispatch makes its own post-fill GetPositions call), it only confirms
	// the session is live before any order-specific work begins.
	if _, err := retry.Do(ctx, s.Retry, "get positions", func(ctx context.Context) ([]broker.OpenPosition, error) {
		return s.Broker.GetPositions(ctx, session)
	}); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("get positions failed: %v", err))
		_ = s.Notifier.Notify(ctx, report)
		return report, err
	}

	var pass []models.Order
	for _, o := range valid {
		sec := bySymbol[o.Symbol]
		netPos, err := retry.Do(ctx, s.Retry, "net position", func(ctx context.Context) (float64, error) {
			return s.Store.NetPosition(ctx, o.Symbol, o.Broker, o.Maturity)
		})
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("net position lookup failed for %s: %v", o.OrderID, err))
			continue
		}
		decision := risk.Gate(o.Order, sec, session.Balance.Amount, netPos)
		if !decision.Accepted {
			report.Rejected = append(report.Rejected, o.OrderID)
			continue
		}
		pass = append(pass, o)
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, batchDeadline)
	defer cancel()
	group, gctx := errgroup.WithContext(dispatchCtx)

	type outcome struct {
		orderID string
		err     error
	}
	outcomes := make(chan outcome, len(pass))

	for _, o := range pass {
		o := o
		sec := bySymbol[o.Symbol]
		group.Go(func() error {
			err := s.dispatch(gctx, session, sec, o)
			outcomes <- outcome{orderID: o.OrderID, err: err}
			return nil // per-order failures are reported, not fatal to the group
		})
	}
	_ = group.Wait()
	close(outcomes)

	for oc := range outcomes {
		if oc.err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("order %s: %v", oc.orderID, oc.err))
			continue
		}
		report.Submitted = append(report.Submitted, oc.orderID)
	}

	if notifyErr := s.Notifier.Notify(ctx, report); notifyErr != nil {
		return report, fmt.Errorf("notify: %w", notifyErr)
	}
	return report, nil
}

// dispatch resolves the epic, submits the order, and settles the resulting
// order row; it implements step 8 of SPEC_FULL §4.F for a single order.
func (s *Scheduler) dispatch(ctx context.Context, session *broker.Session, sec models.Security, o models.Order) error {
	term := toBrokerExpiry(o.Maturity)

	markets, err := retry.Do(ctx, s.Retry, "search markets", func(ctx context.Context) ([]broker.Market, error) {
		return s.Broker.SearchMarkets(ctx, session, o.Symbol)
	})
	if err != nil {
		return s.settleFailed(ctx, o, fmt.Errorf("search markets: %w", err))
	}

	var matches []broker.Market
	for _, m := range markets {
		if m.InstrumentName == sec.Description.Name && m.InstrumentType == sec.Description.MarketGroup && m.Expiry == term {
			matches = append(matches, m)
		}
	}
	if len(matches) != 1 {
		return s.settleFailed(ctx, o, fmt.Errorf("market lookup: %d matches for %s %s", len(matches), o.Symbol, term))
	}
	matched := matches[0]

	deal, err := retry.Do(ctx, s.Retry, "create position", func(ctx context.Context) (*broker.Deal, error) {
		return s.Broker.CreatePosition(ctx, session, broker.CreatePositionRequest{
			Epic:         matched.Epic,
			Direction:    string(o.Order.Side),
			Expiry:       term,
			OrderType:    string(o.Order.OrdType),
			Size:         o.Order.Size,
			TimeInForce:  "FILL_OR_KILL",
			StopDistance: o.Order.StopDistance,
		})
	})
	if err != nil {
		return fmt.Errorf("create position: %w", err)
	}
	if deal.ErrorCode != "" {
		// Left PENDING for human triage rather than settled FAILED, per the
		// executor's error policy for a rejected deal payload (SPEC_FULL §7).
		return fmt.Errorf("broker rejected deal: %s", deal.ErrorCode)
	}

	positions, err := retry.Do(ctx, s.Retry, "get positions for fill lookup", func(ctx context.Context) ([]broker.OpenPosition, error) {
		return s.Broker.GetPositions(ctx, session)
	})
	if err != nil {
		return s.settleFailed(ctx, o, fmt.Errorf("fill lookup: %w", err))
	}

	var fill *broker.OpenPosition
	for i := range positions {
		if positions[i].DealReference == deal.DealReference {
			fill = &positions[i]
			break
		}
	}
	if fill == nil {
		return s.settleFailed(ctx, o, errors.New("no matching open position for deal reference"))
	}

	status := models.StatusFilled
	switch {
	case fill.Size < o.Order.Size:
		status = models.StatusPartFilled
	case fill.Size > o.Order.Size:
		log.Printf("executor: fill size %v exceeds requested size %v for order %s (defect)", fill.Size, o.Order.Size, o.OrderID)
	}

	trade := models.Trade{
		FillTime:   parseFillTime(fill.FillTime),
		Side:       o.Order.Side,
		FilledSize: fill.Size,
		Price:      fill.Level,
		Broker: models.TradeBrokerRef{
			Name:    s.BrokerName,
			RefType: "dealId",
			Ref:     fill.DealID,
		},
	}

	if err := s.Store.SettleOrder(ctx, o.OrderID, o.TransactionTime, status, trade); err != nil {
		if errors.Is(err, store.ErrAlreadySettled) {
			return nil
		}
		return fmt.Errorf("settle order: %w", err)
	}
	return nil
}

func (s *Scheduler) settleFailed(ctx context.Context, o models.Order, cause error) error {
	if err := s.Store.SettleOrder(ctx, o.OrderID, o.TransactionTime, models.StatusFailed, models.Trade{}); err != nil {
		if !errors.Is(err, store.ErrAlreadySettled) {
			return fmt.Errorf("settle failed order: %w", err)
		}
	}
	return cause
}

func distinctKeys(orders []models.Order, brokerName string) []models.SecurityKey {
	seen := make(map[string]bool, len(orders))
	keys := make([]models.SecurityKey, 0, len(orders))
	for _, o := range orders {
		if seen[o.Symbol] {
			continue
		}
		seen[o.Symbol] = true
		keys = append(keys, models.SecurityKey{Symbol: o.Symbol, Broker: brokerName})
	}
	return keys
}

// toBrokerExpiry converts an internal YYYYMM maturity to the broker's
// display form, Mon-YY upper case (SPEC_FULL §4.F step 5).
func toBrokerExpiry(maturity string) string {
	t, err := time.Parse("200601", maturity)
	if err != nil {
		return maturity
	}
	return strings.ToUpper(t.Format("Jan-06"))
}

func parseFillTime(raw string) time.Time {
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04:05.000"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
