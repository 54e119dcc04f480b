package executor

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vixroll/controlplane/internal/broker"
	"github.com/vixroll/controlplane/internal/events"
	"github.com/vixroll/controlplane/internal/models"
	"github.com/vixroll/controlplane/internal/notify"
	"github.com/vixroll/controlplane/internal/store"
)

type fakeBroker struct {
	loginErr     error
	session      *broker.Session
	markets      []broker.Market
	searchErr    error
	deal         *broker.Deal
	createErr    error
	positions    []broker.OpenPosition
	positionsErr error
}

func (f *fakeBroker) Login(ctx context.Context) (*broker.Session, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.session, nil
}

func (f *fakeBroker) Logout(ctx context.Context, sess *broker.Session) error { return nil }

func (f *fakeBroker) SearchMarkets(ctx context.Context, sess *broker.Session, term string) ([]broker.Market, error) {
	return f.markets, f.searchErr
}

func (f *fakeBroker) CreatePosition(ctx context.Context, sess *broker.Session, req broker.CreatePositionRequest) (*broker.Deal, error) {
	return f.deal, f.createErr
}

func (f *fakeBroker) GetPositions(ctx context.Context, sess *broker.Session) ([]broker.OpenPosition, error) {
	return f.positions, f.positionsErr
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	s, err := store.NewForTest(db)
	require.NoError(t, err)
	return s
}

func seedSecurity(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.PutSecurity(context.Background(), models.Security{
		Symbol:         "VXX7",
		Broker:         "IG",
		TradingEnabled: true,
		Description:    models.SecurityDescription{Name: "VIX Nov-17", MarketGroup: "FUTURE"},
		Risk:           models.SecurityRisk{RiskFactor: 1, MaxPosition: 100},
	}))
}

func insertOrderBatch(symbol, broker, maturity, side string, size float64) events.Batch {
	return events.Batch{Records: []events.Record{{
		EventName: "INSERT",
		Dynamodb: events.RecordPayload{
			NewImage: map[string]events.AttributeValue{
				"OrderId":         {S: strPtr("order-1")},
				"TransactionTime": {S: strPtr("1000")},
				"Symbol":          {S: strPtr(symbol)},
				"Broker":          {S: strPtr(broker)},
				"Maturity":        {S: strPtr(maturity)},
				"Order": {M: map[string]events.AttributeValue{
					"Side":    {S: strPtr(side)},
					"Size":    {N: strPtr(fmtFloat(size))},
					"OrdType": {S: strPtr("MARKET")},
				}},
				"Strategy": {M: map[string]events.AttributeValue{
					"Name":   {S: strPtr("roll")},
					"Reason": {S: strPtr("OPEN")},
				}},
			},
		},
	}}}
}

// seedPendingOrder writes the order carried by batch into st as PENDING and
// points the batch's keys at the stored row, as the orders table's own
// change stream would, returning the stored OrderID.
func seedPendingOrder(t *testing.T, st *store.Store, batch events.Batch) string {
	t.Helper()
	image := batch.Records[0].Dynamodb.NewImage
	o, err := events.DecodeOrder(image)
	require.NoError(t, err)
	created, err := st.CreateOrder(context.Background(), models.OrderDraft{
		Symbol: o.Symbol, Broker: o.Broker, Maturity: o.Maturity, ProductType: o.ProductType,
		Order: o.Order, Strategy: o.Strategy,
	})
	require.NoError(t, err)
	image["OrderId"] = events.AttributeValue{S: strPtr(created.OrderID)}
	image["TransactionTime"] = events.AttributeValue{S: strPtr(created.TransactionTime)}
	return created.OrderID
}

func strPtr(s string) *string { return &s }
func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func TestScheduler_Run_EmptyBatchNoops(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	fb := &fakeBroker{}
	sched := NewScheduler(st, fb, notify.NewLogNotifier(nil), nil, "IG")

	report, err := sched.Run(context.Background(), events.Batch{})
	require.NoError(t, err)
	assert.Empty(t, report.Submitted)
}

func TestScheduler_Run_InvalidSecurityNotSubmitted(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	fb := &fakeBroker{session: &broker.Session{Balance: broker.Balance{Amount: 10000}}}
	sched := NewScheduler(st, fb, notify.NewLogNotifier(nil), nil, "IG")

	batch := insertOrderBatch("VXX7", "IG", "201711", "BUY", 2)
	report, err := sched.Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Contains(t, report.Invalid, "order-1")
	assert.Empty(t, report.Submitted)
}

func TestScheduler_Run_RiskGateRejectsOversizeOrder(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedSecurity(t, st)
	require.NoError(t, st.PutSecurity(context.Background(), models.Security{
		Symbol: "VXX7", Broker: "IG", TradingEnabled: true,
		Risk: models.SecurityRisk{RiskFactor: 1, MaxPosition: 1},
	}))
	fb := &fakeBroker{session: &broker.Session{Balance: broker.Balance{Amount: 10000}}}
	sched := NewScheduler(st, fb, notify.NewLogNotifier(nil), nil, "IG")

	batch := insertOrderBatch("VXX7", "IG", "201711", "BUY", 5)
	report, err := sched.Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Contains(t, report.Rejected, "order-1")
	assert.Empty(t, report.Submitted)
}

func TestScheduler_Run_LoginFailureAbortsBatch(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedSecurity(t, st)
	fb := &fakeBroker{loginErr: assertErr("down")}
	sched := NewScheduler(st, fb, notify.NewLogNotifier(nil), nil, "IG")

	batch := insertOrderBatch("VXX7", "IG", "201711", "BUY", 1)
	report, err := sched.Run(context.Background(), batch)
	require.Error(t, err)
	assert.NotEmpty(t, report.Errors)
}

func TestScheduler_Run_HappyPathSettlesFilled(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedSecurity(t, st)
	fb := &fakeBroker{
		session: &broker.Session{Balance: broker.Balance{Amount: 10000}},
		markets: []broker.Market{{Epic: "CC.D.VX.UNC.IP", InstrumentName: "VIX Nov-17", InstrumentType: "FUTURE", Expiry: "NOV-17"}},
		deal:    &broker.Deal{DealReference: "ref-1", DealID: "deal-1"},
		positions: []broker.OpenPosition{
			{DealID: "deal-1", DealReference: "ref-1", Epic: "CC.D.VX.UNC.IP", Size: 2, Level: 17.5, FillTime: "2017-11-14T10:00:00"},
		},
	}
	sched := NewScheduler(st, fb, notify.NewLogNotifier(nil), nil, "IG")

	batch := insertOrderBatch("VXX7", "IG", "201711", "BUY", 2)
	orderID := seedPendingOrder(t, st, batch)
	report, err := sched.Run(context.Background(), batch)
	require.NoError(t, err)
	assert.Contains(t, report.Submitted, orderID)
	assert.Empty(t, report.Errors)

	orders, err := st.GetOrdersBySymbolBroker(context.Background(), "VXX7", "IG")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.StatusFilled, orders[0].Status)
}

func TestScheduler_Run_AmbiguousMarketMatchSettlesFailed(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	seedSecurity(t, st)
	fb := &fakeBroker{
		session: &broker.Session{Balance: broker.Balance{Amount: 10000}},
		markets: []broker.Market{
			{Epic: "A", InstrumentName: "VIX Nov-17", InstrumentType: "FUTURE", Expiry: "NOV-17"},
			{Epic: "B", InstrumentName: "VIX Nov-17", InstrumentType: "FUTURE", Expiry: "NOV-17"},
		},
	}
	sched := NewScheduler(st, fb, notify.NewLogNotifier(nil), nil, "IG")

	batch := insertOrderBatch("VXX7", "IG", "201711", "BUY", 2)
	seedPendingOrder(t, st, batch)
	report, err := sched.Run(context.Background(), batch)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Errors)

	orders, err := st.GetOrdersBySymbolBroker(context.Background(), "VXX7", "IG")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.StatusFailed, orders[0].Status)
}

func assertErr(s string) error { return errors.New(s) }
