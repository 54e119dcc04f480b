package strategy

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vixroll/controlplane/internal/events"
	"github.com/vixroll/controlplane/internal/models"
	"github.com/vixroll/controlplane/internal/store"
)

func newTestEvaluator(t *testing.T, cfg Config) *Evaluator {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	st, err := store.NewForTest(db)
	require.NoError(t, err)

	ledger, err := store.OpenLedger(filepath.Join(t.TempDir(), "roll.csv"))
	require.NoError(t, err)

	if cfg.Broker == "" {
		cfg.Broker = "IG"
	}
	return NewEvaluator(st, ledger, cfg, nil, nil)
}

func quoteBatch(symbol, date string, closeVal float64) events.Batch {
	return events.Batch{Records: []events.Record{{
		EventName: "INSERT",
		Dynamodb: events.RecordPayload{
			NewImage: map[string]events.AttributeValue{
				"Symbol": {S: strPtr(symbol)},
				"Date":   {S: strPtr(date)},
				"Close":  {N: strPtr(floatStr(closeVal))},
			},
		},
	}}}
}

func strPtr(s string) *string { return &s }
func floatStr(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func mustParse(date string) time.Time {
	t, err := time.Parse("20060102", date)
	if err != nil {
		panic(err)
	}
	return t
}

func TestEvaluator_OneDayBeforeExpiryCloses(t *testing.T) {
	t.Parallel()
	e := newTestEvaluator(t, Config{StdSize: 2, MaxRoll: 0.10})
	ctx := context.Background()

	require.NoError(t, e.Store.PutQuote(ctx, models.Quote{Symbol: "VIX", Date: "20171114", Close: 10.00}))
	require.NoError(t, e.Store.PutQuote(ctx, models.Quote{Symbol: "VXX7", Date: "20171114", Close: 10.50}))

	_, err := e.Store.CreateOrder(ctx, models.OrderDraft{
		Symbol: "VX", Broker: "IG", Maturity: "201711", ProductType: "FUTURE",
		Order:         models.OrderDetail{Side: models.SideBuy, Size: 2, OrdType: models.OrdTypeMarket},
		Strategy:      models.OrderStrategy{Name: "seed", Reason: models.ReasonOpen},
		BackTestTrade: &models.Trade{FillTime: mustParse("20171101"), Side: models.SideBuy, FilledSize: 2, Price: 10},
	})
	require.NoError(t, err)

	batch := quoteBatch("VXX7", "20171114", 10.50)
	result, err := e.Run(ctx, batch)
	require.NoError(t, err)
	require.Len(t, result.OrdersCreated, 1)

	orders, err := e.Store.GetOrdersBySymbolBroker(ctx, "VX", "IG")
	require.NoError(t, err)
	var closeOrder *models.Order
	for i := range orders {
		if orders[i].Strategy.Reason == models.ReasonClose {
			closeOrder = &orders[i]
		}
	}
	require.NotNil(t, closeOrder)
	assert.Equal(t, models.SideSell, closeOrder.Order.Side)
	assert.Equal(t, float64(2), closeOrder.Order.Size)
}

func TestEvaluator_EntryOnContangoSells(t *testing.T) {
	t.Parallel()
	e := newTestEvaluator(t, Config{StdSize: 3, MaxRoll: 0.10})
	ctx := context.Background()

	require.NoError(t, e.Store.PutQuote(ctx, models.Quote{Symbol: "VIX", Date: "20170601", Close: 10.00}))
	require.NoError(t, e.Store.PutQuote(ctx, models.Quote{Symbol: "VXM7", Date: "20170601", Close: 12.00}))

	batch := quoteBatch("VXM7", "20170601", 12.00)
	result, err := e.Run(ctx, batch)
	require.NoError(t, err)
	require.Len(t, result.OrdersCreated, 1)

	orders, err := e.Store.GetOrdersBySymbolBroker(ctx, "VX", "IG")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.SideSell, orders[0].Order.Side)
	assert.Equal(t, float64(3), orders[0].Order.Size)
}

func TestEvaluator_EntryOnBackwardationBuys(t *testing.T) {
	t.Parallel()
	e := newTestEvaluator(t, Config{StdSize: 3, MaxRoll: 0.10})
	ctx := context.Background()

	require.NoError(t, e.Store.PutQuote(ctx, models.Quote{Symbol: "VIX", Date: "20170601", Close: 15.00}))
	require.NoError(t, e.Store.PutQuote(ctx, models.Quote{Symbol: "VXM7", Date: "20170601", Close: 13.00}))

	batch := quoteBatch("VXM7", "20170601", 13.00)
	result, err := e.Run(ctx, batch)
	require.NoError(t, err)
	require.Len(t, result.OrdersCreated, 1)

	orders, err := e.Store.GetOrdersBySymbolBroker(ctx, "VX", "IG")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.SideBuy, orders[0].Order.Side)
}

func TestEvaluator_SubThresholdRollNoOps(t *testing.T) {
	t.Parallel()
	e := newTestEvaluator(t, Config{StdSize: 3, MaxRoll: 0.10})
	ctx := context.Background()

	require.NoError(t, e.Store.PutQuote(ctx, models.Quote{Symbol: "VIX", Date: "20170601", Close: 10.00}))
	require.NoError(t, e.Store.PutQuote(ctx, models.Quote{Symbol: "VXM7", Date: "20170601", Close: 11.00}))

	batch := quoteBatch("VXM7", "20170601", 11.00)
	result, err := e.Run(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, result.OrdersCreated)

	orders, err := e.Store.GetOrdersBySymbolBroker(ctx, "VX", "IG")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestEvaluator_IdempotentRerunCreatesOneOrder(t *testing.T) {
	t.Parallel()
	e := newTestEvaluator(t, Config{StdSize: 3, MaxRoll: 0.10})
	ctx := context.Background()

	require.NoError(t, e.Store.PutQuote(ctx, models.Quote{Symbol: "VIX", Date: "20170601", Close: 10.00}))
	require.NoError(t, e.Store.PutQuote(ctx, models.Quote{Symbol: "VXM7", Date: "20170601", Close: 12.00}))

	batch := quoteBatch("VXM7", "20170601", 12.00)
	_, err := e.Run(ctx, batch)
	require.NoError(t, err)
	_, err = e.Run(ctx, batch)
	require.NoError(t, err)

	orders, err := e.Store.GetOrdersBySymbolBroker(ctx, "VX", "IG")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.True(t, e.Ledger.Seen("20170601", "VXM7"))
}

func TestEvaluator_MissingCounterpartQuoteNoOps(t *testing.T) {
	t.Parallel()
	e := newTestEvaluator(t, Config{StdSize: 3, MaxRoll: 0.10})
	ctx := context.Background()

	require.NoError(t, e.Store.PutQuote(ctx, models.Quote{Symbol: "VXM7", Date: "20170601", Close: 12.00}))

	batch := quoteBatch("VXM7", "20170601", 12.00)
	result, err := e.Run(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, result.OrdersCreated)
	assert.NotEmpty(t, result.Skipped)
}

