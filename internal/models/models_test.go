package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrade_IsEmpty(t *testing.T) {
	t.Parallel()
	assert.True(t, Trade{}.IsEmpty())

	filled := Trade{
		FillTime:   time.Now(),
		Side:       SideBuy,
		FilledSize: 2,
		Price:      17.5,
	}
	assert.False(t, filled.IsEmpty())
}

func TestOrder_ZeroValueHasNoStatus(t *testing.T) {
	t.Parallel()
	var o Order
	assert.Equal(t, OrderStatus(""), o.Status)
	assert.True(t, o.Trade.IsEmpty())
}

func TestOrderDraft_BackTestTradeOptional(t *testing.T) {
	t.Parallel()
	draft := OrderDraft{
		Symbol:      "VXX7",
		Broker:      "IG",
		Maturity:    "201711",
		ProductType: "FUTURE",
		Order:       OrderDetail{Side: SideBuy, Size: 1, OrdType: OrdTypeMarket},
		Strategy:    OrderStrategy{Name: "roll", Reason: ReasonOpen},
	}
	assert.Nil(t, draft.BackTestTrade)

	trade := Trade{FilledSize: 1, Price: 17.5}
	draft.BackTestTrade = &trade
	assert.Equal(t, &trade, draft.BackTestTrade)
}
