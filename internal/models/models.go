package models

import "time"

// Side is the direction of an order.
type Side string

// Sides supported by the core (market orders only, per SPEC_FULL §1 Non-goals).
const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType names the broker order type. MARKET is the only type the
// strategy emits; the field stays a string (rather than an enum) because the
// broker adapter passes it through largely unexamined.
type OrderType string

// OrdTypeMarket is the only order type the strategy and executor use.
const OrdTypeMarket OrderType = "MARKET"

// StrategyReason names why an order was created.
type StrategyReason string

const (
	// ReasonOpen marks an order opening a new position.
	ReasonOpen StrategyReason = "OPEN"
	// ReasonClose marks an order flattening an existing position ahead of expiry.
	ReasonClose StrategyReason = "CLOSE"
)

// Quote is an immutable end-of-day price observation, keyed by (Symbol, Date).
type Quote struct {
	Symbol string
	Date   string // YYYYMMDD
	Close  float64
}

// SecurityKey identifies a row in the security master.
type SecurityKey struct {
	Symbol string
	Broker string
}

// SecurityRisk carries the per-security risk limits enforced by the Risk Gate.
type SecurityRisk struct {
	RiskFactor  float64 // fraction in (0,1]
	MaxPosition float64
}

// SecurityDescription carries the broker-facing instrument descriptors used
// to resolve a tradeable market.
type SecurityDescription struct {
	Name        string
	MarketGroup string
}

// Security is a read-only (to the core) security master row, keyed by
// (Symbol, Broker).
type Security struct {
	Symbol         string
	Broker         string
	TradingEnabled bool
	Description    SecurityDescription
	Risk           SecurityRisk
}

// TradeBrokerRef names the broker-side identifiers for a fill.
type TradeBrokerRef struct {
	Name    string
	RefType string
	Ref     string
}

// Trade records the fill detail of a settled order. It is populated if and
// only if the order's terminal Status is FILLED or PART_FILLED (§3 invariant 3).
type Trade struct {
	FillTime   time.Time
	Side       Side
	FilledSize float64
	Price      float64
	Broker     TradeBrokerRef
}

// IsEmpty reports whether t carries no fill data, i.e. the order failed.
func (t Trade) IsEmpty() bool {
	return t.FillTime.IsZero() && t.FilledSize == 0 && t.Price == 0
}

// OrderDetail carries the order instruction itself, independent of its
// lifecycle state.
type OrderDetail struct {
	Side         Side
	Size         float64
	OrdType      OrderType
	StopDistance *float64
}

// OrderStrategy attributes an order to the strategy run that created it.
type OrderStrategy struct {
	Name   string
	Reason StrategyReason
}

// Order is the persisted record of a single trade instruction, keyed by
// (OrderID, TransactionTime).
type Order struct {
	OrderID         string
	TransactionTime string // epoch seconds, as a string, per SPEC_FULL §3
	Symbol          string
	Broker          string
	Maturity        string // YYYYMM
	ProductType     string
	Status          OrderStatus
	Order           OrderDetail
	Trade           Trade
	Strategy        OrderStrategy
}

// OrderDraft is the input to Store.CreateOrder: everything about an order
// except the identifiers and status the store itself assigns.
type OrderDraft struct {
	Symbol      string
	Broker      string
	Maturity    string
	ProductType string
	Order       OrderDetail
	Strategy    OrderStrategy
	// BackTestTrade, if non-nil, causes the order to be created already
	// FILLED with this trade instead of PENDING — used by the strategy's
	// BackTest mode (SPEC_FULL §4.G).
	BackTestTrade *Trade
}
