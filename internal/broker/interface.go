// Package broker provides the trading API client used to authenticate with
// the connected brokerage, resolve instruments, submit market orders, and
// report positions back.
package broker

import (
	"context"
	"errors"
	"fmt"
)

// ErrAuthExpired is returned when the broker rejects a request because the
// session token has expired. The executor treats this as fatal for the
// current batch rather than retrying within the session.
var ErrAuthExpired = errors.New("broker: authentication expired")

// Balance is the account balance returned at login.
type Balance struct {
	Amount float64
	Ccy    string
}

// Session is the opaque per-batch credential set returned by Login. It is
// passed explicitly to every subsequent call rather than stored as latent
// state on the client, so a session is never implicitly shared or mutated
// across goroutines.
type Session struct {
	SecurityToken string
	CST           string
	Balance       Balance
}

// Market is one instrument returned by SearchMarkets. Extra preserves wire
// fields the core doesn't model, so a broker response can grow fields
// without breaking decoding.
type Market struct {
	Epic           string
	InstrumentName string
	InstrumentType string
	Expiry         string
	Extra          map[string]interface{}
}

// CreatePositionRequest opens a new position on epic.
type CreatePositionRequest struct {
	Epic         string
	Direction    string // "BUY" or "SELL"
	Expiry       string
	OrderType    string
	Size         float64
	TimeInForce  string
	Currency     string
	StopDistance *float64
}

// Deal is the broker's immediate response to CreatePosition. ErrorCode is
// non-empty when the broker rejected the deal outright (distinct from a
// deal that was accepted but later fails to appear in GetPositions).
type Deal struct {
	DealReference string
	DealID        string
	ErrorCode     string
}

// OpenPosition is one row of GetPositions, used by the executor to locate
// the fill matching a just-created deal.
type OpenPosition struct {
	DealID        string
	DealReference string
	Epic          string
	Direction     string
	Size          float64
	Level         float64
	FillTime      string
}

// Broker defines the contract the executor scheduler depends on. A single
// implementation wraps the connected brokerage's dealing REST API; test
// doubles implement it directly.
type Broker interface {
	// Login authenticates and returns a Session carrying the tokens and
	// balance subsequent calls need.
	Login(ctx context.Context) (*Session, error)
	// Logout invalidates sess. Best-effort: callers log but do not fail the
	// batch if Logout errors.
	Logout(ctx context.Context, sess *Session) error
	// SearchMarkets looks up instruments matching term.
	SearchMarkets(ctx context.Context, sess *Session, term string) ([]Market, error)
	// CreatePosition submits a market order.
	CreatePosition(ctx context.Context, sess *Session, req CreatePositionRequest) (*Deal, error)
	// GetPositions lists currently open positions under sess.
	GetPositions(ctx context.Context, sess *Session) ([]OpenPosition, error)
}

// APIError represents a non-2xx HTTP response from the broker.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API error %d: %s", e.Status, e.Body)
}
