package broker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerBroker wraps a Broker with a circuit breaker so a run of
// broker failures trips open and fails fast instead of piling up retries
// against a brokerage that is already down.
type CircuitBreakerBroker struct {
	next    Broker
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerBroker wraps next with a breaker that opens after 5
// consecutive failures and probes again after 30 seconds.
func NewCircuitBreakerBroker(next Broker) *CircuitBreakerBroker {
	settings := gobreaker.Settings{
		Name:        "broker",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &CircuitBreakerBroker{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Login implements Broker.
func (c *CircuitBreakerBroker) Login(ctx context.Context) (*Session, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.next.Login(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Session), nil
}

// Logout implements Broker. Logout is best-effort by design (§4.D); it still
// runs through the breaker so a broken brokerage doesn't hang the batch on
// the way out.
func (c *CircuitBreakerBroker) Logout(ctx context.Context, sess *Session) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.next.Logout(ctx, sess)
	})
	return err
}

// SearchMarkets implements Broker.
func (c *CircuitBreakerBroker) SearchMarkets(ctx context.Context, sess *Session, term string) ([]Market, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.next.SearchMarkets(ctx, sess, term)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Market), nil
}

// CreatePosition implements Broker.
func (c *CircuitBreakerBroker) CreatePosition(ctx context.Context, sess *Session, req CreatePositionRequest) (*Deal, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.next.CreatePosition(ctx, sess, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Deal), nil
}

// GetPositions implements Broker.
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context, sess *Session) ([]OpenPosition, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.next.GetPositions(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return result.([]OpenPosition), nil
}

// State reports the current breaker state.
func (c *CircuitBreakerBroker) State() gobreaker.State {
	return c.breaker.State()
}

var _ Broker = (*CircuitBreakerBroker)(nil)
