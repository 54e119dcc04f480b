package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBroker struct {
	loginErr error
	session  *Session
}

func (s *stubBroker) Login(ctx context.Context) (*Session, error) {
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return s.session, nil
}

func (s *stubBroker) Logout(ctx context.Context, sess *Session) error { return s.loginErr }

func (s *stubBroker) SearchMarkets(ctx context.Context, sess *Session, term string) ([]Market, error) {
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return []Market{{Epic: "X"}}, nil
}

func (s *stubBroker) CreatePosition(ctx context.Context, sess *Session, req CreatePositionRequest) (*Deal, error) {
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return &Deal{DealID: "d1"}, nil
}

func (s *stubBroker) GetPositions(ctx context.Context, sess *Session) ([]OpenPosition, error) {
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return []OpenPosition{{DealID: "d1"}}, nil
}

func TestCircuitBreakerBroker_PassesThroughOnSuccess(t *testing.T) {
	t.Parallel()
	stub := &stubBroker{session: &Session{SecurityToken: "tok"}}
	cb := NewCircuitBreakerBroker(stub)

	sess, err := cb.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", sess.SecurityToken)

	positions, err := cb.GetPositions(context.Background(), sess)
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestCircuitBreakerBroker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	stub := &stubBroker{loginErr: errors.New("boom")}
	cb := NewCircuitBreakerBroker(stub)

	for i := 0; i < 5; i++ {
		_, err := cb.Login(context.Background())
		assert.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Login(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
