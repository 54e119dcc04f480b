// Package risk implements the pre-trade risk checks shared by the executor
// scheduler and the strategy evaluator's entry gate.
package risk

import (
	"math"

	"github.com/vixroll/controlplane/internal/models"
)

// Decision is the outcome of a Gate evaluation.
type Decision struct {
	Accepted bool
	Reasons  []string
}

func (d *Decision) reject(reason string) {
	d.Accepted = false
	d.Reasons = append(d.Reasons, reason)
}

// Gate evaluates an order against a security's risk limits and the account
// balance, per the five clauses in SPEC_FULL §4.E. All numeric comparisons
// are inclusive on the allowed side.
func Gate(order models.OrderDetail, sec models.Security, balance, netPosition float64) Decision {
	d := Decision{Accepted: true}

	if balance <= 0 || order.Size/balance > sec.Risk.RiskFactor {
		d.reject("size exceeds risk factor of balance")
	}

	if order.Size > sec.Risk.MaxPosition {
		d.reject("size exceeds max position")
	}

	if WouldBreachPosition(order.Side, order.Size, netPosition, sec.Risk.MaxPosition) {
		d.reject("resulting position would breach max position")
	}

	if !sec.TradingEnabled {
		d.reject("trading disabled for security")
	}

	return d
}

// WouldBreachPosition reports whether applying an order of the given side
// and size to netPosition would exceed maxPosition. This is clauses 3-4 of
// the Risk Gate, exported so the strategy evaluator's entry check (SPEC_FULL
// §4.G step 9) shares exactly one implementation of the position bound
// rather than re-deriving it.
func WouldBreachPosition(side models.Side, size, netPosition, maxPosition float64) bool {
	switch side {
	case models.SideBuy:
		return netPosition+size > maxPosition
	case models.SideSell:
		return math.Abs(netPosition-size) > maxPosition
	default:
		return true
	}
}
