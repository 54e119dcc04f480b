// Package models provides the shared order/quote/security data model and the
// order status state machine.
package models

import "fmt"

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	// StatusPending indicates the order has been written but not yet settled
	// by the executor.
	StatusPending OrderStatus = "PENDING"
	// StatusFilled indicates the order was completely filled by the broker.
	StatusFilled OrderStatus = "FILLED"
	// StatusPartFilled indicates the broker filled less than the requested size.
	StatusPartFilled OrderStatus = "PART_FILLED"
	// StatusFailed indicates the executor settled the order without a fill
	// (market search error, no unique market match, or no matching open
	// position after the deal). Orders rejected by validation or the risk
	// gate, and deals the broker rejects, are not written at all.
	StatusFailed OrderStatus = "FAILED"
)

// validTransitions is the order status DAG (§3 invariant 1 of SPEC_FULL.md):
// every edge starts at StatusPending and ends at a terminal state. There is
// no condition label on these edges (unlike the richer position state
// machine this is generalized from) because an order has exactly one
// transition opportunity: settlement.
var validTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPending: {
		StatusFilled:     true,
		StatusPartFilled: true,
		StatusFailed:     true,
	},
}

// IsValidTransition reports whether moving from to is a legal order status
// transition.
func IsValidTransition(from, to OrderStatus) bool {
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// IsTerminal reports whether status is a terminal order status.
func IsTerminal(status OrderStatus) bool {
	return status == StatusFilled || status == StatusPartFilled || status == StatusFailed
}

// ValidateTransition returns an error if moving from to is not a legal
// transition, mirroring the teacher state machine's fail-fast style.
func ValidateTransition(from, to OrderStatus) error {
	if !IsValidTransition(from, to) {
		return fmt.Errorf("invalid order status transition from %s to %s", from, to)
	}
	return nil
}
