package dashboard

import (
	"context"

	"github.com/vixroll/controlplane/internal/models"
	"github.com/vixroll/controlplane/internal/store"
)

// StoreKey identifies one (symbol, broker, maturity) combination whose net
// position the dashboard reports; callers register the combinations they
// care about since the store has no "list distinct keys" query.
type StoreKey struct {
	Symbol   string
	Broker   string
	Maturity string
}

// StoreBackend adapts a *store.Store (plus a ledger and a fixed set of
// tracked symbols) to the dashboard's Backend interface.
type StoreBackend struct {
	st     *store.Store
	ledger *store.Ledger
	keys   []StoreKey
}

// NewStoreBackend builds a StoreBackend. keys enumerates the
// (symbol, broker, maturity) triples the dashboard reports positions for.
func NewStoreBackend(st *store.Store, ledger *store.Ledger, keys []StoreKey) *StoreBackend {
	return &StoreBackend{st: st, ledger: ledger, keys: keys}
}

// Positions implements Backend.
func (b *StoreBackend) Positions() ([]PositionView, error) {
	ctx := context.Background()
	views := make([]PositionView, 0, len(b.keys))
	for _, key := range b.keys {
		net, err := b.st.NetPosition(ctx, key.Symbol, key.Broker, key.Maturity)
		if err != nil {
			return nil, err
		}
		views = append(views, PositionView{
			Symbol:      key.Symbol,
			Broker:      key.Broker,
			Maturity:    key.Maturity,
			NetPosition: net,
		})
	}
	return views, nil
}

// Orders implements Backend.
func (b *StoreBackend) Orders(symbol, status string) ([]models.Order, error) {
	ctx := context.Background()
	var all []models.Order
	for _, key := range b.keys {
		if symbol != "" && key.Symbol != symbol {
			continue
		}
		orders, err := b.st.GetOrdersBySymbolBroker(ctx, key.Symbol, key.Broker)
		if err != nil {
			return nil, err
		}
		all = append(all, orders...)
	}
	if status == "" {
		return all, nil
	}
	filtered := all[:0]
	for _, o := range all {
		if string(o.Status) == status {
			filtered = append(filtered, o)
		}
	}
	return filtered, nil
}

// LedgerHasRun implements Backend.
func (b *StoreBackend) LedgerHasRun(date string) (bool, error) {
	for _, key := range b.keys {
		if b.ledger.Seen(date, key.Symbol) {
			return true, nil
		}
	}
	return false, nil
}

var _ Backend = (*StoreBackend)(nil)
