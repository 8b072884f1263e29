// Package mock provides a test double for the store.Store interface.
package mock

import (
	"context"
	"sync"

	"github.com/sweetmill/sweetmill/internal/store"
)

// Call records a single store invocation for assertion in tests.
type Call struct {
	// Op is the operation name, e.g. "SearchPurchases".
	Op string
	// Arg is the filter or query value the operation received.
	Arg any
}

// Store is a mock implementation of store.Store. Unset function fields
// return an empty envelope of the matching type.
type Store struct {
	mu    sync.Mutex
	calls []Call

	SearchPurchasesFunc    func(ctx context.Context, f store.PurchaseFilter) (*store.Envelope, error)
	SearchSalesFunc        func(ctx context.Context, f store.SalesFilter) (*store.Envelope, error)
	SearchNomenclatureFunc func(ctx context.Context, query string, limit int) (*store.Envelope, error)
	SearchClientsFunc      func(ctx context.Context, query string, limit int) (*store.Envelope, error)
	PriceDynamicsFunc      func(ctx context.Context, nomenclature string) (*store.Envelope, error)
	TopClientsFunc         func(ctx context.Context, f store.RangeFilter) (*store.Envelope, error)
	TopProductsFunc        func(ctx context.Context, f store.RangeFilter) (*store.Envelope, error)
	SummaryStatsFunc       func(ctx context.Context) (*store.Envelope, error)
}

var _ store.Store = (*Store)(nil)

func (s *Store) record(op string, arg any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: op, Arg: arg})
}

// Calls returns a copy of all recorded invocations in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func empty(typ string) *store.Envelope {
	return &store.Envelope{Type: typ, Data: []map[string]any{}}
}

func (s *Store) SearchPurchases(ctx context.Context, f store.PurchaseFilter) (*store.Envelope, error) {
	s.record("SearchPurchases", f)
	if s.SearchPurchasesFunc != nil {
		return s.SearchPurchasesFunc(ctx, f)
	}
	return empty("purchases"), nil
}

func (s *Store) SearchSales(ctx context.Context, f store.SalesFilter) (*store.Envelope, error) {
	s.record("SearchSales", f)
	if s.SearchSalesFunc != nil {
		return s.SearchSalesFunc(ctx, f)
	}
	return empty("sales"), nil
}

func (s *Store) SearchNomenclature(ctx context.Context, query string, limit int) (*store.Envelope, error) {
	s.record("SearchNomenclature", query)
	if s.SearchNomenclatureFunc != nil {
		return s.SearchNomenclatureFunc(ctx, query, limit)
	}
	return empty("nomenclature"), nil
}

func (s *Store) SearchClients(ctx context.Context, query string, limit int) (*store.Envelope, error) {
	s.record("SearchClients", query)
	if s.SearchClientsFunc != nil {
		return s.SearchClientsFunc(ctx, query, limit)
	}
	return empty("clients"), nil
}

func (s *Store) PriceDynamics(ctx context.Context, nomenclature string) (*store.Envelope, error) {
	s.record("PriceDynamics", nomenclature)
	if s.PriceDynamicsFunc != nil {
		return s.PriceDynamicsFunc(ctx, nomenclature)
	}
	return empty("price_dynamics"), nil
}

func (s *Store) TopClients(ctx context.Context, f store.RangeFilter) (*store.Envelope, error) {
	s.record("TopClients", f)
	if s.TopClientsFunc != nil {
		return s.TopClientsFunc(ctx, f)
	}
	return empty("top_clients"), nil
}

func (s *Store) TopProducts(ctx context.Context, f store.RangeFilter) (*store.Envelope, error) {
	s.record("TopProducts", f)
	if s.TopProductsFunc != nil {
		return s.TopProductsFunc(ctx, f)
	}
	return empty("top_products"), nil
}

func (s *Store) SummaryStats(ctx context.Context) (*store.Envelope, error) {
	s.record("SummaryStats", nil)
	if s.SummaryStatsFunc != nil {
		return s.SummaryStatsFunc(ctx)
	}
	return empty("summary"), nil
}
