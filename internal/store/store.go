// Package store implements read-only retrieval over the trade database:
// purchases, sales, the product catalog (nomenclature) and the client
// directory, as exported from the company's accounting system into PostgreSQL.
//
// Every operation returns an [Envelope] that serializes to compact JSON for
// consumption by an LLM. All queries are parameterized; user-supplied text is
// only ever bound as a placeholder value.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Document types present in the sales table.
const (
	DocTypeSale       = "Реализация"
	DocTypeCorrection = "Корректировка"
)

// Default and maximum row limits per operation.
const (
	DefaultSearchLimit  = 20
	DefaultCatalogLimit = 30
	DefaultTopLimit     = 10
	MaxLimit            = 200
)

// Envelope is the uniform result of every retrieval operation.
type Envelope struct {
	// Type tags the result kind ("purchases", "sales", "nomenclature",
	// "clients", "price_dynamics", "top_clients", "top_products", "summary").
	Type string `json:"type"`

	// Data holds the matched rows as flat column→value maps. Always present,
	// possibly empty; never nil after a successful call.
	Data []map[string]any `json:"data"`

	// Stats holds aggregates computed over the same predicate as Data.
	// Omitted for operations that have none, and for price dynamics with no
	// matching rows.
	Stats map[string]any `json:"stats,omitempty"`

	// Message carries a human-readable note, e.g. the "not found" marker for
	// price dynamics.
	Message string `json:"message,omitempty"`
}

// JSON renders the envelope as compact JSON.
func (e *Envelope) JSON() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("store: marshal envelope: %w", err)
	}
	return string(b), nil
}

// PurchaseFilter narrows a purchase search. Zero-value fields are omitted
// from the predicate. Date bounds are inclusive "YYYY-MM-DD" strings; either
// may be empty for an open-ended range.
type PurchaseFilter struct {
	Query    string
	Supplier string
	DateFrom string
	DateTo   string
	Limit    int
}

// SalesFilter narrows a sales search. DocType, when set, must be DocTypeSale
// or DocTypeCorrection.
type SalesFilter struct {
	Query    string
	Client   string
	DocType  string
	DateFrom string
	DateTo   string
	Limit    int
}

// RangeFilter narrows a top-N ranking to an inclusive date range.
type RangeFilter struct {
	DateFrom string
	DateTo   string
	Limit    int
}

// Store is the read-only retrieval interface over the trade database.
//
// Implementations must never interpolate filter values into SQL text and must
// be safe for concurrent use.
type Store interface {
	// SearchPurchases returns purchase records matching the filter, newest
	// first, with aggregate stats over the full matching set.
	SearchPurchases(ctx context.Context, f PurchaseFilter) (*Envelope, error)

	// SearchSales returns sales and correction records matching the filter,
	// newest first, with revenue split by document type.
	SearchSales(ctx context.Context, f SalesFilter) (*Envelope, error)

	// SearchNomenclature returns catalog items (folders excluded) whose
	// name, article or code matches query, ordered by name.
	SearchNomenclature(ctx context.Context, query string, limit int) (*Envelope, error)

	// SearchClients returns clients whose name or INN matches query,
	// ordered by name.
	SearchClients(ctx context.Context, query string, limit int) (*Envelope, error)

	// PriceDynamics returns the chronological purchase price history for one
	// product with min/max/avg/first/last stats and the percentage change
	// from first to last. When nothing matches, the envelope carries a
	// not-found message and no stats block.
	PriceDynamics(ctx context.Context, nomenclature string) (*Envelope, error)

	// TopClients ranks clients by sales revenue within the range.
	TopClients(ctx context.Context, f RangeFilter) (*Envelope, error)

	// TopProducts ranks products by sales revenue within the range.
	TopProducts(ctx context.Context, f RangeFilter) (*Envelope, error)

	// SummaryStats returns one-shot global counts, sums and date ranges for
	// every domain.
	SummaryStats(ctx context.Context) (*Envelope, error)
}

// clampLimit applies the default when limit is unset and the upper bound
// otherwise.
func clampLimit(limit, def int) int {
	switch {
	case limit <= 0:
		return def
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
