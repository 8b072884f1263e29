package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the trade tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
// The embedding column backs semantic catalog search; it stays NULL until
// the indexer has run.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS nomenclature_types (
    id   BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS nomenclature (
    id        BIGSERIAL PRIMARY KEY,
    name      TEXT NOT NULL,
    article   TEXT NOT NULL DEFAULT '',
    code      TEXT NOT NULL DEFAULT '',
    type_id   BIGINT REFERENCES nomenclature_types(id),
    is_folder BOOLEAN NOT NULL DEFAULT false,
    embedding vector(1536)
);
CREATE INDEX IF NOT EXISTS idx_nomenclature_name ON nomenclature(name);

CREATE TABLE IF NOT EXISTS clients (
    id   BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL,
    inn  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_clients_name ON clients(name);

CREATE TABLE IF NOT EXISTS purchase_prices (
    id                BIGSERIAL PRIMARY KEY,
    doc_date          DATE NOT NULL,
    doc_number        TEXT NOT NULL DEFAULT '',
    contractor_name   TEXT NOT NULL,
    nomenclature_name TEXT NOT NULL,
    quantity          NUMERIC NOT NULL DEFAULT 0,
    price             NUMERIC NOT NULL DEFAULT 0,
    sum_total         NUMERIC NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_purchase_prices_date ON purchase_prices(doc_date);
CREATE INDEX IF NOT EXISTS idx_purchase_prices_nomenclature ON purchase_prices(nomenclature_name);

CREATE TABLE IF NOT EXISTS sales (
    id                BIGSERIAL PRIMARY KEY,
    doc_type          TEXT NOT NULL,
    doc_date          DATE NOT NULL,
    doc_number        TEXT NOT NULL DEFAULT '',
    client_name       TEXT NOT NULL,
    nomenclature_name TEXT NOT NULL,
    quantity          NUMERIC NOT NULL DEFAULT 0,
    price             NUMERIC NOT NULL DEFAULT 0,
    sum_with_vat      NUMERIC NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sales_date ON sales(doc_date);
CREATE INDEX IF NOT EXISTS idx_sales_client ON sales(client_name);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the trade
// tables and indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// SearchPurchases implements [Store].
func (s *PostgresStore) SearchPurchases(ctx context.Context, f PurchaseFilter) (*Envelope, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where := "TRUE"
	if f.Query != "" {
		p := next(like(f.Query))
		where += fmt.Sprintf(" AND (nomenclature_name ILIKE %s OR contractor_name ILIKE %s)", p, p)
	}
	if f.Supplier != "" {
		where += " AND contractor_name ILIKE " + next(like(f.Supplier))
	}
	if f.DateFrom != "" {
		where += " AND doc_date >= " + next(f.DateFrom)
	}
	if f.DateTo != "" {
		where += " AND doc_date <= " + next(f.DateTo)
	}

	statsArgs := append([]any(nil), args...)
	limit := next(clampLimit(f.Limit, DefaultSearchLimit))

	query := `
		SELECT doc_date, doc_number, contractor_name, nomenclature_name, quantity, price, sum_total
		FROM purchase_prices
		WHERE ` + where + `
		ORDER BY doc_date DESC, id DESC
		LIMIT ` + limit

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search purchases: %w", err)
	}
	defer rows.Close()

	data := []map[string]any{}
	for rows.Next() {
		var (
			docDate                     time.Time
			docNumber, supplier, item   string
			quantity, price, total      float64
		)
		if err := rows.Scan(&docDate, &docNumber, &supplier, &item, &quantity, &price, &total); err != nil {
			return nil, fmt.Errorf("store: search purchases: scan: %w", err)
		}
		data = append(data, map[string]any{
			"date":     docDate.Format("2006-01-02"),
			"number":   docNumber,
			"supplier": supplier,
			"product":  item,
			"quantity": quantity,
			"price":    price,
			"sum":      total,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search purchases: rows: %w", err)
	}

	statsQuery := `
		SELECT COUNT(*),
		       COUNT(DISTINCT contractor_name),
		       COUNT(DISTINCT nomenclature_name),
		       COALESCE(SUM(sum_total), 0),
		       MIN(doc_date),
		       MAX(doc_date)
		FROM purchase_prices
		WHERE ` + where

	var (
		totalRecords, suppliers, products int64
		totalSum                          float64
		minDate, maxDate                  *time.Time
	)
	err = s.db.QueryRow(ctx, statsQuery, statsArgs...).
		Scan(&totalRecords, &suppliers, &products, &totalSum, &minDate, &maxDate)
	if err != nil {
		return nil, fmt.Errorf("store: search purchases: stats: %w", err)
	}

	return &Envelope{
		Type: "purchases",
		Data: data,
		Stats: map[string]any{
			"total_records":    totalRecords,
			"unique_suppliers": suppliers,
			"unique_products":  products,
			"total_sum":        totalSum,
			"period_from":      formatDate(minDate),
			"period_to":        formatDate(maxDate),
		},
	}, nil
}

// SearchSales implements [Store].
func (s *PostgresStore) SearchSales(ctx context.Context, f SalesFilter) (*Envelope, error) {
	if f.DocType != "" && f.DocType != DocTypeSale && f.DocType != DocTypeCorrection {
		return nil, fmt.Errorf("store: search sales: unknown doc type %q", f.DocType)
	}

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where := "TRUE"
	if f.Query != "" {
		p := next(like(f.Query))
		where += fmt.Sprintf(" AND (nomenclature_name ILIKE %s OR client_name ILIKE %s)", p, p)
	}
	if f.Client != "" {
		where += " AND client_name ILIKE " + next(like(f.Client))
	}
	if f.DocType != "" {
		where += " AND doc_type = " + next(f.DocType)
	}
	if f.DateFrom != "" {
		where += " AND doc_date >= " + next(f.DateFrom)
	}
	if f.DateTo != "" {
		where += " AND doc_date <= " + next(f.DateTo)
	}

	statsArgs := append([]any(nil), args...)
	limit := next(clampLimit(f.Limit, DefaultSearchLimit))

	query := `
		SELECT doc_type, doc_date, doc_number, client_name, nomenclature_name, quantity, price, sum_with_vat
		FROM sales
		WHERE ` + where + `
		ORDER BY doc_date DESC, id DESC
		LIMIT ` + limit

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search sales: %w", err)
	}
	defer rows.Close()

	data := []map[string]any{}
	for rows.Next() {
		var (
			docType, docNumber, client, item string
			docDate                          time.Time
			quantity, price, total           float64
		)
		if err := rows.Scan(&docType, &docDate, &docNumber, &client, &item, &quantity, &price, &total); err != nil {
			return nil, fmt.Errorf("store: search sales: scan: %w", err)
		}
		data = append(data, map[string]any{
			"doc_type": docType,
			"date":     docDate.Format("2006-01-02"),
			"number":   docNumber,
			"client":   client,
			"product":  item,
			"quantity": quantity,
			"price":    price,
			"sum":      total,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search sales: rows: %w", err)
	}

	statsQuery := `
		SELECT COUNT(*),
		       COUNT(DISTINCT client_name),
		       COALESCE(SUM(CASE WHEN doc_type = 'Реализация' THEN sum_with_vat END), 0),
		       COALESCE(SUM(CASE WHEN doc_type = 'Корректировка' THEN sum_with_vat END), 0)
		FROM sales
		WHERE ` + where

	var (
		totalRecords, clients     int64
		salesSum, correctionsSum  float64
	)
	err = s.db.QueryRow(ctx, statsQuery, statsArgs...).
		Scan(&totalRecords, &clients, &salesSum, &correctionsSum)
	if err != nil {
		return nil, fmt.Errorf("store: search sales: stats: %w", err)
	}

	return &Envelope{
		Type: "sales",
		Data: data,
		Stats: map[string]any{
			"total_records":   totalRecords,
			"unique_clients":  clients,
			"sales_sum":       salesSum,
			"corrections_sum": correctionsSum,
		},
	}, nil
}

// SearchNomenclature implements [Store].
func (s *PostgresStore) SearchNomenclature(ctx context.Context, query string, limit int) (*Envelope, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where := "n.is_folder = false"
	if query != "" {
		p := next(like(query))
		where += fmt.Sprintf(" AND (n.name ILIKE %s OR n.article ILIKE %s OR n.code ILIKE %s)", p, p, p)
	}

	countArgs := append([]any(nil), args...)

	q := `
		SELECT n.name, n.article, n.code, COALESCE(t.name, '')
		FROM nomenclature n
		LEFT JOIN nomenclature_types t ON n.type_id = t.id
		WHERE ` + where + `
		ORDER BY n.name
		LIMIT ` + next(clampLimit(limit, DefaultCatalogLimit))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search nomenclature: %w", err)
	}
	defer rows.Close()

	data := []map[string]any{}
	for rows.Next() {
		var name, article, code, typeName string
		if err := rows.Scan(&name, &article, &code, &typeName); err != nil {
			return nil, fmt.Errorf("store: search nomenclature: scan: %w", err)
		}
		data = append(data, map[string]any{
			"name":    name,
			"article": article,
			"code":    code,
			"type":    typeName,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search nomenclature: rows: %w", err)
	}

	var totalFound int64
	countQuery := `SELECT COUNT(*) FROM nomenclature n WHERE ` + where
	if err := s.db.QueryRow(ctx, countQuery, countArgs...).Scan(&totalFound); err != nil {
		return nil, fmt.Errorf("store: search nomenclature: count: %w", err)
	}

	return &Envelope{
		Type:  "nomenclature",
		Data:  data,
		Stats: map[string]any{"total_found": totalFound},
	}, nil
}

// SearchClients implements [Store].
func (s *PostgresStore) SearchClients(ctx context.Context, query string, limit int) (*Envelope, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where := "TRUE"
	if query != "" {
		p := next(like(query))
		where += fmt.Sprintf(" AND (name ILIKE %s OR inn ILIKE %s)", p, p)
	}

	countArgs := append([]any(nil), args...)

	q := `
		SELECT name, inn
		FROM clients
		WHERE ` + where + `
		ORDER BY name
		LIMIT ` + next(clampLimit(limit, DefaultCatalogLimit))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search clients: %w", err)
	}
	defer rows.Close()

	data := []map[string]any{}
	for rows.Next() {
		var name, inn string
		if err := rows.Scan(&name, &inn); err != nil {
			return nil, fmt.Errorf("store: search clients: scan: %w", err)
		}
		data = append(data, map[string]any{
			"name": name,
			"inn":  inn,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search clients: rows: %w", err)
	}

	var totalFound int64
	countQuery := `SELECT COUNT(*) FROM clients WHERE ` + where
	if err := s.db.QueryRow(ctx, countQuery, countArgs...).Scan(&totalFound); err != nil {
		return nil, fmt.Errorf("store: search clients: count: %w", err)
	}

	return &Envelope{
		Type:  "clients",
		Data:  data,
		Stats: map[string]any{"total_found": totalFound},
	}, nil
}

// PriceDynamics implements [Store].
func (s *PostgresStore) PriceDynamics(ctx context.Context, nomenclature string) (*Envelope, error) {
	const q = `
		SELECT doc_date, contractor_name, quantity, price
		FROM purchase_prices
		WHERE nomenclature_name ILIKE $1
		ORDER BY doc_date, id`

	rows, err := s.db.Query(ctx, q, like(nomenclature))
	if err != nil {
		return nil, fmt.Errorf("store: price dynamics: %w", err)
	}
	defer rows.Close()

	data := []map[string]any{}
	var prices []float64
	for rows.Next() {
		var (
			docDate         time.Time
			supplier        string
			quantity, price float64
		)
		if err := rows.Scan(&docDate, &supplier, &quantity, &price); err != nil {
			return nil, fmt.Errorf("store: price dynamics: scan: %w", err)
		}
		data = append(data, map[string]any{
			"date":     docDate.Format("2006-01-02"),
			"supplier": supplier,
			"quantity": quantity,
			"price":    price,
		})
		prices = append(prices, price)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: price dynamics: rows: %w", err)
	}

	// No matching purchases is a distinct outcome, not a zero-filled stats
	// block.
	if len(prices) == 0 {
		return &Envelope{
			Type:    "price_dynamics",
			Data:    data,
			Message: fmt.Sprintf("Закупки по номенклатуре %q не найдены", nomenclature),
		}, nil
	}

	minP, maxP, sum := prices[0], prices[0], 0.0
	for _, p := range prices {
		if p < minP {
			minP = p
		}
		if p > maxP {
			maxP = p
		}
		sum += p
	}
	first, last := prices[0], prices[len(prices)-1]

	stats := map[string]any{
		"purchases":   len(prices),
		"min_price":   minP,
		"max_price":   maxP,
		"avg_price":   round1(sum / float64(len(prices))),
		"first_price": first,
		"last_price":  last,
	}
	if first != 0 {
		stats["change_pct"] = round1((last - first) / first * 100)
	}

	return &Envelope{Type: "price_dynamics", Data: data, Stats: stats}, nil
}

// TopClients implements [Store].
func (s *PostgresStore) TopClients(ctx context.Context, f RangeFilter) (*Envelope, error) {
	args := []any{DocTypeSale}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where := "doc_type = $1"
	if f.DateFrom != "" {
		where += " AND doc_date >= " + next(f.DateFrom)
	}
	if f.DateTo != "" {
		where += " AND doc_date <= " + next(f.DateTo)
	}

	q := `
		SELECT client_name, COALESCE(SUM(sum_with_vat), 0), COUNT(DISTINCT doc_number)
		FROM sales
		WHERE ` + where + `
		GROUP BY client_name
		ORDER BY 2 DESC
		LIMIT ` + next(clampLimit(f.Limit, DefaultTopLimit))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: top clients: %w", err)
	}
	defer rows.Close()

	data := []map[string]any{}
	for rows.Next() {
		var (
			client string
			total  float64
			docs   int64
		)
		if err := rows.Scan(&client, &total, &docs); err != nil {
			return nil, fmt.Errorf("store: top clients: scan: %w", err)
		}
		data = append(data, map[string]any{
			"client":    client,
			"total_sum": total,
			"documents": docs,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: top clients: rows: %w", err)
	}

	return &Envelope{Type: "top_clients", Data: data}, nil
}

// TopProducts implements [Store].
func (s *PostgresStore) TopProducts(ctx context.Context, f RangeFilter) (*Envelope, error) {
	args := []any{DocTypeSale}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where := "doc_type = $1"
	if f.DateFrom != "" {
		where += " AND doc_date >= " + next(f.DateFrom)
	}
	if f.DateTo != "" {
		where += " AND doc_date <= " + next(f.DateTo)
	}

	q := `
		SELECT nomenclature_name, COALESCE(SUM(quantity), 0), COALESCE(SUM(sum_with_vat), 0)
		FROM sales
		WHERE ` + where + `
		GROUP BY nomenclature_name
		ORDER BY 3 DESC
		LIMIT ` + next(clampLimit(f.Limit, DefaultTopLimit))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: top products: %w", err)
	}
	defer rows.Close()

	data := []map[string]any{}
	for rows.Next() {
		var (
			product         string
			quantity, total float64
		)
		if err := rows.Scan(&product, &quantity, &total); err != nil {
			return nil, fmt.Errorf("store: top products: scan: %w", err)
		}
		data = append(data, map[string]any{
			"product":   product,
			"quantity":  quantity,
			"total_sum": total,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: top products: rows: %w", err)
	}

	return &Envelope{Type: "top_products", Data: data}, nil
}

// SummaryStats implements [Store].
func (s *PostgresStore) SummaryStats(ctx context.Context) (*Envelope, error) {
	var (
		purchaseCount, salesCount, itemCount, clientCount int64
		purchaseSum, salesSum, correctionsSum             float64
		purchaseFrom, purchaseTo, salesFrom, salesTo      *time.Time
	)

	const purchasesQ = `
		SELECT COUNT(*), COALESCE(SUM(sum_total), 0), MIN(doc_date), MAX(doc_date)
		FROM purchase_prices`
	if err := s.db.QueryRow(ctx, purchasesQ).
		Scan(&purchaseCount, &purchaseSum, &purchaseFrom, &purchaseTo); err != nil {
		return nil, fmt.Errorf("store: summary: purchases: %w", err)
	}

	const salesQ = `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN doc_type = 'Реализация' THEN sum_with_vat END), 0),
		       COALESCE(SUM(CASE WHEN doc_type = 'Корректировка' THEN sum_with_vat END), 0),
		       MIN(doc_date), MAX(doc_date)
		FROM sales`
	if err := s.db.QueryRow(ctx, salesQ).
		Scan(&salesCount, &salesSum, &correctionsSum, &salesFrom, &salesTo); err != nil {
		return nil, fmt.Errorf("store: summary: sales: %w", err)
	}

	const itemsQ = `SELECT COUNT(*) FROM nomenclature WHERE is_folder = false`
	if err := s.db.QueryRow(ctx, itemsQ).Scan(&itemCount); err != nil {
		return nil, fmt.Errorf("store: summary: nomenclature: %w", err)
	}

	const clientsQ = `SELECT COUNT(*) FROM clients`
	if err := s.db.QueryRow(ctx, clientsQ).Scan(&clientCount); err != nil {
		return nil, fmt.Errorf("store: summary: clients: %w", err)
	}

	return &Envelope{
		Type: "summary",
		Data: []map[string]any{},
		Stats: map[string]any{
			"purchases": map[string]any{
				"records":     purchaseCount,
				"total_sum":   purchaseSum,
				"period_from": formatDate(purchaseFrom),
				"period_to":   formatDate(purchaseTo),
			},
			"sales": map[string]any{
				"records":         salesCount,
				"sales_sum":       salesSum,
				"corrections_sum": correctionsSum,
				"period_from":     formatDate(salesFrom),
				"period_to":       formatDate(salesTo),
			},
			"nomenclature_items": itemCount,
			"clients":            clientCount,
		},
	}, nil
}

// like wraps a user-supplied term for a substring ILIKE match. The term is
// still bound as a placeholder value, never spliced into the SQL text.
func like(term string) string {
	return "%" + term + "%"
}

// formatDate renders a nullable date as "YYYY-MM-DD" or an empty string.
func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// round1 rounds to one decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
