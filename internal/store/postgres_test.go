package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------------------------------------------------------------------------
// Test helpers — mock DB types
// ---------------------------------------------------------------------------

// setVals assigns vals to scan destinations by type.
func setVals(dest []any, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(vals), len(dest))
	}
	for i, v := range vals {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *float64:
			*d = v.(float64)
		case *int64:
			*d = v.(int64)
		case *time.Time:
			*d = v.(time.Time)
		case **time.Time:
			if v == nil {
				*d = nil
			} else {
				t := v.(time.Time)
				*d = &t
			}
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// mockRow implements pgx.Row for testing.
type mockRow struct {
	vals []any
	err  error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return setVals(dest, r.vals)
}

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	return setVals(dest, r.data[r.idx-1])
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{err: pgx.ErrNoRows}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// ---------------------------------------------------------------------------
// Migrate
// ---------------------------------------------------------------------------

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	var gotSQL string
	db := &mockDB{
		execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
			gotSQL = sql
			return pgconn.CommandTag{}, nil
		},
	}
	s := NewPostgresStore(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotSQL, "CREATE TABLE IF NOT EXISTS purchase_prices") {
		t.Error("expected schema DDL to create purchase_prices")
	}

	db.execFunc = func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	err := s.Migrate(context.Background())
	if err == nil || !strings.Contains(err.Error(), "store: migrate") {
		t.Errorf("expected wrapped migrate error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// SearchPurchases
// ---------------------------------------------------------------------------

func TestSearchPurchases_FiltersAndStats(t *testing.T) {
	t.Parallel()

	var dataSQL string
	var dataArgs []any
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			dataSQL = sql
			dataArgs = args
			return &mockRows{data: [][]any{
				{date("2025-07-10"), "П-0042", `ООО "Мельник"`, "Мука пшеничная в/с", 500.0, 42.5, 21250.0},
			}}, nil
		},
		queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{vals: []any{
				int64(12), int64(3), int64(2), 125000.0, date("2025-01-15"), date("2025-07-10"),
			}}
		},
	}

	s := NewPostgresStore(db)
	env, err := s.SearchPurchases(context.Background(), PurchaseFilter{
		Query:    "мука",
		Supplier: "мельник",
		DateFrom: "2025-01-01",
		DateTo:   "2025-07-31",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Every filter value must be bound, never spliced into the SQL text.
	if strings.Contains(dataSQL, "мука") || strings.Contains(dataSQL, "мельник") {
		t.Error("filter values leaked into the SQL text")
	}
	if want := 5; len(dataArgs) != want { // query, supplier, 2 dates, limit
		t.Fatalf("expected %d args, got %d: %v", want, len(dataArgs), dataArgs)
	}
	if dataArgs[0] != "%мука%" {
		t.Errorf("expected ILIKE-wrapped query, got %v", dataArgs[0])
	}
	if dataArgs[4] != DefaultSearchLimit {
		t.Errorf("expected default limit %d, got %v", DefaultSearchLimit, dataArgs[4])
	}

	if env.Type != "purchases" {
		t.Errorf("expected type purchases, got %s", env.Type)
	}
	if len(env.Data) != 1 {
		t.Fatalf("expected 1 row, got %d", len(env.Data))
	}
	if env.Data[0]["date"] != "2025-07-10" {
		t.Errorf("expected formatted date, got %v", env.Data[0]["date"])
	}
	if env.Stats["total_records"] != int64(12) {
		t.Errorf("expected total_records 12, got %v", env.Stats["total_records"])
	}
	if env.Stats["period_from"] != "2025-01-15" {
		t.Errorf("expected period_from 2025-01-15, got %v", env.Stats["period_from"])
	}
}

func TestSearchPurchases_NoFiltersEmptyResult(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			if len(args) != 1 { // limit only
				t.Errorf("expected 1 arg for unfiltered query, got %d", len(args))
			}
			return &mockRows{}, nil
		},
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			// Aggregates over an empty table come back zeroed, dates NULL.
			return &mockRow{vals: []any{int64(0), int64(0), int64(0), 0.0, nil, nil}}
		},
	}

	env, err := NewPostgresStore(db).SearchPurchases(context.Background(), PurchaseFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Data == nil || len(env.Data) != 0 {
		t.Errorf("expected non-nil empty data, got %v", env.Data)
	}
	if env.Stats["total_sum"] != 0.0 {
		t.Errorf("expected zero total_sum, got %v", env.Stats["total_sum"])
	}
	if env.Stats["period_from"] != "" {
		t.Errorf("expected empty period_from, got %v", env.Stats["period_from"])
	}
}

func TestSearchPurchases_LimitCap(t *testing.T) {
	t.Parallel()

	var gotLimit any
	db := &mockDB{
		queryFunc: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
			gotLimit = args[len(args)-1]
			return &mockRows{}, nil
		},
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &mockRow{vals: []any{int64(0), int64(0), int64(0), 0.0, nil, nil}}
		},
	}

	_, err := NewPostgresStore(db).SearchPurchases(context.Background(), PurchaseFilter{Limit: 10_000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotLimit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %v", MaxLimit, gotLimit)
	}
}

// ---------------------------------------------------------------------------
// SearchSales
// ---------------------------------------------------------------------------

func TestSearchSales_UnknownDocType(t *testing.T) {
	t.Parallel()

	s := NewPostgresStore(&mockDB{})
	_, err := s.SearchSales(context.Background(), SalesFilter{DocType: "Счёт"})
	if err == nil || !strings.Contains(err.Error(), "unknown doc type") {
		t.Errorf("expected unknown doc type error, got %v", err)
	}
}

func TestSearchSales_StatsSplitByDocType(t *testing.T) {
	t.Parallel()

	var statsSQL string
	db := &mockDB{
		queryFunc: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
			return &mockRows{data: [][]any{
				{DocTypeSale, date("2025-06-01"), "Р-001", `ООО "Лента"`, "Зефир ванильный", 100.0, 250.0, 25000.0},
			}}, nil
		},
		queryRowFunc: func(_ context.Context, sql string, _ ...any) pgx.Row {
			statsSQL = sql
			return &mockRow{vals: []any{int64(7), int64(2), 90000.0, -4500.0}}
		},
	}

	env, err := NewPostgresStore(db).SearchSales(context.Background(), SalesFilter{Client: "лента"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(statsSQL, "Реализация") || !strings.Contains(statsSQL, "Корректировка") {
		t.Error("expected stats query to split sums by document type")
	}
	if env.Stats["sales_sum"] != 90000.0 {
		t.Errorf("expected sales_sum 90000, got %v", env.Stats["sales_sum"])
	}
	if env.Stats["corrections_sum"] != -4500.0 {
		t.Errorf("expected corrections_sum -4500, got %v", env.Stats["corrections_sum"])
	}
	if env.Data[0]["doc_type"] != DocTypeSale {
		t.Errorf("expected doc_type in row, got %v", env.Data[0]["doc_type"])
	}
}

func TestSearchSales_QueryMatchesProductOrClient(t *testing.T) {
	t.Parallel()

	var dataSQL string
	var dataArgs []any
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			dataSQL = sql
			dataArgs = args
			return &mockRows{}, nil
		},
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &mockRow{vals: []any{int64(0), int64(0), 0.0, 0.0}}
		},
	}

	_, err := NewPostgresStore(db).SearchSales(context.Background(), SalesFilter{Query: "лента"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The free-text term matches both the product and the client columns.
	if !strings.Contains(dataSQL, "nomenclature_name ILIKE") || !strings.Contains(dataSQL, "client_name ILIKE") {
		t.Errorf("free-text filter must cover product and client names, got %s", dataSQL)
	}
	if len(dataArgs) != 2 || dataArgs[0] != "%лента%" {
		t.Errorf("unexpected query args: %v", dataArgs)
	}
}

// ---------------------------------------------------------------------------
// SearchNomenclature / SearchClients
// ---------------------------------------------------------------------------

func TestSearchNomenclature_ExcludesFoldersAndCounts(t *testing.T) {
	t.Parallel()

	var dataSQL, countSQL string
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
			dataSQL = sql
			return &mockRows{data: [][]any{
				{"Зефир ванильный", "ЗФ-001", "00000123", "Готовая продукция"},
			}}, nil
		},
		queryRowFunc: func(_ context.Context, sql string, _ ...any) pgx.Row {
			countSQL = sql
			return &mockRow{vals: []any{int64(42)}}
		},
	}

	env, err := NewPostgresStore(db).SearchNomenclature(context.Background(), "зефир", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for name, sql := range map[string]string{"data": dataSQL, "count": countSQL} {
		if !strings.Contains(sql, "is_folder = false") {
			t.Errorf("%s query must exclude folders", name)
		}
	}
	if env.Stats["total_found"] != int64(42) {
		t.Errorf("expected total_found 42, got %v", env.Stats["total_found"])
	}
	if env.Data[0]["type"] != "Готовая продукция" {
		t.Errorf("expected joined type name, got %v", env.Data[0]["type"])
	}
}

func TestSearchClients_MatchesNameOrINN(t *testing.T) {
	t.Parallel()

	var gotSQL string
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			gotSQL = sql
			return &mockRows{data: [][]any{
				{`ООО "Лента"`, "7814148471"},
			}}, nil
		},
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &mockRow{vals: []any{int64(3)}}
		},
	}

	env, err := NewPostgresStore(db).SearchClients(context.Background(), "7814", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotSQL, "inn ILIKE") {
		t.Error("expected INN to participate in the match")
	}
	if env.Data[0]["inn"] != "7814148471" {
		t.Errorf("unexpected row: %v", env.Data[0])
	}
	// The count reflects all matches, not just the returned page.
	if env.Stats["total_found"] != int64(3) {
		t.Errorf("expected total_found 3, got %v", env.Stats["total_found"])
	}
}

// ---------------------------------------------------------------------------
// PriceDynamics
// ---------------------------------------------------------------------------

func TestPriceDynamics_NotFound(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryFunc: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
			return &mockRows{}, nil
		},
	}

	env, err := NewPostgresStore(db).PriceDynamics(context.Background(), "патока")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Message == "" {
		t.Error("expected not-found message")
	}
	if env.Stats != nil {
		t.Errorf("no-match result must not carry a stats block, got %v", env.Stats)
	}
	if len(env.Data) != 0 {
		t.Errorf("expected empty data, got %v", env.Data)
	}
}

func TestPriceDynamics_Stats(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryFunc: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
			if args[0] != "%мука%" {
				t.Errorf("expected wrapped term, got %v", args[0])
			}
			return &mockRows{data: [][]any{
				{date("2025-01-10"), "Поставщик А", 100.0, 40.0},
				{date("2025-03-05"), "Поставщик Б", 200.0, 44.0},
				{date("2025-06-20"), "Поставщик А", 150.0, 50.0},
			}}, nil
		},
	}

	env, err := NewPostgresStore(db).PriceDynamics(context.Background(), "мука")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Stats["min_price"] != 40.0 || env.Stats["max_price"] != 50.0 {
		t.Errorf("unexpected min/max: %v", env.Stats)
	}
	if env.Stats["first_price"] != 40.0 || env.Stats["last_price"] != 50.0 {
		t.Errorf("unexpected first/last: %v", env.Stats)
	}
	// (50-40)/40*100 = 25.0, avg (40+44+50)/3 = 44.7 after rounding.
	if env.Stats["change_pct"] != 25.0 {
		t.Errorf("expected change_pct 25.0, got %v", env.Stats["change_pct"])
	}
	if env.Stats["avg_price"] != 44.7 {
		t.Errorf("expected avg_price 44.7, got %v", env.Stats["avg_price"])
	}
}

func TestPriceDynamics_ZeroFirstPrice(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryFunc: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
			return &mockRows{data: [][]any{
				{date("2025-01-10"), "Поставщик А", 10.0, 0.0},
				{date("2025-02-10"), "Поставщик А", 10.0, 5.0},
			}}, nil
		},
	}

	env, err := NewPostgresStore(db).PriceDynamics(context.Background(), "образец")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := env.Stats["change_pct"]; ok {
		t.Error("change_pct must be omitted when the first price is zero")
	}
}

// ---------------------------------------------------------------------------
// TopClients / TopProducts
// ---------------------------------------------------------------------------

func TestTopClients_OnlySalesDocs(t *testing.T) {
	t.Parallel()

	var gotArgs []any
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			gotArgs = args
			if !strings.Contains(sql, "GROUP BY client_name") {
				t.Error("expected grouping by client")
			}
			return &mockRows{data: [][]any{
				{`ООО "Лента"`, 1_500_000.0, int64(34)},
				{`АО "Дикси"`, 900_000.0, int64(21)},
			}}, nil
		},
	}

	env, err := NewPostgresStore(db).TopClients(context.Background(), RangeFilter{
		DateFrom: "2025-01-01",
		Limit:    2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotArgs[0] != DocTypeSale {
		t.Errorf("ranking must only cover %q documents, got %v", DocTypeSale, gotArgs[0])
	}
	if len(env.Data) != 2 || env.Data[0]["client"] != `ООО "Лента"` {
		t.Errorf("unexpected ranking: %v", env.Data)
	}
	if env.Data[0]["documents"] != int64(34) {
		t.Errorf("expected document count, got %v", env.Data[0]["documents"])
	}
}

func TestTopProducts_RankedByRevenue(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			if !strings.Contains(sql, "GROUP BY nomenclature_name") {
				t.Error("expected grouping by product")
			}
			if args[len(args)-1] != DefaultTopLimit {
				t.Errorf("expected default limit %d, got %v", DefaultTopLimit, args[len(args)-1])
			}
			return &mockRows{data: [][]any{
				{"Зефир ванильный", 12_000.0, 3_000_000.0},
			}}, nil
		},
	}

	env, err := NewPostgresStore(db).TopProducts(context.Background(), RangeFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Data[0]["total_sum"] != 3_000_000.0 {
		t.Errorf("unexpected row: %v", env.Data[0])
	}
}

// ---------------------------------------------------------------------------
// SummaryStats
// ---------------------------------------------------------------------------

func TestSummaryStats(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryRowFunc: func(_ context.Context, sql string, _ ...any) pgx.Row {
			switch {
			case strings.Contains(sql, "purchase_prices"):
				return &mockRow{vals: []any{int64(1200), 5_400_000.0, date("2024-01-09"), date("2025-08-01")}}
			case strings.Contains(sql, "FROM sales"):
				return &mockRow{vals: []any{int64(3400), 21_000_000.0, -340_000.0, date("2024-01-03"), date("2025-08-15")}}
			case strings.Contains(sql, "nomenclature"):
				return &mockRow{vals: []any{int64(418)}}
			default:
				return &mockRow{vals: []any{int64(77)}}
			}
		},
	}

	env, err := NewPostgresStore(db).SummaryStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	purchases := env.Stats["purchases"].(map[string]any)
	if purchases["records"] != int64(1200) || purchases["period_to"] != "2025-08-01" {
		t.Errorf("unexpected purchases summary: %v", purchases)
	}
	sales := env.Stats["sales"].(map[string]any)
	if sales["sales_sum"] != 21_000_000.0 || sales["corrections_sum"] != -340_000.0 {
		t.Errorf("expected sales split by document type, got %v", sales)
	}
	if env.Stats["clients"] != int64(77) {
		t.Errorf("expected 77 clients, got %v", env.Stats["clients"])
	}
}

func TestSummaryStats_DBError(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &mockRow{err: errors.New("connection refused")}
		},
	}

	_, err := NewPostgresStore(db).SummaryStats(context.Background())
	if err == nil || !strings.Contains(err.Error(), "store: summary") {
		t.Errorf("expected wrapped summary error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Helpers and envelope
// ---------------------------------------------------------------------------

func TestClampLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		limit, def, want int
	}{
		{0, 20, 20},
		{-5, 30, 30},
		{15, 20, 15},
		{MaxLimit, 20, MaxLimit},
		{MaxLimit + 1, 20, MaxLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.limit, tt.def); got != tt.want {
			t.Errorf("clampLimit(%d, %d) = %d, want %d", tt.limit, tt.def, got, tt.want)
		}
	}
}

func TestEnvelope_JSON(t *testing.T) {
	t.Parallel()

	env := &Envelope{Type: "clients", Data: []map[string]any{}}
	got, err := env.JSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"type":"clients","data":[]}` {
		t.Errorf("unexpected JSON: %s", got)
	}
}
