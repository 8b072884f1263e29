// Package agent implements the conversational analytics loop: a capability
// registry describing the data tools offered to the model, a dispatcher that
// executes tool invocations, and an orchestrator that drives the
// model/tool-call cycle until a final answer is produced.
package agent

import (
	"context"
	"fmt"

	"github.com/sweetmill/sweetmill/internal/store"
	"github.com/sweetmill/sweetmill/pkg/provider/llm"
)

// Arguments holds decoded tool-call arguments. The model sends JSON, so
// numbers arrive as float64 and everything else needs coercion; the accessors
// absorb those quirks instead of crashing on a malformed value.
type Arguments map[string]any

// String returns the string value for key, or "" when absent or not a string.
func (a Arguments) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// Int returns the integer value for key. JSON numbers decode as float64;
// whole floats are accepted, anything else yields 0.
func (a Arguments) Int(key string) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Handler executes one capability against the data layer.
type Handler func(ctx context.Context, args Arguments) (*store.Envelope, error)

// Capability describes one data tool offered to the model: its identity for
// the tool-calling protocol and the handler that serves it.
type Capability struct {
	// Name is the unique tool identifier used in tool calls.
	Name string

	// Description is the model's only basis for choosing this tool, so it
	// states the data domain and the typical user intent.
	Description string

	// Parameters is the JSON Schema of the tool's arguments.
	Parameters map[string]any

	// ResultType tags the envelope produced on failure so degraded results
	// keep the expected shape.
	ResultType string

	// Handler executes the capability.
	Handler Handler
}

// Registry is the static, ordered set of capabilities built once at startup.
type Registry struct {
	caps  []Capability
	index map[string]int
}

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithSemanticSearch registers the meaning-based catalog search capability.
// It is only offered when an embeddings provider is configured.
func WithSemanticSearch(idx *store.SemanticIndex) RegistryOption {
	return func(r *Registry) {
		r.add(Capability{
			Name: "semantic_search_products",
			Description: "Семантический поиск товаров по смыслу запроса. Используй, когда " +
				"точный поиск по подстроке (search_nomenclature) ничего не нашёл или " +
				"пользователь описывает товар своими словами.",
			Parameters: objectSchema(map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Описание товара в свободной форме",
				},
				"limit": limitSchema(store.DefaultTopLimit),
			}, "query"),
			ResultType: "semantic_products",
			Handler: func(ctx context.Context, args Arguments) (*store.Envelope, error) {
				return idx.SearchProducts(ctx, args.String("query"), args.Int("limit"))
			},
		})
	}
}

// NewRegistry builds the capability set over the given store.
func NewRegistry(st store.Store, opts ...RegistryOption) *Registry {
	r := &Registry{index: map[string]int{}}

	r.add(Capability{
		Name: "search_purchases",
		Description: "Поиск закупок сырья и материалов у поставщиков. Возвращает записи о " +
			"закупках и агрегаты: число записей, поставщиков, товаров, общую сумму и период.",
		Parameters: objectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Текст для поиска по названию товара или поставщика",
			},
			"supplier": map[string]any{
				"type":        "string",
				"description": "Название поставщика (частичное совпадение)",
			},
			"date_from": dateSchema("Начало периода, включительно"),
			"date_to":   dateSchema("Конец периода, включительно"),
			"limit":     limitSchema(store.DefaultSearchLimit),
		}),
		ResultType: "purchases",
		Handler: func(ctx context.Context, args Arguments) (*store.Envelope, error) {
			return st.SearchPurchases(ctx, store.PurchaseFilter{
				Query:    args.String("query"),
				Supplier: args.String("supplier"),
				DateFrom: args.String("date_from"),
				DateTo:   args.String("date_to"),
				Limit:    args.Int("limit"),
			})
		},
	})

	r.add(Capability{
		Name: "search_sales",
		Description: "Поиск продаж готовой продукции клиентам. Возвращает документы реализации " +
			"и корректировки с агрегатами: сумма продаж и сумма корректировок отдельно.",
		Parameters: objectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Текст для поиска по названию товара",
			},
			"client": map[string]any{
				"type":        "string",
				"description": "Название клиента (частичное совпадение)",
			},
			"doc_type": map[string]any{
				"type":        "string",
				"description": "Тип документа",
				"enum":        []string{store.DocTypeSale, store.DocTypeCorrection},
			},
			"date_from": dateSchema("Начало периода, включительно"),
			"date_to":   dateSchema("Конец периода, включительно"),
			"limit":     limitSchema(store.DefaultSearchLimit),
		}),
		ResultType: "sales",
		Handler: func(ctx context.Context, args Arguments) (*store.Envelope, error) {
			return st.SearchSales(ctx, store.SalesFilter{
				Query:    args.String("query"),
				Client:   args.String("client"),
				DocType:  args.String("doc_type"),
				DateFrom: args.String("date_from"),
				DateTo:   args.String("date_to"),
				Limit:    args.Int("limit"),
			})
		},
	})

	r.add(Capability{
		Name: "search_nomenclature",
		Description: "Поиск по справочнику номенклатуры (каталог товаров): название, артикул, " +
			"код и вид номенклатуры. Папки каталога исключаются.",
		Parameters: objectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Название, артикул или код товара",
			},
			"limit": limitSchema(store.DefaultCatalogLimit),
		}),
		ResultType: "nomenclature",
		Handler: func(ctx context.Context, args Arguments) (*store.Envelope, error) {
			return st.SearchNomenclature(ctx, args.String("query"), args.Int("limit"))
		},
	})

	r.add(Capability{
		Name: "search_clients",
		Description: "Поиск по справочнику клиентов: название организации и ИНН " +
			"(частичное совпадение).",
		Parameters: objectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Название клиента или ИНН",
			},
			"limit": limitSchema(store.DefaultCatalogLimit),
		}),
		ResultType: "clients",
		Handler: func(ctx context.Context, args Arguments) (*store.Envelope, error) {
			return st.SearchClients(ctx, args.String("query"), args.Int("limit"))
		},
	})

	r.add(Capability{
		Name: "get_price_dynamics",
		Description: "Динамика закупочных цен на конкретный товар: история цен по датам и " +
			"статистика — минимум, максимум, средняя, первая и последняя цена, изменение в процентах.",
		Parameters: objectSchema(map[string]any{
			"nomenclature": map[string]any{
				"type":        "string",
				"description": "Название товара (частичное совпадение)",
			},
		}, "nomenclature"),
		ResultType: "price_dynamics",
		Handler: func(ctx context.Context, args Arguments) (*store.Envelope, error) {
			return st.PriceDynamics(ctx, args.String("nomenclature"))
		},
	})

	r.add(Capability{
		Name: "get_top_clients",
		Description: "Рейтинг клиентов по выручке за период: сумма продаж и число документов " +
			"по каждому клиенту, по убыванию выручки.",
		Parameters: objectSchema(map[string]any{
			"date_from": dateSchema("Начало периода, включительно"),
			"date_to":   dateSchema("Конец периода, включительно"),
			"limit":     limitSchema(store.DefaultTopLimit),
		}),
		ResultType: "top_clients",
		Handler: func(ctx context.Context, args Arguments) (*store.Envelope, error) {
			return st.TopClients(ctx, store.RangeFilter{
				DateFrom: args.String("date_from"),
				DateTo:   args.String("date_to"),
				Limit:    args.Int("limit"),
			})
		},
	})

	r.add(Capability{
		Name: "get_top_products",
		Description: "Рейтинг товаров по выручке за период: количество и сумма продаж по " +
			"каждому товару, по убыванию выручки.",
		Parameters: objectSchema(map[string]any{
			"date_from": dateSchema("Начало периода, включительно"),
			"date_to":   dateSchema("Конец периода, включительно"),
			"limit":     limitSchema(store.DefaultTopLimit),
		}),
		ResultType: "top_products",
		Handler: func(ctx context.Context, args Arguments) (*store.Envelope, error) {
			return st.TopProducts(ctx, store.RangeFilter{
				DateFrom: args.String("date_from"),
				DateTo:   args.String("date_to"),
				Limit:    args.Int("limit"),
			})
		},
	})

	r.add(Capability{
		Name: "get_summary_stats",
		Description: "Общая сводка по базе: число и сумма закупок и продаж с периодами, " +
			"количество товаров в каталоге и клиентов. Используй для вопросов «что есть в данных».",
		Parameters:  objectSchema(map[string]any{}),
		ResultType:  "summary",
		Handler: func(ctx context.Context, _ Arguments) (*store.Envelope, error) {
			return st.SummaryStats(ctx)
		},
	})

	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) add(c Capability) {
	if _, exists := r.index[c.Name]; exists {
		panic(fmt.Sprintf("agent: duplicate capability %q", c.Name))
	}
	r.index[c.Name] = len(r.caps)
	r.caps = append(r.caps, c)
}

// Lookup returns the capability with the given name.
func (r *Registry) Lookup(name string) (Capability, bool) {
	i, ok := r.index[name]
	if !ok {
		return Capability{}, false
	}
	return r.caps[i], true
}

// Capabilities returns the capabilities in registration order.
func (r *Registry) Capabilities() []Capability {
	return append([]Capability(nil), r.caps...)
}

// ToolDefinitions renders the registry as tool definitions for the model.
func (r *Registry) ToolDefinitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.caps))
	for _, c := range r.caps {
		defs = append(defs, llm.ToolDefinition{
			Name:        c.Name,
			Description: c.Description,
			Parameters:  c.Parameters,
		})
	}
	return defs
}

// objectSchema builds a JSON-Schema object with the given properties and
// required property names.
func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func dateSchema(desc string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": desc + " (формат YYYY-MM-DD)",
	}
}

func limitSchema(def int) map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": fmt.Sprintf("Максимум записей в ответе (по умолчанию %d)", def),
	}
}
