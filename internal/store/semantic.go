package store

import (
	"context"
	"fmt"
	"log/slog"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/sweetmill/sweetmill/pkg/provider/embeddings"
)

// SemanticIndex provides meaning-based search over the product catalog via a
// pgvector column on the nomenclature table. It complements the substring
// search for paraphrased or misspelled product names.
//
// All methods are safe for concurrent use.
type SemanticIndex struct {
	db       DB
	embedder embeddings.Provider
}

// NewSemanticIndex creates a semantic index over the given database using the
// given embeddings provider.
func NewSemanticIndex(db DB, embedder embeddings.Provider) *SemanticIndex {
	return &SemanticIndex{db: db, embedder: embedder}
}

// SearchProducts finds the topK non-folder catalog items whose embedded names
// are closest (cosine distance) to the query text. Items that have not been
// indexed yet are skipped.
func (s *SemanticIndex) SearchProducts(ctx context.Context, query string, topK int) (*Envelope, error) {
	if topK <= 0 {
		topK = DefaultTopLimit
	}
	if topK > MaxLimit {
		topK = MaxLimit
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: semantic search: embed query: %w", err)
	}

	const q = `
		SELECT n.name, n.article, n.code, COALESCE(t.name, ''),
		       n.embedding <=> $1 AS distance
		FROM nomenclature n
		LEFT JOIN nomenclature_types t ON n.type_id = t.id
		WHERE n.is_folder = false AND n.embedding IS NOT NULL
		ORDER BY distance
		LIMIT $2`

	rows, err := s.db.Query(ctx, q, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("store: semantic search: %w", err)
	}
	defer rows.Close()

	data := []map[string]any{}
	for rows.Next() {
		var (
			name, article, code, typeName string
			distance                      float64
		)
		if err := rows.Scan(&name, &article, &code, &typeName, &distance); err != nil {
			return nil, fmt.Errorf("store: semantic search: scan: %w", err)
		}
		data = append(data, map[string]any{
			"name":       name,
			"article":    article,
			"code":       code,
			"type":       typeName,
			"similarity": round1((1 - distance) * 100),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: semantic search: rows: %w", err)
	}

	env := &Envelope{Type: "semantic_products", Data: data}
	if len(data) == 0 {
		env.Message = "Проиндексированных товаров, похожих на запрос, не найдено"
	}
	return env, nil
}

// indexBatchSize bounds how many catalog names are embedded per provider call.
const indexBatchSize = 64

// IndexCatalog embeds the names of all non-folder catalog items that do not
// have an embedding yet and stores the vectors. Returns the number of items
// indexed. Safe to re-run; already-indexed items are skipped.
func (s *SemanticIndex) IndexCatalog(ctx context.Context, log *slog.Logger) (int, error) {
	const selectQ = `
		SELECT id, name
		FROM nomenclature
		WHERE is_folder = false AND embedding IS NULL
		ORDER BY id`

	rows, err := s.db.Query(ctx, selectQ)
	if err != nil {
		return 0, fmt.Errorf("store: index catalog: %w", err)
	}

	var (
		ids   []int64
		names []string
	)
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: index catalog: scan: %w", err)
		}
		ids = append(ids, id)
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("store: index catalog: rows: %w", err)
	}
	rows.Close()

	indexed := 0
	for start := 0; start < len(ids); start += indexBatchSize {
		end := min(start+indexBatchSize, len(ids))

		vecs, err := s.embedder.EmbedBatch(ctx, names[start:end])
		if err != nil {
			return indexed, fmt.Errorf("store: index catalog: embed batch: %w", err)
		}

		const updateQ = `UPDATE nomenclature SET embedding = $1 WHERE id = $2`
		for i, vec := range vecs {
			if _, err := s.db.Exec(ctx, updateQ, pgvector.NewVector(vec), ids[start+i]); err != nil {
				return indexed, fmt.Errorf("store: index catalog: update id %d: %w", ids[start+i], err)
			}
			indexed++
		}

		log.Debug("indexed catalog batch",
			"from", start, "to", end, "model", s.embedder.ModelID())
	}

	return indexed, nil
}
