package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

const (
	defaultClass     = "KnowledgeChunk"
	defaultCertainty = 0.7
	defaultTopK      = 5
)

// WeaviateSearcher runs nearText queries against the indexed corpus.
type WeaviateSearcher struct {
	client    *weaviate.Client
	class     string
	certainty float64
}

// NewWeaviateSearcher connects to a weaviate instance. class and certainty
// fall back to defaults when zero.
func NewWeaviateSearcher(host, scheme, class string, certainty float64) (*WeaviateSearcher, error) {
	if host == "" {
		return nil, errors.New("weaviate host must not be empty")
	}
	if scheme == "" {
		scheme = "http"
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return newWeaviateSearcher(client, class, certainty), nil
}

func newWeaviateSearcher(client *weaviate.Client, class string, certainty float64) *WeaviateSearcher {
	if class == "" {
		class = defaultClass
	}
	if certainty <= 0 {
		certainty = defaultCertainty
	}
	return &WeaviateSearcher{client: client, class: class, certainty: certainty}
}

// Search returns corpus chunks semantically close to query, optionally
// restricted to one category. Hits below the certainty threshold are dropped;
// the remainder keep weaviate's relevance order.
func (s *WeaviateSearcher) Search(ctx context.Context, query, category string, limit int) ([]Chunk, error) {
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	if limit <= 0 {
		limit = defaultTopK
	}

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "chunkId"},
		{Name: "title"},
		{Name: "content"},
		{Name: "category"},
		{Name: "name"},
		{Name: "email"},
		{Name: "_additional { certainty }"},
	}

	builder := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit)

	if category != "" {
		builder = builder.WithWhere(filters.Where().
			WithPath([]string{"category"}).
			WithOperator(filters.Equal).
			WithValueString(category))
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("semantic search: %s", result.Errors[0].Message)
	}
	return s.parseChunks(result), nil
}

func (s *WeaviateSearcher) parseChunks(result *models.GraphQLResponse) []Chunk {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[s.class].([]interface{})
	if !ok {
		return nil
	}

	chunks := make([]Chunk, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		chunk := Chunk{
			ID:       getString(m, "chunkId"),
			Title:    getString(m, "title"),
			Content:  getString(m, "content"),
			Category: getString(m, "category"),
			Name:     getString(m, "name"),
			Email:    getString(m, "email"),
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			chunk.Certainty = getFloat64(additional, "certainty")
		}
		if chunk.Certainty < s.certainty {
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat64(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}
