package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// graphQLHandler serves a canned weaviate GraphQL response and captures the
// submitted query string.
func graphQLHandler(t *testing.T, lastQuery *string, payload string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/graphql" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		*lastQuery = req.Query
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}
}

func testSearcher(t *testing.T, serverURL string) *WeaviateSearcher {
	t.Helper()
	host := strings.TrimPrefix(serverURL, "http://")
	s, err := NewWeaviateSearcher(host, "http", "", 0)
	if err != nil {
		t.Fatalf("NewWeaviateSearcher: %v", err)
	}
	return s
}

func TestWeaviateSearchParsesAndFilters(t *testing.T) {
	payload := `{"data":{"Get":{"KnowledgeChunk":[
		{"chunkId":"ch_1","title":"Deploy runbook","content":"Use the pipeline.","category":"engineering","name":"","email":"","_additional":{"certainty":0.92}},
		{"chunkId":"ch_2","title":"Old wiki page","content":"stale","category":"engineering","name":"","email":"","_additional":{"certainty":0.61}},
		{"chunkId":"ch_3","title":"Rollback guide","content":"Revert the tag.","category":"engineering","name":"","email":"","_additional":{"certainty":0.84}}
	]}}}`

	var lastQuery string
	server := httptest.NewServer(graphQLHandler(t, &lastQuery, payload))
	defer server.Close()

	s := testSearcher(t, server.URL)

	chunks, err := s.Search(context.Background(), "how do we deploy", "engineering", 5)
	if err != nil {
		t.Fatal(err)
	}
	// ch_2 sits below the certainty threshold.
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].ID != "ch_1" || chunks[1].ID != "ch_3" {
		t.Errorf("order = %q, %q", chunks[0].ID, chunks[1].ID)
	}
	if chunks[0].Certainty != 0.92 || chunks[0].Content != "Use the pipeline." {
		t.Errorf("chunks[0] = %+v", chunks[0])
	}

	for _, want := range []string{"KnowledgeChunk", "nearText", "how do we deploy", "category"} {
		if !strings.Contains(lastQuery, want) {
			t.Errorf("query missing %q: %s", want, lastQuery)
		}
	}
}

func TestWeaviateSearchNoCategoryFilter(t *testing.T) {
	payload := `{"data":{"Get":{"KnowledgeChunk":[]}}}`

	var lastQuery string
	server := httptest.NewServer(graphQLHandler(t, &lastQuery, payload))
	defer server.Close()

	s := testSearcher(t, server.URL)

	chunks, err := s.Search(context.Background(), "anything", "", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks = %+v", chunks)
	}
	if strings.Contains(lastQuery, "where") {
		t.Errorf("unexpected where filter: %s", lastQuery)
	}
}

func TestWeaviateSearchGraphQLError(t *testing.T) {
	payload := `{"errors":[{"message":"class KnowledgeChunk not found"}]}`

	var lastQuery string
	server := httptest.NewServer(graphQLHandler(t, &lastQuery, payload))
	defer server.Close()

	s := testSearcher(t, server.URL)

	_, err := s.Search(context.Background(), "anything", "", 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "class KnowledgeChunk not found") {
		t.Errorf("err = %v", err)
	}
}

func TestWeaviateSearchEmptyQuery(t *testing.T) {
	s := testSearcher(t, "http://127.0.0.1:9999")
	if _, err := s.Search(context.Background(), "", "", 5); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestNewWeaviateSearcherDefaults(t *testing.T) {
	if _, err := NewWeaviateSearcher("", "http", "", 0); err == nil {
		t.Error("expected error for empty host")
	}

	s, err := NewWeaviateSearcher("localhost:8080", "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if s.class != defaultClass {
		t.Errorf("class = %q", s.class)
	}
	if s.certainty != defaultCertainty {
		t.Errorf("certainty = %v", s.certainty)
	}
}
