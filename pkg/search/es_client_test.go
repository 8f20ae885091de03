package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"booklib/pkg/domain"
)

// fakeEngine mimics the subset of the engine API the client touches.
// The product header is required by the client's compatibility check.
type fakeEngine struct {
	t       *testing.T
	handler http.HandlerFunc
	calls   []string
}

func newFakeEngine(t *testing.T, handler http.HandlerFunc) (*fakeEngine, *ESClient) {
	t.Helper()
	fe := &fakeEngine{t: t, handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fe.calls = append(fe.calls, r.Method+" "+r.URL.Path)
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		fe.handler(w, r)
	}))
	t.Cleanup(srv.Close)
	client, err := NewESClient(Config{Addresses: []string{srv.URL}, Index: "books"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return fe, client
}

func TestEnsureIndexCreatesWhenAbsent(t *testing.T) {
	var created bool
	_, client := newFakeEngine(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/books":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/books":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode mapping: %v", err)
			}
			if _, ok := body["mappings"]; !ok {
				t.Errorf("expected mappings in create body: %+v", body)
			}
			created = true
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		default:
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	if err := client.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("ensure index: %v", err)
	}
	if !created {
		t.Fatalf("expected index creation")
	}
}

func TestEnsureIndexNoopWhenPresent(t *testing.T) {
	fe, client := newFakeEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := client.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("ensure index: %v", err)
	}
	if len(fe.calls) != 1 {
		t.Fatalf("expected a single exists check, got %v", fe.calls)
	}
}

func TestIndexOneUpsertsUnderBookID(t *testing.T) {
	_, client := newFakeEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/books/_doc/42" {
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
		}
		var doc domain.BookDocument
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			t.Errorf("decode doc: %v", err)
		}
		if doc.Title != "Dune" {
			t.Errorf("unexpected document: %+v", doc)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})
	err := client.IndexOne(context.Background(), domain.BookDocument{ID: 42, Title: "Dune", Author: "Herbert", PublicationYear: 1965})
	if err != nil {
		t.Fatalf("index one: %v", err)
	}
}

func TestIndexOnePassesEngineErrorThrough(t *testing.T) {
	_, client := newFakeEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"mapper_parsing_exception","reason":"failed to parse field"},"status":400}`))
	})
	err := client.IndexOne(context.Background(), domain.BookDocument{ID: 1, Title: "x", Author: "y"})
	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected EngineError, got %v", err)
	}
	if engErr.StatusCode != http.StatusBadRequest || engErr.Type != "mapper_parsing_exception" {
		t.Fatalf("unexpected engine error: %+v", engErr)
	}
	if !strings.Contains(engErr.Reason, "failed to parse") {
		t.Fatalf("expected engine reason passed through, got %+v", engErr)
	}
}

func TestIndexManyCollectsPerDocumentFailures(t *testing.T) {
	_, client := newFakeEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/books/_bulk" {
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
		}
		lines := strings.Split(strings.TrimSpace(readBody(t, r)), "\n")
		if len(lines) != 4 {
			t.Errorf("expected 4 ndjson lines, got %d", len(lines))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"errors": true,
			"items": [
				{"index":{"_id":"1","status":201}},
				{"index":{"_id":"2","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad field"}}}
			]
		}`))
	})
	failures, err := client.IndexMany(context.Background(), []domain.BookDocument{
		{ID: 1, Title: "A", Author: "B", PublicationYear: 2000},
		{ID: 2, Title: "C", Author: "D", PublicationYear: 2001},
	})
	if err != nil {
		t.Fatalf("index many: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("expected one failure, got %+v", failures)
	}
	if failures[0].ID != 2 || failures[0].Type != "mapper_parsing_exception" {
		t.Fatalf("unexpected failure: %+v", failures[0])
	}
}

func TestIndexManyEmptyIsNoop(t *testing.T) {
	fe, client := newFakeEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
	})
	failures, err := client.IndexMany(context.Background(), nil)
	if err != nil || failures != nil {
		t.Fatalf("expected noop, got %v %v", failures, err)
	}
	if len(fe.calls) != 0 {
		t.Fatalf("expected no engine calls, got %v", fe.calls)
	}
}

func TestDeleteOneRequestsImmediateRefresh(t *testing.T) {
	_, client := newFakeEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/books/_doc/7" {
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("refresh") != "true" {
			t.Errorf("expected refresh=true, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"deleted"}`))
	})
	if err := client.DeleteOne(context.Background(), 7); err != nil {
		t.Fatalf("delete one: %v", err)
	}
}

func TestDeleteOneMissingDocumentIsSuccess(t *testing.T) {
	_, client := newFakeEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"result":"not_found"}`))
	})
	if err := client.DeleteOne(context.Background(), 7); err != nil {
		t.Fatalf("expected already-absent delete to succeed, got %v", err)
	}
}

func TestDeleteAllIssuesMatchAllDeleteByQuery(t *testing.T) {
	_, client := newFakeEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/books/_delete_by_query" {
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("refresh") != "true" {
			t.Errorf("expected refresh=true, got %q", r.URL.RawQuery)
		}
		if body := readBody(t, r); !strings.Contains(body, "match_all") {
			t.Errorf("expected match_all body, got %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deleted":3}`))
	})
	if err := client.DeleteAll(context.Background()); err != nil {
		t.Fatalf("delete all: %v", err)
	}
}

func TestSearchReturnsHitsInEngineOrder(t *testing.T) {
	_, client := newFakeEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/books/_search" {
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"hits": {"hits": [
				{"_source": {"id": 2, "title": "Dune Messiah", "author": "Frank Herbert", "publicationYear": 1969}},
				{"_source": {"id": 1, "title": "Dune", "author": "Frank Herbert", "publicationYear": 1965}}
			]}
		}`))
	})
	docs, err := client.Search(context.Background(), "dun", DefaultSort)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != 2 || docs[1].ID != 1 {
		t.Fatalf("unexpected hits: %+v", docs)
	}
}

func TestSearchEngineErrorCarriesTypeAndReason(t *testing.T) {
	_, client := newFakeEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"search_phase_execution_exception","reason":"all shards failed"},"status":400}`))
	})
	_, err := client.Search(context.Background(), "dune", DefaultSort)
	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected EngineError, got %v", err)
	}
	if engErr.Type != "search_phase_execution_exception" || engErr.Reason != "all shards failed" {
		t.Fatalf("unexpected engine error: %+v", engErr)
	}
}

func readBody(t *testing.T, r *http.Request) string {
	t.Helper()
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := r.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return sb.String()
}
