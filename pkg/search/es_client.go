package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"booklib/pkg/domain"
)

// ESClient implements Indexer against an Elasticsearch cluster.
type ESClient struct {
	es    *elasticsearch.Client
	index string
}

// Config holds connection settings for the search engine.
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
	// Transport overrides the HTTP transport; tests point it at a fake engine.
	Transport http.RoundTripper
}

// NewESClient builds a client bound to one index.
func NewESClient(cfg Config) (*ESClient, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("search: at least one address required")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("search: index name required")
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("search: new client: %w", err)
	}
	return &ESClient{es: es, index: cfg.Index}, nil
}

// indexMapping mirrors BookDocument. Title and author carry a keyword
// subfield so sorting stays lexicographic on the literal string.
var indexMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"id":   map[string]any{"type": "integer"},
			"title": map[string]any{
				"type": "text",
				"fields": map[string]any{
					"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
				},
			},
			"author": map[string]any{
				"type": "text",
				"fields": map[string]any{
					"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
				},
			},
			"isbn":            map[string]any{"type": "keyword"},
			"publicationYear": map[string]any{"type": "integer"},
			"imageUrl":        map[string]any{"type": "keyword", "index": false},
			"description":     map[string]any{"type": "text"},
		},
	},
}

// EnsureIndex creates the index with mappings when it does not exist yet.
func (c *ESClient) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("search: index exists check: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return c.engineError(res)
	}

	body, err := json.Marshal(indexMapping)
	if err != nil {
		return fmt.Errorf("search: marshal mapping: %w", err)
	}
	createRes, err := c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithBody(bytes.NewReader(body)),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: create index: %w", err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return c.engineError(createRes)
	}
	return nil
}

// IndexOne upserts the document under its book identifier.
func (c *ESClient) IndexOne(ctx context.Context, doc domain.BookDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("search: marshal document: %w", err)
	}
	res, err := c.es.Index(c.index, bytes.NewReader(body),
		c.es.Index.WithDocumentID(strconv.Itoa(doc.ID)),
		c.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: index document %d: %w", doc.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return c.engineError(res)
	}
	return nil
}

// IndexMany indexes all documents in one bulk request. Per-document
// rejections come back as DocFailure values; individual documents are not
// retried here.
func (c *ESClient) IndexMany(ctx context.Context, docs []domain.BookDocument) ([]DocFailure, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	for _, doc := range docs {
		meta := map[string]any{"index": map[string]any{"_id": strconv.Itoa(doc.ID)}}
		if err := json.NewEncoder(&buf).Encode(meta); err != nil {
			return nil, fmt.Errorf("search: encode bulk meta: %w", err)
		}
		if err := json.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, fmt.Errorf("search: encode bulk document: %w", err)
		}
	}
	res, err := c.es.Bulk(bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithIndex(c.index),
		c.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("search: bulk index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, c.engineError(res)
	}

	var out struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID    string `json:"_id"`
			Error *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search: decode bulk response: %w", err)
	}
	if !out.Errors {
		return nil, nil
	}
	var failures []DocFailure
	for _, item := range out.Items {
		for _, op := range item {
			if op.Error == nil {
				continue
			}
			id, _ := strconv.Atoi(op.ID)
			failures = append(failures, DocFailure{
				ID:     id,
				Type:   op.Error.Type,
				Reason: op.Error.Reason,
			})
		}
	}
	return failures, nil
}

// DeleteOne removes the document and refreshes so the deletion is visible
// to the next search. A document that is already gone counts as success.
func (c *ESClient) DeleteOne(ctx context.Context, id int) error {
	res, err := c.es.Delete(c.index, strconv.Itoa(id),
		c.es.Delete.WithRefresh("true"),
		c.es.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: delete document %d: %w", id, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return c.engineError(res)
	}
	return nil
}

// DeleteAll issues a match-all delete-by-query scoped to the catalog index
// with the same immediate-visibility request as single deletes.
func (c *ESClient) DeleteAll(ctx context.Context) error {
	body := []byte(`{"query":{"match_all":{}}}`)
	res, err := c.es.DeleteByQuery([]string{c.index}, bytes.NewReader(body),
		c.es.DeleteByQuery.WithRefresh(true),
		c.es.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: delete by query: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return c.engineError(res)
	}
	return nil
}

// Search executes the translated query and returns the hits in engine
// order. The engine's relevance and ordering decision is final.
func (c *ESClient) Search(ctx context.Context, query string, sort Sort) ([]domain.BookDocument, error) {
	body, err := json.Marshal(BuildSearchQuery(query, sort))
	if err != nil {
		return nil, fmt.Errorf("search: marshal query: %w", err)
	}
	res, err := c.es.Search(
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(body)),
		c.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("search: execute query: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, c.engineError(res)
	}

	var out struct {
		Hits struct {
			Hits []struct {
				Source domain.BookDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}
	docs := make([]domain.BookDocument, 0, len(out.Hits.Hits))
	for _, hit := range out.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}

// engineError extracts the engine-reported type and reason from an error
// response. The payload is passed through rather than flattened so callers
// can diagnose the engine's complaint.
func (c *ESClient) engineError(res *esapi.Response) error {
	engErr := &EngineError{StatusCode: res.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return engErr
	}
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Error) == 0 {
		return engErr
	}
	var detail struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body.Error, &detail); err == nil {
		engErr.Type = detail.Type
		engErr.Reason = detail.Reason
		return engErr
	}
	// Some responses carry the error as a bare string.
	var msg string
	if err := json.Unmarshal(body.Error, &msg); err == nil {
		engErr.Reason = msg
	}
	return engErr
}
