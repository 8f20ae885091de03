// Package search drives the catalog's secondary full-text index. The
// record store stays authoritative for writes; this package only mirrors
// committed books into the engine and answers search reads from it.
package search

import (
	"context"
	"fmt"

	"booklib/pkg/domain"
)

// Indexer is the narrow surface of the search engine consumed by the
// catalog synchronizer.
type Indexer interface {
	// EnsureIndex creates the index with its mappings when absent.
	// It is idempotent and runs once at startup.
	EnsureIndex(ctx context.Context) error
	// IndexOne upserts a single document (replace in place).
	IndexOne(ctx context.Context, doc domain.BookDocument) error
	// IndexMany indexes all documents in one bulk call and returns
	// per-document failures. The returned error reports a failure of the
	// bulk call itself, not of individual documents.
	IndexMany(ctx context.Context, docs []domain.BookDocument) ([]DocFailure, error)
	// DeleteOne removes a document and asks the engine to make the
	// deletion visible to subsequent reads immediately.
	DeleteOne(ctx context.Context, id int) error
	// DeleteAll removes every document in the index with the same
	// immediate-visibility request.
	DeleteAll(ctx context.Context) error
	// Search runs a structured query and returns the ordered hits.
	Search(ctx context.Context, query string, sort Sort) ([]domain.BookDocument, error)
}

// EngineError carries the engine-reported failure detail so callers can
// distinguish "no results" from "backend unavailable or query malformed".
type EngineError struct {
	StatusCode int    `json:"statusCode"`
	Type       string `json:"type,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (e *EngineError) Error() string {
	if e.Type == "" && e.Reason == "" {
		return fmt.Sprintf("search engine error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("search engine error (status %d): %s: %s", e.StatusCode, e.Type, e.Reason)
}

// DocFailure is a per-document rejection from a bulk index call.
type DocFailure struct {
	ID     int    `json:"id"`
	Type   string `json:"type,omitempty"`
	Reason string `json:"reason,omitempty"`
}
