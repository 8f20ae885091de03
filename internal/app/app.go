// Package app is the catalog core: the synchronizer that keeps the
// record store and the search index in step, and the purchase ledger.
//
// Every mutation commits to the record store first and then propagates
// to the index. The record store is authoritative and is never rolled
// back because of an index failure; index failures surface as a distinct
// partial-failure signal (Create/Update/BulkCreate) or as a server error
// (Delete/DeleteAll, where a ghost search result is worse than a stale
// one).
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"booklib/internal/util"
	"booklib/pkg/domain"
	"booklib/pkg/queue"
	"booklib/pkg/search"
	"booklib/pkg/store"
)

// Backlog records books whose index propagation failed so a consumer can
// retry them through ReindexBook.
type Backlog interface {
	Enqueue(ctx context.Context, bookID int) (queue.Job, error)
}

// Config wires the core's collaborators.
type Config struct {
	Store store.Store
	Index search.Indexer
	// Backlog is optional; without it failed propagations are only
	// reported, not retried.
	Backlog Backlog
}

// App orchestrates catalog mutations across both stores.
type App struct {
	store   store.Store
	index   search.Indexer
	backlog Backlog
}

// New constructs the catalog core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("app: store required")
	}
	if cfg.Index == nil {
		return nil, errors.New("app: index required")
	}
	return &App{store: cfg.Store, index: cfg.Index, backlog: cfg.Backlog}, nil
}

// Ready reports whether the record store is reachable.
func (a *App) Ready(ctx context.Context) error {
	return a.store.Ping(ctx)
}

// CreateResult is the outcome of a single-book create or update. IndexErr
// is set when the record-store commit succeeded but index propagation
// failed; Book is valid either way.
type CreateResult struct {
	Book     domain.Book
	IndexErr *IndexError
}

// BulkCreateResult reports the batch insert plus any index trouble:
// IndexErr when the bulk index call itself failed, IndexFailures for
// per-document rejections.
type BulkCreateResult struct {
	Books         []domain.Book
	IndexFailures []search.DocFailure
	IndexErr      *IndexError
}

// CreateBook inserts a book into the record store and mirrors it into
// the search index.
func (a *App) CreateBook(ctx context.Context, b domain.Book) (CreateResult, error) {
	if err := validateBook(b); err != nil {
		return CreateResult{}, err
	}
	created, err := a.store.CreateBook(ctx, b)
	if err != nil {
		return CreateResult{}, fmt.Errorf("create book: %w", err)
	}
	res := CreateResult{Book: created}
	if err := a.index.IndexOne(ctx, domain.DocumentFromBook(created)); err != nil {
		res.IndexErr = a.reportIndexFailure(ctx, "index", created.ID, err)
	}
	return res, nil
}

// BulkCreateBooks inserts all books in one batch and then indexes the
// resulting documents in one bulk call. Per-document index failures are
// collected, not retried individually; the relational commit stands.
func (a *App) BulkCreateBooks(ctx context.Context, books []domain.Book) (BulkCreateResult, error) {
	if len(books) == 0 {
		return BulkCreateResult{}, fmt.Errorf("%w: at least one book required", ErrValidation)
	}
	for i, b := range books {
		if err := validateBook(b); err != nil {
			return BulkCreateResult{}, fmt.Errorf("book %d: %w", i, err)
		}
	}
	created, err := a.store.CreateBooks(ctx, books)
	if err != nil {
		return BulkCreateResult{}, fmt.Errorf("create books: %w", err)
	}
	res := BulkCreateResult{Books: created}

	docs := make([]domain.BookDocument, 0, len(created))
	for _, b := range created {
		docs = append(docs, domain.DocumentFromBook(b))
	}
	failures, err := a.index.IndexMany(ctx, docs)
	if err != nil {
		// The whole bulk call failed; every document needs a retry.
		util.LoggerFromContext(ctx).Warn("bulk index propagation failed",
			"count", len(created), "err", err)
		for _, b := range created {
			a.enqueueReindex(ctx, b.ID)
		}
		res.IndexErr = &IndexError{Op: "bulk", Err: err}
		return res, nil
	}
	res.IndexFailures = failures
	for _, f := range failures {
		util.LoggerFromContext(ctx).Warn("index propagation failed",
			"op", "bulk", "book_id", f.ID, "type", f.Type, "reason", f.Reason)
		a.enqueueReindex(ctx, f.ID)
	}
	return res, nil
}

// UpdateBook overwrites the mutable fields of an existing book and
// re-indexes its document in place. The identifier never changes, and the
// body must carry the same one as the path; an omitted body id counts as
// a mismatch.
func (a *App) UpdateBook(ctx context.Context, id int, b domain.Book) (CreateResult, error) {
	if b.ID != id {
		return CreateResult{}, fmt.Errorf("%w: path id %d does not match body id %d", ErrValidation, id, b.ID)
	}
	if err := validateBook(b); err != nil {
		return CreateResult{}, err
	}
	existing, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return CreateResult{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return CreateResult{}, ErrBookNotFound
	}
	existing.Title = b.Title
	existing.Author = b.Author
	existing.ISBN = b.ISBN
	existing.PublicationYear = b.PublicationYear
	existing.Price = b.Price
	existing.ImageURL = b.ImageURL
	existing.Description = b.Description
	if err := a.store.UpdateBook(ctx, existing); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return CreateResult{}, ErrBookNotFound
		}
		return CreateResult{}, fmt.Errorf("update book: %w", err)
	}
	res := CreateResult{Book: existing}
	if err := a.index.IndexOne(ctx, domain.DocumentFromBook(existing)); err != nil {
		res.IndexErr = a.reportIndexFailure(ctx, "index", existing.ID, err)
	}
	return res, nil
}

// DeleteBook removes a book from both stores. An index delete failure is
// returned as an error (a ghost hit is a harmful inconsistency), after
// recording the book in the backlog so the consumer can finish the
// deletion.
func (a *App) DeleteBook(ctx context.Context, id int) error {
	_, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return ErrBookNotFound
	}
	if err := a.store.DeleteBook(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrBookNotFound
		}
		return fmt.Errorf("delete book: %w", err)
	}
	if err := a.index.DeleteOne(ctx, id); err != nil {
		return a.reportIndexFailure(ctx, "delete", id, err)
	}
	return nil
}

// DeleteAllBooks empties the catalog and the index. Deleting an already
// empty catalog is a no-op success with no store or index writes.
func (a *App) DeleteAllBooks(ctx context.Context) (int64, error) {
	count, err := a.store.CountBooks(ctx)
	if err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	deleted, err := a.store.DeleteAllBooks(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete all books: %w", err)
	}
	if err := a.index.DeleteAll(ctx); err != nil {
		util.LoggerFromContext(ctx).Error("index wipe failed after store wipe", "err", err)
		return deleted, &IndexError{Op: "delete_all", Err: err}
	}
	return deleted, nil
}

// ListBooks returns all books from the record store.
func (a *App) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return a.store.ListBooks(ctx)
}

// SearchBooks answers a search read from the index alone; the record
// store is not consulted and the engine's ordering is final.
func (a *App) SearchBooks(ctx context.Context, query string, sort search.Sort) ([]domain.BookDocument, error) {
	return a.index.Search(ctx, query, sort)
}

// ReindexBook reconciles one book's document with the record store. It is
// idempotent: an existing book is upserted, a missing one has its
// document deleted. The backlog consumer and the manual reindex endpoint
// both go through here.
func (a *App) ReindexBook(ctx context.Context, id int) error {
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return fmt.Errorf("get book: %w", err)
	}
	if !ok {
		if err := a.index.DeleteOne(ctx, id); err != nil {
			return &IndexError{Op: "reindex_delete", Err: err}
		}
		return nil
	}
	if err := a.index.IndexOne(ctx, domain.DocumentFromBook(book)); err != nil {
		return &IndexError{Op: "reindex", Err: err}
	}
	return nil
}

// PurchaseBook records that the caller owns the book, at most once.
// The existence check before insert is a fast-path optimization; two
// racing purchases can both pass it, and the store's uniqueness
// constraint is the real arbiter. Its violation maps to the same
// conflict as the fast path.
func (a *App) PurchaseBook(ctx context.Context, ident domain.Identity, bookID int) (domain.Purchase, error) {
	if !ident.IsAuthenticated() {
		return domain.Purchase{}, ErrUnauthenticated
	}
	_, ok, err := a.store.GetBook(ctx, bookID)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return domain.Purchase{}, ErrBookNotFound
	}
	if _, exists, err := a.store.FindPurchase(ctx, ident.UserID, bookID); err != nil {
		return domain.Purchase{}, fmt.Errorf("find purchase: %w", err)
	} else if exists {
		return domain.Purchase{}, ErrAlreadyPurchased
	}
	created, err := a.store.CreatePurchase(ctx, domain.Purchase{
		UserID:       ident.UserID,
		BookID:       bookID,
		PurchaseDate: time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return domain.Purchase{}, ErrAlreadyPurchased
		}
		return domain.Purchase{}, fmt.Errorf("create purchase: %w", err)
	}
	return created, nil
}

// ListMyBooks returns the caller's purchases joined with their books.
func (a *App) ListMyBooks(ctx context.Context, ident domain.Identity) ([]domain.OwnedBook, error) {
	if !ident.IsAuthenticated() {
		return nil, ErrUnauthenticated
	}
	return a.store.ListPurchasesByUser(ctx, ident.UserID)
}

// reportIndexFailure logs a failed propagation, enqueues the book for
// the backlog consumer, and returns the typed partial-failure error.
func (a *App) reportIndexFailure(ctx context.Context, op string, bookID int, err error) *IndexError {
	util.LoggerFromContext(ctx).Warn("index propagation failed",
		"op", op, "book_id", bookID, "err", err)
	a.enqueueReindex(ctx, bookID)
	return &IndexError{Op: op, Err: err}
}

// enqueueReindex records the book in the backlog, surviving caller
// cancellation: the store commit already happened, so the divergence is
// real and must be tracked.
func (a *App) enqueueReindex(ctx context.Context, bookID int) {
	if a.backlog == nil {
		return
	}
	if _, err := a.backlog.Enqueue(context.WithoutCancel(ctx), bookID); err != nil {
		util.LoggerFromContext(ctx).Error("reindex backlog enqueue failed",
			"book_id", bookID, "err", err)
	}
}

// validateBook checks required fields are present. Detailed validation
// (lengths, formats) belongs to the HTTP boundary.
func validateBook(b domain.Book) error {
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(b.Author) == "" {
		return fmt.Errorf("%w: author is required", ErrValidation)
	}
	if b.PublicationYear == 0 {
		return fmt.Errorf("%w: publication year is required", ErrValidation)
	}
	return nil
}
