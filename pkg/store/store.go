package store

import (
	"context"
	"errors"

	"booklib/pkg/domain"
)

// ErrNotFound is returned when a referenced row is absent.
var ErrNotFound = errors.New("store: record not found")

// ErrDuplicateKey is returned when an insert violates a uniqueness
// constraint. The purchase ledger relies on it as the final arbiter of
// the one-purchase-per-user-per-book invariant.
var ErrDuplicateKey = errors.New("store: duplicate key")

// Store defines persistence operations for books and purchases.
// The record store is authoritative for both entities and assigns
// all identifiers.
type Store interface {
	Ping(ctx context.Context) error

	// books
	CreateBook(ctx context.Context, b domain.Book) (domain.Book, error)
	CreateBooks(ctx context.Context, books []domain.Book) ([]domain.Book, error)
	GetBook(ctx context.Context, id int) (domain.Book, bool, error)
	UpdateBook(ctx context.Context, b domain.Book) error
	DeleteBook(ctx context.Context, id int) error
	DeleteAllBooks(ctx context.Context) (int64, error)
	CountBooks(ctx context.Context) (int64, error)
	ListBooks(ctx context.Context) ([]domain.Book, error)

	// purchases
	CreatePurchase(ctx context.Context, p domain.Purchase) (domain.Purchase, error)
	FindPurchase(ctx context.Context, userID string, bookID int) (domain.Purchase, bool, error)
	ListPurchasesByUser(ctx context.Context, userID string) ([]domain.OwnedBook, error)
}
