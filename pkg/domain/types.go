package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin Role = "Admin"
	RoleUser  Role = "User"
)

// Identity is the validated caller attached to a request by the HTTP layer.
// The core never inspects tokens; it only sees this.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// IsAuthenticated reports whether a user identity is present.
func (i Identity) IsAuthenticated() bool {
	return i.UserID != ""
}

// Book is the catalog entity. The record store owns the identifier.
type Book struct {
	ID              int              `json:"id"`
	Title           string           `json:"title"`
	Author          string           `json:"author"`
	ISBN            string           `json:"isbn,omitempty"`
	PublicationYear int              `json:"publicationYear"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	ImageURL        string           `json:"imageUrl,omitempty"`
	Description     string           `json:"description,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// BookDocument is the projection of a Book kept in the search index.
// It carries the same identifier as the book it mirrors; price and
// timestamps are not searchable and stay out of the index.
type BookDocument struct {
	ID              int    `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn,omitempty"`
	PublicationYear int    `json:"publicationYear"`
	ImageURL        string `json:"imageUrl,omitempty"`
	Description     string `json:"description,omitempty"`
}

// DocumentFromBook builds the index projection of a persisted book.
func DocumentFromBook(b Book) BookDocument {
	return BookDocument{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		PublicationYear: b.PublicationYear,
		ImageURL:        b.ImageURL,
		Description:     b.Description,
	}
}

// Purchase records that a user owns a book. The (user, book) pair is unique.
type Purchase struct {
	ID           int       `json:"id"`
	UserID       string    `json:"userId"`
	BookID       int       `json:"bookId"`
	PurchaseDate time.Time `json:"purchaseDate"`
}

// OwnedBook is a purchase joined with its book for listing.
type OwnedBook struct {
	Purchase
	Book Book `json:"book"`
}
