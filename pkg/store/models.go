package store

import (
	"time"

	"github.com/shopspring/decimal"

	"booklib/pkg/domain"
)

// GORM models used for persistence.
type BookModel struct {
	ID              int    `gorm:"primaryKey"`
	Title           string `gorm:"size:255;not null"`
	Author          string `gorm:"size:255;not null"`
	ISBN            string
	PublicationYear int              `gorm:"not null"`
	Price           *decimal.Decimal `gorm:"type:decimal(10,2)"`
	ImageURL        string
	Description     string
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (BookModel) TableName() string { return "books" }

type PurchaseModel struct {
	ID           int       `gorm:"primaryKey"`
	UserID       string    `gorm:"not null;uniqueIndex:idx_purchases_user_book;index"`
	BookID       int       `gorm:"not null;uniqueIndex:idx_purchases_user_book"`
	PurchaseDate time.Time `gorm:"not null"`
}

func (PurchaseModel) TableName() string { return "purchases" }

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		PublicationYear: b.PublicationYear,
		Price:           b.Price,
		ImageURL:        b.ImageURL,
		Description:     b.Description,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:              m.ID,
		Title:           m.Title,
		Author:          m.Author,
		ISBN:            m.ISBN,
		PublicationYear: m.PublicationYear,
		Price:           m.Price,
		ImageURL:        m.ImageURL,
		Description:     m.Description,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func purchaseToModel(p domain.Purchase) PurchaseModel {
	return PurchaseModel{
		ID:           p.ID,
		UserID:       p.UserID,
		BookID:       p.BookID,
		PurchaseDate: p.PurchaseDate,
	}
}

func purchaseFromModel(m PurchaseModel) domain.Purchase {
	return domain.Purchase{
		ID:           m.ID,
		UserID:       m.UserID,
		BookID:       m.BookID,
		PurchaseDate: m.PurchaseDate,
	}
}
