package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"booklib/pkg/domain"
)

const migrateLockID int64 = 52045204

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// Open connects to Postgres and runs auto-migrations under an advisory
// lock so concurrent replicas do not race on schema changes.
func Open(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		return tx.AutoMigrate(&BookModel{}, &PurchaseModel{})
	}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// New wraps an already-open GORM connection and runs auto-migrations.
// Tests use it with an in-memory sqlite database.
func New(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&BookModel{}, &PurchaseModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping verifies database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateBook inserts a book and returns it with the assigned identifier.
func (s *GormStore) CreateBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	now := time.Now().UTC()
	b.ID = 0
	b.CreatedAt = now
	b.UpdatedAt = now
	model := bookToModel(b)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Book{}, err
	}
	return bookFromModel(model), nil
}

// CreateBooks inserts all books in one batch and returns them with
// assigned identifiers.
func (s *GormStore) CreateBooks(ctx context.Context, books []domain.Book) ([]domain.Book, error) {
	if len(books) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	models := make([]BookModel, 0, len(books))
	for _, b := range books {
		b.ID = 0
		b.CreatedAt = now
		b.UpdatedAt = now
		models = append(models, bookToModel(b))
	}
	if err := s.db.WithContext(ctx).Create(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// GetBook retrieves a book by identifier.
func (s *GormStore) GetBook(ctx context.Context, id int) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// UpdateBook overwrites all mutable fields of an existing book. A plain
// UPDATE, not Save: Save falls back to an insert when no row matches,
// which would resurrect a concurrently deleted book instead of
// reporting it missing. The column map keeps zero values (empty isbn,
// nil price) in the write.
func (s *GormStore) UpdateBook(ctx context.Context, b domain.Book) error {
	res := s.db.WithContext(ctx).Model(&BookModel{}).Where("id = ?", b.ID).Updates(map[string]any{
		"title":            b.Title,
		"author":           b.Author,
		"isbn":             b.ISBN,
		"publication_year": b.PublicationYear,
		"price":            b.Price,
		"image_url":        b.ImageURL,
		"description":      b.Description,
		"updated_at":       time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBook removes a book. Purchases referencing it are removed in the
// same transaction so the ledger never points at a missing book.
func (s *GormStore) DeleteBook(ctx context.Context, id int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&PurchaseModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&BookModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteAllBooks removes every book and purchase, returning the number of
// books removed.
func (s *GormStore) DeleteAllBooks(ctx context.Context) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		global := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := global.Delete(&PurchaseModel{}).Error; err != nil {
			return err
		}
		res := global.Delete(&BookModel{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}

// CountBooks returns the number of books in the catalog.
func (s *GormStore) CountBooks(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&BookModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ListBooks returns all books ordered by identifier.
func (s *GormStore) ListBooks(ctx context.Context) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// CreatePurchase inserts a purchase row. A uniqueness violation on
// (user, book) is reported as ErrDuplicateKey.
func (s *GormStore) CreatePurchase(ctx context.Context, p domain.Purchase) (domain.Purchase, error) {
	p.ID = 0
	model := purchaseToModel(p)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Purchase{}, ErrDuplicateKey
		}
		return domain.Purchase{}, err
	}
	return purchaseFromModel(model), nil
}

// FindPurchase looks up a purchase by (user, book).
func (s *GormStore) FindPurchase(ctx context.Context, userID string, bookID int) (domain.Purchase, bool, error) {
	var model PurchaseModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND book_id = ?", userID, bookID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Purchase{}, false, nil
		}
		return domain.Purchase{}, false, err
	}
	return purchaseFromModel(model), true, nil
}

// ListPurchasesByUser returns all purchases of a user joined with their
// books, in store-default order.
func (s *GormStore) ListPurchasesByUser(ctx context.Context, userID string) ([]domain.OwnedBook, error) {
	var purchases []PurchaseModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&purchases).Error; err != nil {
		return nil, err
	}
	if len(purchases) == 0 {
		return []domain.OwnedBook{}, nil
	}
	ids := make([]int, 0, len(purchases))
	for _, p := range purchases {
		ids = append(ids, p.BookID)
	}
	var books []BookModel
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&books).Error; err != nil {
		return nil, err
	}
	byID := make(map[int]domain.Book, len(books))
	for _, m := range books {
		byID[m.ID] = bookFromModel(m)
	}
	res := make([]domain.OwnedBook, 0, len(purchases))
	for _, p := range purchases {
		res = append(res, domain.OwnedBook{
			Purchase: purchaseFromModel(p),
			Book:     byID[p.BookID],
		})
	}
	return res, nil
}
