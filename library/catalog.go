package library

import (
	"context"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// BookInput carries the writable fields of a book.
type BookInput struct {
	Title           string
	Author          string
	ISBN            string
	Quantity        int
	Publisher       string
	PublicationYear int
}

// Validate checks required fields and ranges.
func (in BookInput) Validate() error {
	var problems []string
	if strings.TrimSpace(in.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(in.Author) == "" {
		problems = append(problems, "author is required")
	}
	if strings.TrimSpace(in.ISBN) == "" {
		problems = append(problems, "isbn is required")
	}
	if strings.TrimSpace(in.Publisher) == "" {
		problems = append(problems, "publisher is required")
	}
	if in.Quantity < 0 {
		problems = append(problems, "quantity cannot be negative")
	}
	if in.PublicationYear < 1000 {
		problems = append(problems, "invalid publication year")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// newBook builds a fresh catalog record; every copy starts on the shelf.
func newBook(in BookInput) *Book {
	return &Book{
		Title:             strings.TrimSpace(in.Title),
		Author:            strings.TrimSpace(in.Author),
		ISBN:              strings.TrimSpace(in.ISBN),
		Quantity:          in.Quantity,
		AvailableQuantity: in.Quantity,
		Publisher:         strings.TrimSpace(in.Publisher),
		PublicationYear:   in.PublicationYear,
	}
}

// Catalog manages book records.
type Catalog struct {
	db  *Database
	log zerolog.Logger
}

func NewCatalog(db *Database, log zerolog.Logger) *Catalog {
	return &Catalog{db: db, log: log}
}

// AddBook validates in and stores it with available = quantity.
func (c *Catalog) AddBook(ctx context.Context, in BookInput) (*Book, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	b := newBook(in)

	err := c.db.inTx(ctx, func(tx *sqlx.Tx) error {
		n, err := c.db.count(ctx, tx, "books", goqu.C("isbn").Eq(b.ISBN))
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: a book with isbn %s already exists", ErrConflict, b.ISBN)
		}
		id, err := c.db.insertBook(ctx, tx, b)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: a book with isbn %s already exists", ErrConflict, b.ISBN)
			}
			return fmt.Errorf("insert book: %w", err)
		}
		b.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Info().Int64("book_id", b.ID).Str("isbn", b.ISBN).Int("quantity", b.Quantity).Msg("book added")
	return b, nil
}

// UpdateBook replaces the writable fields of book id. A change in quantity
// moves availability by the same amount; shrinking below the number of copies
// currently lent out is a conflict.
func (c *Catalog) UpdateBook(ctx context.Context, id int64, in BookInput) (*Book, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var updated *Book
	err := c.db.inTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := c.db.getBook(ctx, tx, id)
		if err != nil {
			return err
		}

		next := newBook(in)
		next.ID = existing.ID
		next.AvailableQuantity = existing.AvailableQuantity + (next.Quantity - existing.Quantity)
		if next.AvailableQuantity < 0 {
			lent := existing.Quantity - existing.AvailableQuantity
			return fmt.Errorf("%w: %d copies are lent out, quantity cannot drop to %d", ErrConflict, lent, next.Quantity)
		}

		if next.ISBN != existing.ISBN {
			n, err := c.db.count(ctx, tx, "books", goqu.C("isbn").Eq(next.ISBN))
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: a book with isbn %s already exists", ErrConflict, next.ISBN)
			}
		}

		if err := c.db.updateBook(ctx, tx, next); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: a book with isbn %s already exists", ErrConflict, next.ISBN)
			}
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteBook removes book id. Books with copies still out on loan cannot be
// removed; closed loans keep the dangling id.
func (c *Catalog) DeleteBook(ctx context.Context, id int64) error {
	err := c.db.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := c.db.getBook(ctx, tx, id); err != nil {
			return err
		}
		open, err := c.db.countOpenLoans(ctx, tx, "book_id", id)
		if err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("%w: book %d has %d open loans", ErrConflict, id, open)
		}
		return c.db.deleteBook(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	c.log.Info().Int64("book_id", id).Msg("book deleted")
	return nil
}

func (c *Catalog) GetBook(ctx context.Context, id int64) (*Book, error) {
	return c.db.getBook(ctx, c.db.db, id)
}

func (c *Catalog) ListBooks(ctx context.Context) ([]*Book, error) {
	return c.db.findBooks(ctx, c.db.db)
}

// SearchByTitle returns books whose title contains q, ignoring case.
func (c *Catalog) SearchByTitle(ctx context.Context, q string) ([]*Book, error) {
	return c.db.findBooks(ctx, c.db.db, containsFold("title", q))
}

// SearchByAuthor returns books whose author contains q, ignoring case.
func (c *Catalog) SearchByAuthor(ctx context.Context, q string) ([]*Book, error) {
	return c.db.findBooks(ctx, c.db.db, containsFold("author", q))
}
