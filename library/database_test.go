package library

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedBook(t *testing.T, db *Database, isbn string, qty int) *Book {
	t.Helper()
	b := newBook(BookInput{Title: "Title " + isbn, Author: "Author", ISBN: isbn, Quantity: qty, Publisher: "Pub", PublicationYear: 2001})
	id, err := db.insertBook(context.Background(), db.db, b)
	require.NoError(t, err)
	b.ID = id
	return b
}

func seedMember(t *testing.T, db *Database, email string) *Member {
	t.Helper()
	m := &Member{
		Name: "Member", Email: email, PasswordHash: "x", PhoneNumber: "1", Address: "A",
		Role: RoleUser, Active: true, MaxAllowedBooks: 2, MaxAllowedDays: 14,
		MembershipStartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		MembershipEndDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	id, err := db.insertMember(context.Background(), db.db, m)
	require.NoError(t, err)
	m.ID = id
	return m
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.db")

	db, err := NewDatabase(path)
	require.NoError(t, err)
	seedBook(t, db, "111", 1)
	require.NoError(t, db.Close())

	db, err = NewDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	books, err := db.findBooks(context.Background(), db.db)
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestOpenDatabaseRejectsUnknownDriver(t *testing.T) {
	_, err := OpenDatabase("oracle", "whatever")
	assert.Error(t, err)
}

func TestTakeCopyNeverGoesNegative(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	b := seedBook(t, db, "222", 1)

	ok, err := db.takeCopy(ctx, db.db, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.takeCopy(ctx, db.db, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := db.getBook(ctx, db.db, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableQuantity)
}

func TestPutCopyStopsAtQuantity(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	b := seedBook(t, db, "333", 2)

	ok, err := db.putCopy(ctx, db.db, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := db.getBook(ctx, db.db, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AvailableQuantity)
}

func TestLoanRoundTripsDatesAndFine(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	b := seedBook(t, db, "444", 1)
	m := seedMember(t, db, "a@example.com")

	borrowed := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	l := &Loan{BookID: b.ID, MemberID: m.ID, BorrowDate: borrowed, DueDate: borrowed.AddDate(0, 0, 14), FineAmount: decimal.Zero}
	id, err := db.insertLoan(ctx, db.db, l)
	require.NoError(t, err)

	got, err := db.getLoan(ctx, db.db, id)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-28", got.BorrowDate.Format(time.DateOnly))
	assert.Equal(t, "2024-03-13", got.DueDate.Format(time.DateOnly))
	assert.False(t, got.Returned)
	assert.False(t, got.ReturnDate.Valid)
	assert.Equal(t, "Title 444", got.BookTitle)
	assert.Equal(t, "Member", got.MemberName)

	got.Returned = true
	got.ReturnDate = sql.NullTime{Time: borrowed.AddDate(0, 0, 20), Valid: true}
	got.FineAmount = decimal.RequireFromString("6.50")
	closed, err := db.closeLoan(ctx, db.db, got)
	require.NoError(t, err)
	assert.True(t, closed)

	again, err := db.closeLoan(ctx, db.db, got)
	require.NoError(t, err)
	assert.False(t, again, "a closed loan cannot be closed twice")

	got, err = db.getLoan(ctx, db.db, id)
	require.NoError(t, err)
	assert.True(t, got.Returned)
	require.True(t, got.ReturnDate.Valid)
	assert.Equal(t, "2024-03-19", got.ReturnDate.Time.Format(time.DateOnly))
	assert.True(t, got.FineAmount.Equal(decimal.RequireFromString("6.5")), "fine %s", got.FineAmount)
}

func TestLoanKeepsDanglingReferences(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	b := seedBook(t, db, "555", 1)
	m := seedMember(t, db, "b@example.com")

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	id, err := db.insertLoan(ctx, db.db, &Loan{BookID: b.ID, MemberID: m.ID, BorrowDate: day, DueDate: day, FineAmount: decimal.Zero})
	require.NoError(t, err)

	require.NoError(t, db.deleteBook(ctx, db.db, b.ID))
	require.NoError(t, db.deleteMember(ctx, db.db, m.ID))

	got, err := db.getLoan(ctx, db.db, id)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.BookID)
	assert.Empty(t, got.BookTitle)
	assert.Empty(t, got.MemberName)
}

func TestGetMissingRecordsAreNotFound(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	_, err := db.getBook(ctx, db.db, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.getMember(ctx, db.db, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.getMemberByEmail(ctx, db.db, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.getLoan(ctx, db.db, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchIsCaseInsensitiveSubstring(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	for i, title := range []string{"The Go Programming Language", "Go in Action", "Rust in Action"} {
		b := newBook(BookInput{Title: title, Author: "A", ISBN: string(rune('a' + i)), Quantity: 1, Publisher: "P", PublicationYear: 2015})
		_, err := db.insertBook(ctx, db.db, b)
		require.NoError(t, err)
	}

	got, err := db.findBooks(ctx, db.db, containsFold("title", "GO"))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = db.findBooks(ctx, db.db, containsFold("title", "action"))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
