package library

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Routing keys for loan events.
const (
	EventLoanBorrowed = "loan.borrowed"
	EventLoanReturned = "loan.returned"
)

// Publisher receives loan events after the transaction that produced them has
// committed. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, key string, body []byte) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, []byte) error { return nil }

// LoanEvent is the payload published for borrow and return.
type LoanEvent struct {
	LoanID     int64           `json:"loanId"`
	BookID     int64           `json:"bookId"`
	MemberID   int64           `json:"memberId"`
	BorrowDate string          `json:"borrowDate"`
	DueDate    string          `json:"dueDate"`
	ReturnDate string          `json:"returnDate,omitempty"`
	FineAmount decimal.Decimal `json:"fineAmount"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Ledger records borrowing and returning of books. Each state change runs in a
// single transaction so a book's availability and its loans never disagree.
type Ledger struct {
	db     *Database
	policy *Policy
	now    func() time.Time
	events Publisher
	log    zerolog.Logger
}

func NewLedger(db *Database, policy *Policy, now func() time.Time, events Publisher, log zerolog.Logger) *Ledger {
	if now == nil {
		now = time.Now
	}
	if events == nil {
		events = nopPublisher{}
	}
	return &Ledger{db: db, policy: policy, now: now, events: events, log: log}
}

// BorrowBook lends one copy of book bookID to member memberID.
func (l *Ledger) BorrowBook(ctx context.Context, bookID, memberID int64) (*Loan, error) {
	today := DateOf(l.now())

	var loan *Loan
	err := l.db.inTx(ctx, func(tx *sqlx.Tx) error {
		book, err := l.db.getBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		member, err := l.db.getMember(ctx, tx, memberID)
		if err != nil {
			return err
		}
		if book.AvailableQuantity <= 0 {
			return fmt.Errorf("%w: book is not available for borrowing", ErrConflict)
		}
		if !member.Active {
			return fmt.Errorf("%w: member is not active", ErrConflict)
		}
		if l.policy.EnforceLoanLimit() {
			open, err := l.db.countOpenLoans(ctx, tx, "member_id", memberID)
			if err != nil {
				return err
			}
			if open >= int64(member.MaxAllowedBooks) {
				return fmt.Errorf("%w: member already has %d of %d allowed books", ErrConflict, open, member.MaxAllowedBooks)
			}
		}

		ok, err := l.db.takeCopy(ctx, tx, bookID)
		if err != nil {
			return fmt.Errorf("decrement availability: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: book is not available for borrowing", ErrConflict)
		}

		rec := &Loan{
			BookID:     bookID,
			MemberID:   memberID,
			BorrowDate: today,
			DueDate:    l.policy.DueDate(today, member),
			FineAmount: decimal.Zero,
			BookTitle:  book.Title,
			MemberName: member.Name,
		}
		id, err := l.db.insertLoan(ctx, tx, rec)
		if err != nil {
			return fmt.Errorf("insert loan: %w", err)
		}
		rec.ID = id
		loan = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().
		Int64("loan_id", loan.ID).
		Int64("book_id", bookID).
		Int64("member_id", memberID).
		Time("due", loan.DueDate).
		Msg("book borrowed")
	l.publish(ctx, EventLoanBorrowed, loan)
	return loan, nil
}

// ReturnBook closes loan loanID, putting the copy back on the shelf and
// charging a fine if it is late. Returning a closed loan is a conflict.
func (l *Ledger) ReturnBook(ctx context.Context, loanID int64) (*Loan, error) {
	today := DateOf(l.now())

	var loan *Loan
	err := l.db.inTx(ctx, func(tx *sqlx.Tx) error {
		rec, err := l.db.getLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if rec.Returned {
			return fmt.Errorf("%w: book already returned", ErrConflict)
		}

		rec.Returned = true
		rec.ReturnDate = sql.NullTime{Time: today, Valid: true}
		rec.FineAmount = l.policy.Fine(rec.DueDate, today)

		closed, err := l.db.closeLoan(ctx, tx, rec)
		if err != nil {
			return fmt.Errorf("close loan: %w", err)
		}
		if !closed {
			return fmt.Errorf("%w: book already returned", ErrConflict)
		}

		// A missing book or a full shelf means the counts were edited by hand.
		// The loan still closes; the mismatch is only logged.
		restocked, err := l.db.putCopy(ctx, tx, rec.BookID)
		if err != nil {
			return fmt.Errorf("increment availability: %w", err)
		}
		if !restocked {
			l.log.Warn().
				Int64("loan_id", rec.ID).
				Int64("book_id", rec.BookID).
				Msg("returned copy not restocked: book missing or already at full quantity")
		}
		loan = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := l.log.Info().Int64("loan_id", loan.ID).Int64("book_id", loan.BookID)
	if loan.FineAmount.IsPositive() {
		ev = ev.Str("fine", loan.FineAmount.StringFixed(2))
	}
	ev.Msg("book returned")
	l.publish(ctx, EventLoanReturned, loan)
	return loan, nil
}

func (l *Ledger) GetLoan(ctx context.Context, id int64) (*Loan, error) {
	return l.db.getLoan(ctx, l.db.db, id)
}

func (l *Ledger) ListAllLoans(ctx context.Context) ([]*Loan, error) {
	return l.db.findLoans(ctx, l.db.db)
}

// ListActiveLoans returns every loan that has not been returned.
func (l *Ledger) ListActiveLoans(ctx context.Context) ([]*Loan, error) {
	return l.db.findLoans(ctx, l.db.db, openLoan())
}

// ListLoansForMember returns the open loans of member memberID.
func (l *Ledger) ListLoansForMember(ctx context.Context, memberID int64) ([]*Loan, error) {
	if _, err := l.db.getMember(ctx, l.db.db, memberID); err != nil {
		return nil, err
	}
	return l.db.findLoans(ctx, l.db.db, openLoan(), goqu.I("l.member_id").Eq(memberID))
}

func (l *Ledger) publish(ctx context.Context, key string, loan *Loan) {
	ev := LoanEvent{
		LoanID:     loan.ID,
		BookID:     loan.BookID,
		MemberID:   loan.MemberID,
		BorrowDate: loan.BorrowDate.Format(time.DateOnly),
		DueDate:    loan.DueDate.Format(time.DateOnly),
		FineAmount: loan.FineAmount,
		OccurredAt: l.now().UTC(),
	}
	if loan.ReturnDate.Valid {
		ev.ReturnDate = loan.ReturnDate.Time.Format(time.DateOnly)
	}
	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(ev)
	if err != nil {
		l.log.Error().Err(err).Str("key", key).Msg("encode loan event")
		return
	}
	if err := l.events.Publish(ctx, key, body); err != nil {
		l.log.Warn().Err(err).Str("key", key).Int64("loan_id", loan.ID).Msg("publish loan event")
	}
}
