package library

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
)

// Stats computes the dashboard counts.
type Stats struct {
	db  *Database
	now func() time.Time
}

func NewStats(db *Database, now func() time.Time) *Stats {
	if now == nil {
		now = time.Now
	}
	return &Stats{db: db, now: now}
}

// Dashboard counts books, members and loans. A loan is overdue when it is
// still open and its due date is before today.
func (s *Stats) Dashboard(ctx context.Context) (*DashboardStats, error) {
	q := s.db.db
	var (
		st  DashboardStats
		err error
	)
	if st.TotalBooks, err = s.db.count(ctx, q, "books"); err != nil {
		return nil, err
	}
	if st.TotalMembers, err = s.db.count(ctx, q, "members"); err != nil {
		return nil, err
	}
	if st.TotalBorrowings, err = s.db.count(ctx, q, "loans"); err != nil {
		return nil, err
	}
	if st.ActiveBorrowings, err = s.db.count(ctx, q, "loans", goqu.C("returned").IsFalse()); err != nil {
		return nil, err
	}
	today := DateOf(s.now())
	if st.OverdueBorrowings, err = s.db.count(ctx, q, "loans",
		goqu.C("returned").IsFalse(), goqu.C("due_date").Lt(today)); err != nil {
		return nil, err
	}
	return &st, nil
}
