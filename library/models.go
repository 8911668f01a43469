package library

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Role is the closed set of member roles. Loan limits are derived from it.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Book represents a catalog title and how many of its copies are on the shelf.
type Book struct {
	ID                int64  `db:"id"`
	Title             string `db:"title"`
	Author            string `db:"author"`
	ISBN              string `db:"isbn"`
	Quantity          int    `db:"quantity"`
	AvailableQuantity int    `db:"available_quantity"`
	Publisher         string `db:"publisher"`
	PublicationYear   int    `db:"publication_year"`
}

// Member represents a registered library member.
type Member struct {
	ID                  int64     `db:"id"`
	Name                string    `db:"name"`
	Email               string    `db:"email"`
	PasswordHash        string    `db:"password_hash"`
	PhoneNumber         string    `db:"phone_number"`
	Address             string    `db:"address"`
	Role                Role      `db:"role"`
	MembershipStartDate time.Time `db:"membership_start_date"`
	MembershipEndDate   time.Time `db:"membership_end_date"`
	Active              bool      `db:"active"`

	// Student specific
	StudentID string `db:"student_id"`
	Course    string `db:"course"`
	Semester  string `db:"semester"`

	// Employee specific
	EmployeeID  string `db:"employee_id"`
	Department  string `db:"department"`
	Designation string `db:"designation"`

	MaxAllowedBooks int `db:"max_allowed_books"`
	MaxAllowedDays  int `db:"max_allowed_days"`
}

// Loan is a borrow record. BookTitle and MemberName are filled from joins and
// are empty when the referenced record no longer exists.
type Loan struct {
	ID         int64           `db:"id"`
	BookID     int64           `db:"book_id"`
	MemberID   int64           `db:"member_id"`
	BorrowDate time.Time       `db:"borrow_date"`
	DueDate    time.Time       `db:"due_date"`
	ReturnDate sql.NullTime    `db:"return_date"`
	Returned   bool            `db:"returned"`
	FineAmount decimal.Decimal `db:"fine_amount"`

	BookTitle  string `db:"book_title"`
	MemberName string `db:"member_name"`
}

// DashboardStats holds the record counts shown on the librarian dashboard.
type DashboardStats struct {
	TotalBooks        int64
	TotalMembers      int64
	TotalBorrowings   int64
	ActiveBorrowings  int64
	OverdueBorrowings int64
}

// DateOf truncates t to its calendar date, expressed as UTC midnight. All
// stored dates go through it so that day arithmetic is exact.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
