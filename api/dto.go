package api

import (
	"fmt"
	"strconv"
	"time"

	"library-service/library"
)

const dateLayout = time.DateOnly

// date renders a calendar date as YYYY-MM-DD.
type date time.Time

func (d date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(d).Format(dateLayout) + `"`), nil
}

func (d *date) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return err
	}
	*d = date(t)
	return nil
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be a date in YYYY-MM-DD format", library.ErrValidation, field)
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

type bookRequest struct {
	Title           string `json:"title" binding:"required"`
	Author          string `json:"author" binding:"required"`
	ISBN            string `json:"isbn" binding:"required"`
	Quantity        *int   `json:"quantity" binding:"required,min=0"`
	Publisher       string `json:"publisher" binding:"required"`
	PublicationYear *int   `json:"publicationYear" binding:"required,min=1000"`
}

func (r bookRequest) input() library.BookInput {
	return library.BookInput{
		Title:           r.Title,
		Author:          r.Author,
		ISBN:            r.ISBN,
		Quantity:        *r.Quantity,
		Publisher:       r.Publisher,
		PublicationYear: *r.PublicationYear,
	}
}

type bookResponse struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	Author            string `json:"author"`
	ISBN              string `json:"isbn"`
	Quantity          int    `json:"quantity"`
	AvailableQuantity int    `json:"availableQuantity"`
	Publisher         string `json:"publisher"`
	PublicationYear   int    `json:"publicationYear"`
}

func toBook(b *library.Book) bookResponse {
	return bookResponse{
		ID:                b.ID,
		Title:             b.Title,
		Author:            b.Author,
		ISBN:              b.ISBN,
		Quantity:          b.Quantity,
		AvailableQuantity: b.AvailableQuantity,
		Publisher:         b.Publisher,
		PublicationYear:   b.PublicationYear,
	}
}

func toBooks(bs []*library.Book) []bookResponse {
	out := make([]bookResponse, 0, len(bs))
	for _, b := range bs {
		out = append(out, toBook(b))
	}
	return out
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

type memberRequest struct {
	Name                string `json:"name" binding:"required"`
	Email               string `json:"email" binding:"required,email"`
	Password            string `json:"password" binding:"omitempty,min=6"`
	PhoneNumber         string `json:"phoneNumber" binding:"required"`
	Address             string `json:"address" binding:"required"`
	Role                string `json:"role" binding:"required"`
	MembershipStartDate string `json:"membershipStartDate" binding:"required"`
	MembershipEndDate   string `json:"membershipEndDate" binding:"required"`
	Active              *bool  `json:"active"`

	StudentID   string `json:"studentId"`
	Course      string `json:"course"`
	Semester    string `json:"semester"`
	EmployeeID  string `json:"employeeId"`
	Department  string `json:"department"`
	Designation string `json:"designation"`
}

func (r memberRequest) input(policy *library.Policy) (library.MemberInput, error) {
	role, err := policy.ParseRole(r.Role)
	if err != nil {
		return library.MemberInput{}, err
	}
	start, err := parseDate("membershipStartDate", r.MembershipStartDate)
	if err != nil {
		return library.MemberInput{}, err
	}
	end, err := parseDate("membershipEndDate", r.MembershipEndDate)
	if err != nil {
		return library.MemberInput{}, err
	}
	// Omitted means active on create; updateMember keeps the stored flag.
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return library.MemberInput{
		Name:                r.Name,
		Email:               r.Email,
		Password:            r.Password,
		PhoneNumber:         r.PhoneNumber,
		Address:             r.Address,
		Role:                role,
		MembershipStartDate: start,
		MembershipEndDate:   end,
		Active:              active,
		StudentID:           r.StudentID,
		Course:              r.Course,
		Semester:            r.Semester,
		EmployeeID:          r.EmployeeID,
		Department:          r.Department,
		Designation:         r.Designation,
	}, nil
}

// memberResponse never carries the password hash.
type memberResponse struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	Email               string `json:"email"`
	PhoneNumber         string `json:"phoneNumber"`
	Address             string `json:"address"`
	Role                string `json:"role"`
	MembershipStartDate date   `json:"membershipStartDate"`
	MembershipEndDate   date   `json:"membershipEndDate"`
	Active              bool   `json:"active"`

	StudentID   string `json:"studentId,omitempty"`
	Course      string `json:"course,omitempty"`
	Semester    string `json:"semester,omitempty"`
	EmployeeID  string `json:"employeeId,omitempty"`
	Department  string `json:"department,omitempty"`
	Designation string `json:"designation,omitempty"`

	MaxAllowedBooks int `json:"maxAllowedBooks"`
	MaxAllowedDays  int `json:"maxAllowedDays"`
}

func toMember(m *library.Member) memberResponse {
	return memberResponse{
		ID:                  m.ID,
		Name:                m.Name,
		Email:               m.Email,
		PhoneNumber:         m.PhoneNumber,
		Address:             m.Address,
		Role:                string(m.Role),
		MembershipStartDate: date(m.MembershipStartDate),
		MembershipEndDate:   date(m.MembershipEndDate),
		Active:              m.Active,
		StudentID:           m.StudentID,
		Course:              m.Course,
		Semester:            m.Semester,
		EmployeeID:          m.EmployeeID,
		Department:          m.Department,
		Designation:         m.Designation,
		MaxAllowedBooks:     m.MaxAllowedBooks,
		MaxAllowedDays:      m.MaxAllowedDays,
	}
}

func toMembers(ms []*library.Member) []memberResponse {
	out := make([]memberResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMember(m))
	}
	return out
}

// userInfo is the short projection returned at login and by /me.
type userInfo struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func toUserInfo(m *library.Member) userInfo {
	return userInfo{ID: m.ID, Name: m.Name, Email: m.Email, Role: string(m.Role)}
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	AccessToken string   `json:"accessToken"`
	TokenType   string   `json:"tokenType"`
	User        userInfo `json:"user"`
}

type signUpRequest struct {
	Name                string `json:"name" binding:"required,min=3,max=50"`
	Email               string `json:"email" binding:"required,email"`
	Password            string `json:"password" binding:"required,min=6"`
	PhoneNumber         string `json:"phoneNumber" binding:"required"`
	Address             string `json:"address" binding:"required"`
	MembershipStartDate string `json:"membershipStartDate"`
	MembershipEndDate   string `json:"membershipEndDate"`
}

// input ignores any role the client sends; admins are created through
// /api/members or the create-admin command.
func (r signUpRequest) input() (library.SignUpInput, error) {
	in := library.SignUpInput{
		Name:        r.Name,
		Email:       r.Email,
		Password:    r.Password,
		PhoneNumber: r.PhoneNumber,
		Address:     r.Address,
	}
	var err error
	if r.MembershipStartDate != "" {
		if in.MembershipStartDate, err = parseDate("membershipStartDate", r.MembershipStartDate); err != nil {
			return in, err
		}
	}
	if r.MembershipEndDate != "" {
		if in.MembershipEndDate, err = parseDate("membershipEndDate", r.MembershipEndDate); err != nil {
			return in, err
		}
	}
	return in, nil
}

// ---------------------------------------------------------------------------
// Borrowings
// ---------------------------------------------------------------------------

type borrowRequest struct {
	BookID   int64 `json:"bookId" binding:"required"`
	MemberID int64 `json:"memberId" binding:"required"`
}

type loanResponse struct {
	ID         int64   `json:"id"`
	BookID     int64   `json:"bookId"`
	MemberID   int64   `json:"memberId"`
	BorrowDate date    `json:"borrowDate"`
	DueDate    date    `json:"dueDate"`
	ReturnDate *date   `json:"returnDate"`
	Returned   bool    `json:"returned"`
	FineAmount float64 `json:"fineAmount"`
	BookTitle  string  `json:"bookTitle"`
	MemberName string  `json:"memberName"`
}

func toLoan(l *library.Loan) loanResponse {
	out := loanResponse{
		ID:         l.ID,
		BookID:     l.BookID,
		MemberID:   l.MemberID,
		BorrowDate: date(l.BorrowDate),
		DueDate:    date(l.DueDate),
		Returned:   l.Returned,
		FineAmount: l.FineAmount.InexactFloat64(),
		BookTitle:  l.BookTitle,
		MemberName: l.MemberName,
	}
	if l.ReturnDate.Valid {
		rd := date(l.ReturnDate.Time)
		out.ReturnDate = &rd
	}
	return out
}

func toLoans(ls []*library.Loan) []loanResponse {
	out := make([]loanResponse, 0, len(ls))
	for _, l := range ls {
		out = append(out, toLoan(l))
	}
	return out
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

type dashboardResponse struct {
	TotalBooks        int64 `json:"totalBooks"`
	TotalMembers      int64 `json:"totalMembers"`
	TotalBorrowings   int64 `json:"totalBorrowings"`
	ActiveBorrowings  int64 `json:"activeBorrowings"`
	OverdueBorrowings int64 `json:"overdueBorrowings"`
}

func toDashboard(s *library.DashboardStats) dashboardResponse {
	return dashboardResponse(*s)
}
