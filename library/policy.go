package library

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LoanPeriodSource selects where a new loan's duration comes from.
type LoanPeriodSource string

const (
	// LoanPeriodFixed uses the policy's global loan period for every member.
	LoanPeriodFixed LoanPeriodSource = "fixed"
	// LoanPeriodByRole uses the borrowing member's MaxAllowedDays.
	LoanPeriodByRole LoanPeriodSource = "role"
)

const (
	DefaultLoanPeriodDays = 14
	DefaultFinePerDay     = "1.0"
)

// RoleLimits caps concurrent loans and loan duration for one role.
type RoleLimits struct {
	MaxBooks int
	MaxDays  int
}

// DefaultRoleLimits is the role table used when none is configured.
var DefaultRoleLimits = map[Role]RoleLimits{
	RoleUser:  {MaxBooks: 2, MaxDays: 14},
	RoleAdmin: {MaxBooks: 10, MaxDays: 30},
}

// PolicyConfig is the raw input to NewPolicy.
type PolicyConfig struct {
	LoanPeriodDays   int
	FinePerDay       decimal.Decimal
	LoanPeriodSource LoanPeriodSource
	EnforceLoanLimit bool
	Roles            map[Role]RoleLimits
}

// Policy is the lending policy, loaded once at startup and shared read-only by
// the ledger and the roster. Its fields are unexported so nothing can change
// it after construction.
type Policy struct {
	loanPeriodDays   int
	finePerDay       decimal.Decimal
	loanPeriodSource LoanPeriodSource
	enforceLoanLimit bool
	roles            map[Role]RoleLimits
}

// NewPolicy validates cfg and freezes it into a Policy.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	if cfg.LoanPeriodDays <= 0 {
		return nil, fmt.Errorf("loan period must be positive, got %d", cfg.LoanPeriodDays)
	}
	if cfg.FinePerDay.IsNegative() {
		return nil, fmt.Errorf("fine per day must not be negative, got %s", cfg.FinePerDay)
	}
	switch cfg.LoanPeriodSource {
	case "":
		cfg.LoanPeriodSource = LoanPeriodFixed
	case LoanPeriodFixed, LoanPeriodByRole:
	default:
		return nil, fmt.Errorf("unknown loan period source %q", cfg.LoanPeriodSource)
	}

	src := cfg.Roles
	if len(src) == 0 {
		src = DefaultRoleLimits
	}
	roles := make(map[Role]RoleLimits, len(src))
	for role, limits := range src {
		if limits.MaxBooks <= 0 || limits.MaxDays <= 0 {
			return nil, fmt.Errorf("role %s: limits must be positive", role)
		}
		roles[role] = limits
	}

	return &Policy{
		loanPeriodDays:   cfg.LoanPeriodDays,
		finePerDay:       cfg.FinePerDay,
		loanPeriodSource: cfg.LoanPeriodSource,
		enforceLoanLimit: cfg.EnforceLoanLimit,
		roles:            roles,
	}, nil
}

// DefaultPolicy returns the stock policy: 14 day loans, 1.0 per late day,
// fixed loan period, no loan cap.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(PolicyConfig{
		LoanPeriodDays: DefaultLoanPeriodDays,
		FinePerDay:     decimal.RequireFromString(DefaultFinePerDay),
	})
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Policy) LoanPeriodDays() int                { return p.loanPeriodDays }
func (p *Policy) FinePerDay() decimal.Decimal        { return p.finePerDay }
func (p *Policy) LoanPeriodSource() LoanPeriodSource { return p.loanPeriodSource }
func (p *Policy) EnforceLoanLimit() bool             { return p.enforceLoanLimit }

// Limits returns the limits for role and whether the role is known.
func (p *Policy) Limits(role Role) (RoleLimits, bool) {
	l, ok := p.roles[role]
	return l, ok
}

// ParseRole checks s against the roles the policy knows about.
func (p *Policy) ParseRole(s string) (Role, error) {
	role := Role(s)
	if _, ok := p.roles[role]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
	}
	return role, nil
}

// LoanPeriodFor returns how many days m may keep a newly borrowed book.
func (p *Policy) LoanPeriodFor(m *Member) int {
	if p.loanPeriodSource == LoanPeriodByRole && m.MaxAllowedDays > 0 {
		return m.MaxAllowedDays
	}
	return p.loanPeriodDays
}

// DueDate is borrowed plus the member's loan period, in calendar days.
func (p *Policy) DueDate(borrowed time.Time, m *Member) time.Time {
	return DateOf(borrowed).AddDate(0, 0, p.LoanPeriodFor(m))
}

// Fine is the late fee for a loan due on due and returned on returned:
// whole days late times the per-day fine, or zero when not late.
func (p *Policy) Fine(due, returned time.Time) decimal.Decimal {
	late := DaysBetween(due, returned)
	if late <= 0 {
		return decimal.Zero
	}
	return p.finePerDay.Mul(decimal.NewFromInt(int64(late)))
}
