package library

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFine(t *testing.T) {
	p := DefaultPolicy()
	due := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		returned time.Time
		want     string
	}{
		{"early", due.AddDate(0, 0, -3), "0"},
		{"on due date", due, "0"},
		{"later the same day", due.Add(23 * time.Hour), "0"},
		{"one day late", due.AddDate(0, 0, 1), "1"},
		{"five days late", due.AddDate(0, 0, 5), "5"},
		{"across month end", due.AddDate(0, 0, 30), "30"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Fine(due, tt.returned)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestFineUsesConfiguredRate(t *testing.T) {
	p, err := NewPolicy(PolicyConfig{LoanPeriodDays: 7, FinePerDay: decimal.RequireFromString("0.25")})
	require.NoError(t, err)

	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := p.Fine(due, due.AddDate(0, 0, 3))
	assert.Equal(t, "0.75", got.StringFixed(2))
}

func TestDueDateFollowsLoanPeriodSource(t *testing.T) {
	borrowed := time.Date(2024, 12, 25, 15, 30, 0, 0, time.UTC)
	admin := &Member{Role: RoleAdmin, MaxAllowedDays: 30}

	fixed := DefaultPolicy()
	assert.Equal(t, "2025-01-08", fixed.DueDate(borrowed, admin).Format(time.DateOnly))

	byRole, err := NewPolicy(PolicyConfig{
		LoanPeriodDays:   DefaultLoanPeriodDays,
		FinePerDay:       decimal.NewFromInt(1),
		LoanPeriodSource: LoanPeriodByRole,
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-24", byRole.DueDate(borrowed, admin).Format(time.DateOnly))
}

func TestNewPolicyValidates(t *testing.T) {
	_, err := NewPolicy(PolicyConfig{LoanPeriodDays: 0, FinePerDay: decimal.Zero})
	assert.Error(t, err)

	_, err = NewPolicy(PolicyConfig{LoanPeriodDays: 14, FinePerDay: decimal.NewFromInt(-1)})
	assert.Error(t, err)

	_, err = NewPolicy(PolicyConfig{LoanPeriodDays: 14, LoanPeriodSource: "member"})
	assert.Error(t, err)

	_, err = NewPolicy(PolicyConfig{LoanPeriodDays: 14, Roles: map[Role]RoleLimits{RoleUser: {MaxBooks: 0, MaxDays: 1}}})
	assert.Error(t, err)
}

func TestPolicyCopiesRoleTable(t *testing.T) {
	roles := map[Role]RoleLimits{RoleUser: {MaxBooks: 3, MaxDays: 7}}
	p, err := NewPolicy(PolicyConfig{LoanPeriodDays: 14, Roles: roles})
	require.NoError(t, err)

	roles[RoleUser] = RoleLimits{MaxBooks: 99, MaxDays: 99}
	got, ok := p.Limits(RoleUser)
	require.True(t, ok)
	assert.Equal(t, RoleLimits{MaxBooks: 3, MaxDays: 7}, got)

	_, ok = p.Limits(RoleAdmin)
	assert.False(t, ok)
}

func TestParseRole(t *testing.T) {
	p := DefaultPolicy()

	r, err := p.ParseRole("ADMIN")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)

	_, err = p.ParseRole("LIBRARIAN")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 2, 27, 23, 59, 0, 0, time.UTC)
	b := time.Date(2024, 3, 1, 0, 1, 0, 0, time.UTC)
	assert.Equal(t, 3, DaysBetween(a, b))
	assert.Equal(t, -3, DaysBetween(b, a))
}
