package library

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMemberDerivesLimitsFromRole(t *testing.T) {
	mgr := newManager(t)

	u := addMember(t, mgr, "user@example.com")
	assert.Equal(t, 2, u.MaxAllowedBooks)
	assert.Equal(t, 14, u.MaxAllowedDays)
	assert.NotEqual(t, "secret1", u.PasswordHash)

	in := memberInput("admin@example.com")
	in.Role = RoleAdmin
	a, err := mgr.Roster.AddMember(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 10, a.MaxAllowedBooks)
	assert.Equal(t, 30, a.MaxAllowedDays)
}

func TestAddMemberDuplicateEmail(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	addMember(t, mgr, "dup@example.com")

	_, err := mgr.Roster.AddMember(ctx, memberInput("dup@example.com"))
	assert.ErrorIs(t, err, ErrConflict)

	members, err := mgr.Roster.ListMembers(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestAddMemberValidation(t *testing.T) {
	mgr := newManager(t)

	tests := []struct {
		name string
		edit func(*MemberInput)
	}{
		{"bad email", func(in *MemberInput) { in.Email = "not-an-email" }},
		{"short password", func(in *MemberInput) { in.Password = "12345" }},
		{"missing password", func(in *MemberInput) { in.Password = "" }},
		{"missing name", func(in *MemberInput) { in.Name = "" }},
		{"missing phone", func(in *MemberInput) { in.PhoneNumber = "" }},
		{"unknown role", func(in *MemberInput) { in.Role = "LIBRARIAN" }},
		{"end before start", func(in *MemberInput) { in.MembershipEndDate = in.MembershipStartDate.AddDate(0, 0, -1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := memberInput("v@example.com")
			tt.edit(&in)
			_, err := mgr.Roster.AddMember(context.Background(), in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestSignUpDefaults(t *testing.T) {
	clock := newTestClock(time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC))
	mgr := newManager(t, WithClock(clock.Now))

	m, err := mgr.Roster.SignUp(context.Background(), SignUpInput{
		Name:        "Bob Reader",
		Email:       "bob@example.com",
		Password:    "hunter22",
		PhoneNumber: "555-0101",
		Address:     "2 Side St",
	})
	require.NoError(t, err)
	assert.Equal(t, RoleUser, m.Role)
	assert.True(t, m.Active)
	assert.Equal(t, "2024-06-15", m.MembershipStartDate.Format(time.DateOnly))
	assert.Equal(t, "2025-06-15", m.MembershipEndDate.Format(time.DateOnly))

	_, err = mgr.Roster.SignUp(context.Background(), SignUpInput{Name: "Al", Email: "al@example.com", Password: "hunter22", PhoneNumber: "1", Address: "x"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateMember(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	m := addMember(t, mgr, "old@example.com")
	addMember(t, mgr, "other@example.com")

	in := memberInput("new@example.com")
	in.Password = ""
	in.Role = RoleAdmin
	in.Department = "Acquisitions"
	got, err := mgr.Roster.UpdateMember(ctx, m.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", got.Email)
	assert.Equal(t, m.PasswordHash, got.PasswordHash, "empty password keeps the old hash")
	assert.Equal(t, 10, got.MaxAllowedBooks, "limits follow the new role")
	assert.Equal(t, "Acquisitions", got.Department)

	// The cached copy is refreshed.
	cached, err := mgr.Roster.GetMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", cached.Email)

	_, err = mgr.Roster.UpdateMember(ctx, m.ID, memberInput("other@example.com"))
	assert.ErrorIs(t, err, ErrConflict)

	_, err = mgr.Roster.UpdateMember(ctx, 9999, memberInput("ghost@example.com"))
	assert.ErrorIs(t, err, ErrNotFound)

	in.Password = "brand-new"
	got, err = mgr.Roster.UpdateMember(ctx, m.ID, in)
	require.NoError(t, err)
	assert.NotEqual(t, m.PasswordHash, got.PasswordHash)
	_, err = mgr.Roster.AuthenticateMember(ctx, "new@example.com", "brand-new")
	assert.NoError(t, err)
}

func TestGetMemberCacheInvalidatedOnDelete(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	m := addMember(t, mgr, "gone@example.com")

	_, err := mgr.Roster.GetMember(ctx, m.ID)
	require.NoError(t, err)

	require.NoError(t, mgr.Roster.DeleteMember(ctx, m.ID))

	_, err = mgr.Roster.GetMember(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, mgr.Roster.DeleteMember(ctx, m.ID), ErrNotFound)
}

func TestDeleteMemberWithOpenLoans(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	b := addBook(t, mgr, "x", 1)
	m := addMember(t, mgr, "busy@example.com")

	_, err := mgr.Ledger.BorrowBook(ctx, b.ID, m.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, mgr.Roster.DeleteMember(ctx, m.ID), ErrConflict)
}

func TestListMembersByRole(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	addMember(t, mgr, "u1@example.com")
	addMember(t, mgr, "u2@example.com")
	in := memberInput("boss@example.com")
	in.Role = RoleAdmin
	_, err := mgr.Roster.AddMember(ctx, in)
	require.NoError(t, err)

	admins, err := mgr.Roster.ListMembersByRole(ctx, RoleAdmin)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "boss@example.com", admins[0].Email)

	users, err := mgr.Roster.ListMembersByRole(ctx, RoleUser)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestAuthenticateMember(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	m := addMember(t, mgr, "auth@example.com")

	got, err := mgr.Roster.AuthenticateMember(ctx, "auth@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, wrongPassword := mgr.Roster.AuthenticateMember(ctx, "auth@example.com", "nope-nope")
	_, unknownEmail := mgr.Roster.AuthenticateMember(ctx, "who@example.com", "secret1")
	assert.ErrorIs(t, wrongPassword, ErrAuthentication)
	assert.ErrorIs(t, unknownEmail, ErrAuthentication)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestResetPassword(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()
	m := addMember(t, mgr, "reset@example.com")

	assert.ErrorIs(t, mgr.Roster.ResetPassword(ctx, m.ID, "123"), ErrValidation)
	assert.ErrorIs(t, mgr.Roster.ResetPassword(ctx, 9999, "long-enough"), ErrNotFound)

	require.NoError(t, mgr.Roster.ResetPassword(ctx, m.ID, "long-enough"))
	_, err := mgr.Roster.AuthenticateMember(ctx, "reset@example.com", "secret1")
	assert.ErrorIs(t, err, ErrAuthentication)
	_, err = mgr.Roster.AuthenticateMember(ctx, "reset@example.com", "long-enough")
	assert.NoError(t, err)
}
