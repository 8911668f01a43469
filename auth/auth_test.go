package auth

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"library-service/library"
)

var secret = []byte(strings.Repeat("k", 32))

func newRoster(t *testing.T) (*library.Roster, *library.Member) {
	t.Helper()
	mgr, err := library.NewLibraryManager(filepath.Join(t.TempDir(), "auth.db"), library.WithPasswordCost(bcrypt.MinCost))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	m, err := mgr.Roster.AddMember(context.Background(), library.MemberInput{
		Name:                "Ada Admin",
		Email:               "ada@example.com",
		Password:            "correct-horse",
		PhoneNumber:         "555-0199",
		Address:             "Library Lane 1",
		Role:                library.RoleAdmin,
		MembershipStartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		MembershipEndDate:   time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:              true,
	})
	require.NoError(t, err)
	return mgr.Roster, m
}

func TestLoginIssuesParsableToken(t *testing.T) {
	roster, m := newRoster(t)
	iss := NewIssuer(secret, time.Hour, "test", roster)
	ctx := context.Background()

	sess, err := iss.Login(ctx, "ada@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, TokenType, sess.TokenType)
	assert.Equal(t, m.ID, sess.Member.ID)

	claims, err := iss.Parse(sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", claims.Role)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID)

	id, err := claims.MemberID()
	require.NoError(t, err)
	assert.Equal(t, m.ID, id)

	me, err := iss.Current(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, m.Email, me.Email)
}

func TestLoginFailureIsGeneric(t *testing.T) {
	roster, _ := newRoster(t)
	iss := NewIssuer(secret, time.Hour, "test", roster)

	_, err := iss.Login(context.Background(), "ada@example.com", "wrong")
	assert.ErrorIs(t, err, library.ErrAuthentication)

	_, err = iss.Login(context.Background(), "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, library.ErrAuthentication)
}

func TestParseRejectsBadTokens(t *testing.T) {
	roster, m := newRoster(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	iss := NewIssuer(secret, time.Hour, "test", roster, WithClock(clock))

	token, err := iss.Issue(m)
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := NewIssuer(secret, time.Hour, "test", roster, WithClock(func() time.Time { return now.Add(2 * time.Hour) }))
		_, err := later.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewIssuer([]byte(strings.Repeat("x", 32)), time.Hour, "test", roster, WithClock(clock))
		_, err := other.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewIssuer(secret, time.Hour, "someone-else", roster, WithClock(clock))
		_, err := other.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := iss.Parse("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		claims := Claims{Role: "ADMIN", RegisteredClaims: jwt.RegisteredClaims{
			Subject: "1", Issuer: "test", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}}
		none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = iss.Parse(none)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("non numeric subject", func(t *testing.T) {
		claims := Claims{Role: "ADMIN", RegisteredClaims: jwt.RegisteredClaims{
			Subject: "ada", Issuer: "test", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)
		_, err = iss.Parse(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestCurrentForDeletedMember(t *testing.T) {
	roster, m := newRoster(t)
	iss := NewIssuer(secret, time.Hour, "test", roster)
	ctx := context.Background()

	token, err := iss.Issue(m)
	require.NoError(t, err)
	claims, err := iss.Parse(token)
	require.NoError(t, err)

	require.NoError(t, roster.DeleteMember(ctx, m.ID))
	_, err = iss.Current(ctx, claims)
	assert.ErrorIs(t, err, library.ErrNotFound)
}
