// Package auth issues and verifies the bearer tokens handed out at login.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"library-service/library"
)

const TokenType = "Bearer"

// ErrInvalidToken covers every reason a presented token is rejected.
var ErrInvalidToken = errors.New("invalid token")

// MemberDirectory is the part of the roster the issuer needs.
type MemberDirectory interface {
	AuthenticateMember(ctx context.Context, email, password string) (*library.Member, error)
	GetMember(ctx context.Context, id int64) (*library.Member, error)
}

// Claims carried by an access token. Subject holds the member id.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// MemberID returns the subject as a member id.
func (c *Claims) MemberID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return id, nil
}

// Session is the result of a successful login.
type Session struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	Member      *library.Member
}

type Issuer struct {
	secret  []byte
	ttl     time.Duration
	issuer  string
	members MemberDirectory
	now     func() time.Time
}

type Option func(*Issuer)

// WithClock overrides time.Now for issuing and validating tokens.
func WithClock(now func() time.Time) Option { return func(i *Issuer) { i.now = now } }

func NewIssuer(secret []byte, ttl time.Duration, issuer string, members MemberDirectory, opts ...Option) *Issuer {
	i := &Issuer{secret: secret, ttl: ttl, issuer: issuer, members: members, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Login checks the credentials and issues a token. Any failure to match
// is reported as library.ErrAuthentication, whatever the cause.
func (i *Issuer) Login(ctx context.Context, email, password string) (*Session, error) {
	m, err := i.members.AuthenticateMember(ctx, email, password)
	if err != nil {
		return nil, err
	}
	token, exp, err := i.issue(m)
	if err != nil {
		return nil, err
	}
	return &Session{AccessToken: token, TokenType: TokenType, ExpiresAt: exp, Member: m}, nil
}

// Issue signs a token for m.
func (i *Issuer) Issue(m *library.Member) (string, error) {
	token, _, err := i.issue(m)
	return token, err
}

func (i *Issuer) issue(m *library.Member) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Role:  string(m.Role),
		Email: m.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(m.ID, 10),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies signature, issuer and lifetime of a token.
func (i *Issuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.MemberID(); err != nil {
		return nil, err
	}
	return claims, nil
}

// Current resolves the token subject back to the member record.
func (i *Issuer) Current(ctx context.Context, claims *Claims) (*library.Member, error) {
	id, err := claims.MemberID()
	if err != nil {
		return nil, err
	}
	return i.members.GetMember(ctx, id)
}
