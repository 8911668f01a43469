package library

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// MemberInput carries the writable fields of a member. Password may be empty
// on update, meaning "keep the current one".
type MemberInput struct {
	Name                string
	Email               string
	Password            string
	PhoneNumber         string
	Address             string
	Role                Role
	MembershipStartDate time.Time
	MembershipEndDate   time.Time
	Active              bool

	StudentID   string
	Course      string
	Semester    string
	EmployeeID  string
	Department  string
	Designation string
}

// SignUpInput is the self-service registration form. Membership dates are
// optional. There is no role: self-registered members are always USER.
type SignUpInput struct {
	Name                string
	Email               string
	Password            string
	PhoneNumber         string
	Address             string
	MembershipStartDate time.Time
	MembershipEndDate   time.Time
}

func (r *Roster) validate(in MemberInput, passwordRequired bool) error {
	var problems []string
	if strings.TrimSpace(in.Name) == "" {
		problems = append(problems, "name is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		problems = append(problems, "invalid email format")
	}
	switch {
	case in.Password == "" && passwordRequired:
		problems = append(problems, "password is required")
	case in.Password != "" && len(in.Password) < minPasswordLength:
		problems = append(problems, fmt.Sprintf("password must be at least %d characters long", minPasswordLength))
	}
	if strings.TrimSpace(in.PhoneNumber) == "" {
		problems = append(problems, "phone number is required")
	}
	if strings.TrimSpace(in.Address) == "" {
		problems = append(problems, "address is required")
	}
	if _, ok := r.policy.Limits(in.Role); !ok {
		problems = append(problems, fmt.Sprintf("unknown role %q", in.Role))
	}
	if in.MembershipStartDate.IsZero() || in.MembershipEndDate.IsZero() {
		problems = append(problems, "membership dates are required")
	} else if DateOf(in.MembershipEndDate).Before(DateOf(in.MembershipStartDate)) {
		problems = append(problems, "membership end date is before start date")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// applyMemberInput copies in onto m field by field. Password and limits are
// handled by the caller.
func applyMemberInput(m *Member, in MemberInput) {
	m.Name = strings.TrimSpace(in.Name)
	m.Email = strings.TrimSpace(in.Email)
	m.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	m.Address = strings.TrimSpace(in.Address)
	m.Role = in.Role
	m.MembershipStartDate = DateOf(in.MembershipStartDate)
	m.MembershipEndDate = DateOf(in.MembershipEndDate)
	m.Active = in.Active
	m.StudentID = in.StudentID
	m.Course = in.Course
	m.Semester = in.Semester
	m.EmployeeID = in.EmployeeID
	m.Department = in.Department
	m.Designation = in.Designation
}

// Roster manages member records and their credentials.
type Roster struct {
	db       *Database
	policy   *Policy
	log      zerolog.Logger
	now      func() time.Time
	hashCost int
	cache    *expirable.LRU[int64, Member]

	dummyOnce sync.Once
	dummyHash []byte
}

// RosterConfig tunes a Roster. Zero values select defaults.
type RosterConfig struct {
	HashCost  int
	CacheSize int
	CacheTTL  time.Duration
	Now       func() time.Time
}

func NewRoster(db *Database, policy *Policy, log zerolog.Logger, cfg RosterConfig) *Roster {
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Roster{
		db:       db,
		policy:   policy,
		log:      log,
		now:      cfg.Now,
		hashCost: cfg.HashCost,
		cache:    expirable.NewLRU[int64, Member](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

func (r *Roster) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), r.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// create stores a new member with limits taken from its role.
func (r *Roster) create(ctx context.Context, in MemberInput) (*Member, error) {
	if err := r.validate(in, true); err != nil {
		return nil, err
	}
	limits, _ := r.policy.Limits(in.Role)

	m := &Member{MaxAllowedBooks: limits.MaxBooks, MaxAllowedDays: limits.MaxDays}
	applyMemberInput(m, in)
	hash, err := r.hash(in.Password)
	if err != nil {
		return nil, err
	}
	m.PasswordHash = hash

	err = r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		taken, err := r.db.emailTaken(ctx, tx, m.Email)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: member with this email already exists", ErrConflict)
		}
		id, err := r.db.insertMember(ctx, tx, m)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: member with this email already exists", ErrConflict)
			}
			return fmt.Errorf("insert member: %w", err)
		}
		m.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().Int64("member_id", m.ID).Str("role", string(m.Role)).Msg("member created")
	return m, nil
}

// AddMember is the librarian-side create.
func (r *Roster) AddMember(ctx context.Context, in MemberInput) (*Member, error) {
	return r.create(ctx, in)
}

// SignUp registers a member from the public form as a USER. The membership
// runs from today for one year unless given.
func (r *Roster) SignUp(ctx context.Context, in SignUpInput) (*Member, error) {
	if n := len(strings.TrimSpace(in.Name)); n < 3 || n > 50 {
		return nil, fmt.Errorf("%w: name must be between 3 and 50 characters", ErrValidation)
	}
	today := DateOf(r.now())
	full := MemberInput{
		Name:                in.Name,
		Email:               in.Email,
		Password:            in.Password,
		PhoneNumber:         in.PhoneNumber,
		Address:             in.Address,
		Role:                RoleUser,
		MembershipStartDate: in.MembershipStartDate,
		MembershipEndDate:   in.MembershipEndDate,
		Active:              true,
	}
	if full.MembershipStartDate.IsZero() {
		full.MembershipStartDate = today
	}
	if full.MembershipEndDate.IsZero() {
		full.MembershipEndDate = today.AddDate(1, 0, 0)
	}
	return r.create(ctx, full)
}

// UpdateMember replaces the writable fields of member id. The password is
// re-hashed only when a new one is supplied; limits follow the role.
func (r *Roster) UpdateMember(ctx context.Context, id int64, in MemberInput) (*Member, error) {
	if err := r.validate(in, false); err != nil {
		return nil, err
	}

	var newHash string
	if in.Password != "" {
		h, err := r.hash(in.Password)
		if err != nil {
			return nil, err
		}
		newHash = h
	}

	var updated *Member
	err := r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		m, err := r.db.getMember(ctx, tx, id)
		if err != nil {
			return err
		}

		email := strings.TrimSpace(in.Email)
		if email != m.Email {
			taken, err := r.db.emailTaken(ctx, tx, email)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: member with this email already exists", ErrConflict)
			}
		}

		if in.Role != m.Role {
			limits, _ := r.policy.Limits(in.Role)
			m.MaxAllowedBooks, m.MaxAllowedDays = limits.MaxBooks, limits.MaxDays
		}
		applyMemberInput(m, in)
		if newHash != "" {
			m.PasswordHash = newHash
		}

		if err := r.db.updateMember(ctx, tx, m); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: member with this email already exists", ErrConflict)
			}
			return err
		}
		updated = m
		return nil
	})
	r.cache.Remove(id)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ResetPassword sets a new password for member id.
func (r *Roster) ResetPassword(ctx context.Context, id int64, password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters long", ErrValidation, minPasswordLength)
	}
	hash, err := r.hash(password)
	if err != nil {
		return err
	}
	err = r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		n, err := r.db.exec(ctx, tx, r.db.dialect.Update("members").
			Set(goqu.Record{"password_hash": hash}).
			Where(goqu.C("id").Eq(id)).
			Prepared(true))
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: member %d", ErrNotFound, id)
		}
		return nil
	})
	r.cache.Remove(id)
	return err
}

// DeleteMember removes member id unless it still has books out.
func (r *Roster) DeleteMember(ctx context.Context, id int64) error {
	err := r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := r.db.getMember(ctx, tx, id); err != nil {
			return err
		}
		open, err := r.db.countOpenLoans(ctx, tx, "member_id", id)
		if err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("%w: member %d has %d open loans", ErrConflict, id, open)
		}
		return r.db.deleteMember(ctx, tx, id)
	})
	r.cache.Remove(id)
	if err != nil {
		return err
	}
	r.log.Info().Int64("member_id", id).Msg("member deleted")
	return nil
}

// GetMember returns member id, served from the cache when possible.
func (r *Roster) GetMember(ctx context.Context, id int64) (*Member, error) {
	if m, ok := r.cache.Get(id); ok {
		return &m, nil
	}
	m, err := r.db.getMember(ctx, r.db.db, id)
	if err != nil {
		return nil, err
	}
	r.cache.Add(id, *m)
	return m, nil
}

func (r *Roster) GetMemberByEmail(ctx context.Context, email string) (*Member, error) {
	return r.db.getMemberByEmail(ctx, r.db.db, strings.TrimSpace(email))
}

func (r *Roster) ListMembers(ctx context.Context) ([]*Member, error) {
	return r.db.findMembers(ctx, r.db.db)
}

func (r *Roster) ListMembersByRole(ctx context.Context, role Role) ([]*Member, error) {
	return r.db.findMembers(ctx, r.db.db, goqu.C("role").Eq(string(role)))
}

// AuthenticateMember checks email and password against the stored hash.
// Unknown emails still pay for one bcrypt comparison so the two failure
// cases take the same time.
func (r *Roster) AuthenticateMember(ctx context.Context, email, password string) (*Member, error) {
	m, err := r.GetMemberByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(r.dummy(), []byte(password))
			return nil, ErrAuthentication
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)); err != nil {
		return nil, ErrAuthentication
	}
	return m, nil
}

func (r *Roster) dummy() []byte {
	r.dummyOnce.Do(func() {
		r.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), r.hashCost)
	})
	return r.dummyHash
}
