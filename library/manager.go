package library

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LibraryManager is a thin façade over the Database, wiring the catalog,
// roster, ledger and stats to one store and one policy.
type LibraryManager struct {
	db *Database

	Catalog *Catalog
	Roster  *Roster
	Ledger  *Ledger
	Stats   *Stats
}

type managerOptions struct {
	log    zerolog.Logger
	now    func() time.Time
	events Publisher
	roster RosterConfig
	policy *Policy
}

// Option customises a LibraryManager.
type Option func(*managerOptions)

func WithLogger(log zerolog.Logger) Option { return func(o *managerOptions) { o.log = log } }

// WithClock replaces time.Now; borrow, return and overdue dates come from it.
func WithClock(now func() time.Time) Option { return func(o *managerOptions) { o.now = now } }

func WithEvents(p Publisher) Option { return func(o *managerOptions) { o.events = p } }

func WithPolicy(p *Policy) Option { return func(o *managerOptions) { o.policy = p } }

// WithMemberCache sizes the roster's member cache.
func WithMemberCache(size int, ttl time.Duration) Option {
	return func(o *managerOptions) {
		o.roster.CacheSize = size
		o.roster.CacheTTL = ttl
	}
}

// WithPasswordCost sets the bcrypt cost for new password hashes.
func WithPasswordCost(cost int) Option {
	return func(o *managerOptions) { o.roster.HashCost = cost }
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	return NewLibraryManagerWithDatabase(db, opts...), nil
}

// NewLibraryManagerWithDatabase wires the managers over an already opened db.
func NewLibraryManagerWithDatabase(db *Database, opts ...Option) *LibraryManager {
	o := managerOptions{
		log: zerolog.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.policy == nil {
		o.policy = DefaultPolicy()
	}
	o.roster.Now = o.now

	return &LibraryManager{
		db:      db,
		Catalog: NewCatalog(db, o.log.With().Str("component", "catalog").Logger()),
		Roster:  NewRoster(db, o.policy, o.log.With().Str("component", "roster").Logger(), o.roster),
		Ledger:  NewLedger(db, o.policy, o.now, o.events, o.log.With().Str("component", "ledger").Logger()),
		Stats:   NewStats(db, o.now),
	}
}

// Ping checks that the database is reachable.
func (lm *LibraryManager) Ping(ctx context.Context) error { return lm.db.db.PingContext(ctx) }

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }
