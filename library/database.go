package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Database provides the record-level helpers the managers build on. It speaks
// to SQLite (default) or Postgres; queries are built with goqu so the SQL
// follows whichever dialect is in use.
type Database struct {
	db      *sqlx.DB
	driver  string
	dialect goqu.DialectWrapper
}

// NewDatabase opens (or creates) the SQLite database at dbPath and applies
// schema migrations.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// IMMEDIATE transactions take the write lock up front, so two borrows of
	// the same book queue behind each other instead of both reading stale
	// availability.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	return OpenDatabase(DriverSQLite, dsn)
}

// OpenDatabase opens a database with the given driver and DSN and applies
// schema migrations.
func OpenDatabase(driver, dsn string) (*Database, error) {
	var dialect string
	switch driver {
	case DriverSQLite:
		dialect = "sqlite3"
	case DriverPostgres:
		dialect = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	database := &Database{db: db, driver: driver, dialect: goqu.Dialect(dialect)}
	if err := database.applyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close closes the DB.
func (d *Database) Close() error { return d.db.Close() }

// Driver returns the database/sql driver name in use.
func (d *Database) Driver() string { return d.driver }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 3

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        title TEXT NOT NULL,
        author TEXT NOT NULL,
        isbn TEXT NOT NULL UNIQUE,
        quantity INTEGER NOT NULL CHECK (quantity >= 0),
        available_quantity INTEGER NOT NULL CHECK (available_quantity >= 0 AND available_quantity <= quantity),
        publisher TEXT NOT NULL,
        publication_year INTEGER NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS members (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL,
        email TEXT NOT NULL UNIQUE,
        password_hash TEXT NOT NULL,
        phone_number TEXT NOT NULL,
        address TEXT NOT NULL,
        role TEXT NOT NULL,
        membership_start_date DATE NOT NULL,
        membership_end_date DATE NOT NULL,
        active BOOLEAN NOT NULL DEFAULT 1,
        student_id TEXT NOT NULL DEFAULT '',
        course TEXT NOT NULL DEFAULT '',
        semester TEXT NOT NULL DEFAULT '',
        employee_id TEXT NOT NULL DEFAULT '',
        department TEXT NOT NULL DEFAULT '',
        designation TEXT NOT NULL DEFAULT '',
        max_allowed_books INTEGER NOT NULL,
        max_allowed_days INTEGER NOT NULL
    );`,
	// book_id and member_id carry no foreign keys: closed loans outlive the
	// records they point at.
	`CREATE TABLE IF NOT EXISTS loans (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        book_id INTEGER NOT NULL,
        member_id INTEGER NOT NULL,
        borrow_date DATE NOT NULL,
        due_date DATE NOT NULL,
        return_date DATE,
        returned BOOLEAN NOT NULL DEFAULT 0,
        fine_amount NUMERIC(10,2) NOT NULL DEFAULT 0 CHECK (fine_amount >= 0),
        CHECK (returned = (return_date IS NOT NULL))
    );`,
	`CREATE INDEX IF NOT EXISTS idx_loans_open ON loans(returned, due_date);`,
	`CREATE INDEX IF NOT EXISTS idx_loans_member ON loans(member_id);`,
	`CREATE INDEX IF NOT EXISTS idx_loans_book ON loans(book_id);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
        id BIGSERIAL PRIMARY KEY,
        title TEXT NOT NULL,
        author TEXT NOT NULL,
        isbn TEXT NOT NULL UNIQUE,
        quantity INTEGER NOT NULL CHECK (quantity >= 0),
        available_quantity INTEGER NOT NULL CHECK (available_quantity >= 0 AND available_quantity <= quantity),
        publisher TEXT NOT NULL,
        publication_year INTEGER NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS members (
        id BIGSERIAL PRIMARY KEY,
        name TEXT NOT NULL,
        email TEXT NOT NULL UNIQUE,
        password_hash TEXT NOT NULL,
        phone_number TEXT NOT NULL,
        address TEXT NOT NULL,
        role TEXT NOT NULL,
        membership_start_date DATE NOT NULL,
        membership_end_date DATE NOT NULL,
        active BOOLEAN NOT NULL DEFAULT TRUE,
        student_id TEXT NOT NULL DEFAULT '',
        course TEXT NOT NULL DEFAULT '',
        semester TEXT NOT NULL DEFAULT '',
        employee_id TEXT NOT NULL DEFAULT '',
        department TEXT NOT NULL DEFAULT '',
        designation TEXT NOT NULL DEFAULT '',
        max_allowed_books INTEGER NOT NULL,
        max_allowed_days INTEGER NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS loans (
        id BIGSERIAL PRIMARY KEY,
        book_id BIGINT NOT NULL,
        member_id BIGINT NOT NULL,
        borrow_date DATE NOT NULL,
        due_date DATE NOT NULL,
        return_date DATE,
        returned BOOLEAN NOT NULL DEFAULT FALSE,
        fine_amount NUMERIC(10,2) NOT NULL DEFAULT 0 CHECK (fine_amount >= 0),
        CHECK (returned = (return_date IS NOT NULL))
    );`,
	`CREATE INDEX IF NOT EXISTS idx_loans_open ON loans(returned, due_date);`,
	`CREATE INDEX IF NOT EXISTS idx_loans_member ON loans(member_id);`,
	`CREATE INDEX IF NOT EXISTS idx_loans_book ON loans(book_id);`,
}

func (d *Database) applyMigrations(ctx context.Context) error {
	if d.driver == DriverSQLite {
		// WAL lets readers proceed while a borrow holds the write lock.
		if _, err := d.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = d.db.QueryRowxContext(ctx, `SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := sqliteSchema
	if d.driver == DriverPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	upsert := tx.Rebind(`INSERT INTO meta(key,value) VALUES('schema_version',?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`)
	if _, err := tx.ExecContext(ctx, upsert, fmt.Sprint(schemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// inTx runs fn in a transaction, committing when fn returns nil. The whole
// transaction is retried when the driver reports lock contention.
func (d *Database) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return RetryWithExponentialBackoff(ctx, func(ctx context.Context) error {
		tx, err := d.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ---------------------------------------------------------------------------
// Query helpers
// ---------------------------------------------------------------------------

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func (d *Database) get(ctx context.Context, q sqlx.ExtContext, dest any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.GetContext(ctx, q, dest, query, args...)
}

func (d *Database) selectAll(ctx context.Context, q sqlx.ExtContext, dest any, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

// exec runs b and returns the number of affected rows.
func (d *Database) exec(ctx context.Context, q sqlx.ExtContext, b sqlBuilder) (int64, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// insert runs ds and returns the generated id. SQLite reports it through
// LastInsertId; pgx does not, so Postgres uses RETURNING.
func (d *Database) insert(ctx context.Context, q sqlx.ExtContext, ds *goqu.InsertDataset) (int64, error) {
	if d.driver == DriverPostgres {
		var id int64
		if err := d.get(ctx, q, &id, ds.Returning("id").Prepared(true)); err != nil {
			return 0, err
		}
		return id, nil
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *Database) count(ctx context.Context, q sqlx.ExtContext, table string, where ...exp.Expression) (int64, error) {
	var n int64
	ds := d.dialect.From(table).Select(goqu.COUNT("*")).Where(where...).Prepared(true)
	if err := d.get(ctx, q, &n, ds); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// notFound converts sql.ErrNoRows into ErrNotFound for the named record.
func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %v", ErrNotFound, what, id)
	}
	return err
}

// isUniqueViolation reports whether err comes from a UNIQUE constraint.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// containsFold builds a case-insensitive substring match on col.
func containsFold(col, s string) exp.Expression {
	return goqu.Func("LOWER", goqu.C(col)).Like("%" + strings.ToLower(s) + "%")
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

var bookColumns = []any{"id", "title", "author", "isbn", "quantity", "available_quantity", "publisher", "publication_year"}

func bookRecord(b *Book) goqu.Record {
	return goqu.Record{
		"title":              b.Title,
		"author":             b.Author,
		"isbn":               b.ISBN,
		"quantity":           b.Quantity,
		"available_quantity": b.AvailableQuantity,
		"publisher":          b.Publisher,
		"publication_year":   b.PublicationYear,
	}
}

func (d *Database) insertBook(ctx context.Context, q sqlx.ExtContext, b *Book) (int64, error) {
	return d.insert(ctx, q, d.dialect.Insert("books").Rows(bookRecord(b)))
}

func (d *Database) getBook(ctx context.Context, q sqlx.ExtContext, id int64) (*Book, error) {
	var b Book
	ds := d.dialect.From("books").Select(bookColumns...).Where(goqu.C("id").Eq(id)).Prepared(true)
	if err := d.get(ctx, q, &b, ds); err != nil {
		return nil, notFound(err, "book", id)
	}
	return &b, nil
}

func (d *Database) findBooks(ctx context.Context, q sqlx.ExtContext, where ...exp.Expression) ([]*Book, error) {
	books := []*Book{}
	ds := d.dialect.From("books").Select(bookColumns...).Where(where...).Order(goqu.C("id").Asc()).Prepared(true)
	if err := d.selectAll(ctx, q, &books, ds); err != nil {
		return nil, err
	}
	return books, nil
}

func (d *Database) updateBook(ctx context.Context, q sqlx.ExtContext, b *Book) error {
	n, err := d.exec(ctx, q, d.dialect.Update("books").Set(bookRecord(b)).Where(goqu.C("id").Eq(b.ID)).Prepared(true))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: book %d", ErrNotFound, b.ID)
	}
	return nil
}

func (d *Database) deleteBook(ctx context.Context, q sqlx.ExtContext, id int64) error {
	_, err := d.exec(ctx, q, d.dialect.Delete("books").Where(goqu.C("id").Eq(id)).Prepared(true))
	return err
}

// takeCopy decrements availability if a copy is left. The guard lives in the
// UPDATE itself so that it holds even without an outer lock.
func (d *Database) takeCopy(ctx context.Context, q sqlx.ExtContext, bookID int64) (bool, error) {
	n, err := d.exec(ctx, q, d.dialect.Update("books").
		Set(goqu.Record{"available_quantity": goqu.L("available_quantity - 1")}).
		Where(goqu.C("id").Eq(bookID), goqu.C("available_quantity").Gt(0)).
		Prepared(true))
	return n == 1, err
}

// putCopy increments availability, never past the total quantity.
func (d *Database) putCopy(ctx context.Context, q sqlx.ExtContext, bookID int64) (bool, error) {
	n, err := d.exec(ctx, q, d.dialect.Update("books").
		Set(goqu.Record{"available_quantity": goqu.L("available_quantity + 1")}).
		Where(goqu.C("id").Eq(bookID), goqu.C("available_quantity").Lt(goqu.I("quantity"))).
		Prepared(true))
	return n == 1, err
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

var memberColumns = []any{
	"id", "name", "email", "password_hash", "phone_number", "address", "role",
	"membership_start_date", "membership_end_date", "active",
	"student_id", "course", "semester", "employee_id", "department", "designation",
	"max_allowed_books", "max_allowed_days",
}

func memberRecord(m *Member) goqu.Record {
	return goqu.Record{
		"name":                  m.Name,
		"email":                 m.Email,
		"password_hash":         m.PasswordHash,
		"phone_number":          m.PhoneNumber,
		"address":               m.Address,
		"role":                  string(m.Role),
		"membership_start_date": DateOf(m.MembershipStartDate),
		"membership_end_date":   DateOf(m.MembershipEndDate),
		"active":                m.Active,
		"student_id":            m.StudentID,
		"course":                m.Course,
		"semester":              m.Semester,
		"employee_id":           m.EmployeeID,
		"department":            m.Department,
		"designation":           m.Designation,
		"max_allowed_books":     m.MaxAllowedBooks,
		"max_allowed_days":      m.MaxAllowedDays,
	}
}

func (d *Database) insertMember(ctx context.Context, q sqlx.ExtContext, m *Member) (int64, error) {
	return d.insert(ctx, q, d.dialect.Insert("members").Rows(memberRecord(m)))
}

func (d *Database) getMember(ctx context.Context, q sqlx.ExtContext, id int64) (*Member, error) {
	var m Member
	ds := d.dialect.From("members").Select(memberColumns...).Where(goqu.C("id").Eq(id)).Prepared(true)
	if err := d.get(ctx, q, &m, ds); err != nil {
		return nil, notFound(err, "member", id)
	}
	return &m, nil
}

func (d *Database) getMemberByEmail(ctx context.Context, q sqlx.ExtContext, email string) (*Member, error) {
	var m Member
	ds := d.dialect.From("members").Select(memberColumns...).Where(goqu.C("email").Eq(email)).Prepared(true)
	if err := d.get(ctx, q, &m, ds); err != nil {
		return nil, notFound(err, "member with email", email)
	}
	return &m, nil
}

func (d *Database) findMembers(ctx context.Context, q sqlx.ExtContext, where ...exp.Expression) ([]*Member, error) {
	members := []*Member{}
	ds := d.dialect.From("members").Select(memberColumns...).Where(where...).Order(goqu.C("id").Asc()).Prepared(true)
	if err := d.selectAll(ctx, q, &members, ds); err != nil {
		return nil, err
	}
	return members, nil
}

func (d *Database) updateMember(ctx context.Context, q sqlx.ExtContext, m *Member) error {
	n, err := d.exec(ctx, q, d.dialect.Update("members").Set(memberRecord(m)).Where(goqu.C("id").Eq(m.ID)).Prepared(true))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: member %d", ErrNotFound, m.ID)
	}
	return nil
}

func (d *Database) deleteMember(ctx context.Context, q sqlx.ExtContext, id int64) error {
	_, err := d.exec(ctx, q, d.dialect.Delete("members").Where(goqu.C("id").Eq(id)).Prepared(true))
	return err
}

func (d *Database) emailTaken(ctx context.Context, q sqlx.ExtContext, email string) (bool, error) {
	n, err := d.count(ctx, q, "members", goqu.C("email").Eq(email))
	return n > 0, err
}

// ---------------------------------------------------------------------------
// Loans
// ---------------------------------------------------------------------------

// loanSelect selects loans joined with the title and name they refer to.
func (d *Database) loanSelect() *goqu.SelectDataset {
	return d.dialect.From(goqu.T("loans").As("l")).
		LeftJoin(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		LeftJoin(goqu.T("members").As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("l.member_id")))).
		Select(
			goqu.I("l.id"), goqu.I("l.book_id"), goqu.I("l.member_id"),
			goqu.I("l.borrow_date"), goqu.I("l.due_date"), goqu.I("l.return_date"),
			goqu.I("l.returned"), goqu.I("l.fine_amount"),
			goqu.COALESCE(goqu.I("b.title"), "").As("book_title"),
			goqu.COALESCE(goqu.I("m.name"), "").As("member_name"),
		).
		Order(goqu.I("l.id").Asc())
}

func (d *Database) insertLoan(ctx context.Context, q sqlx.ExtContext, l *Loan) (int64, error) {
	return d.insert(ctx, q, d.dialect.Insert("loans").Rows(goqu.Record{
		"book_id":     l.BookID,
		"member_id":   l.MemberID,
		"borrow_date": DateOf(l.BorrowDate),
		"due_date":    DateOf(l.DueDate),
		"return_date": l.ReturnDate,
		"returned":    l.Returned,
		"fine_amount": l.FineAmount,
	}))
}

func (d *Database) getLoan(ctx context.Context, q sqlx.ExtContext, id int64) (*Loan, error) {
	var l Loan
	if err := d.get(ctx, q, &l, d.loanSelect().Where(goqu.I("l.id").Eq(id)).Prepared(true)); err != nil {
		return nil, notFound(err, "loan", id)
	}
	return &l, nil
}

func (d *Database) findLoans(ctx context.Context, q sqlx.ExtContext, where ...exp.Expression) ([]*Loan, error) {
	loans := []*Loan{}
	if err := d.selectAll(ctx, q, &loans, d.loanSelect().Where(where...).Prepared(true)); err != nil {
		return nil, err
	}
	return loans, nil
}

// closeLoan marks an open loan returned. It reports false if the loan was
// already closed, so two concurrent returns cannot both succeed.
func (d *Database) closeLoan(ctx context.Context, q sqlx.ExtContext, l *Loan) (bool, error) {
	n, err := d.exec(ctx, q, d.dialect.Update("loans").
		Set(goqu.Record{
			"returned":    true,
			"return_date": l.ReturnDate,
			"fine_amount": l.FineAmount,
		}).
		Where(goqu.C("id").Eq(l.ID), goqu.C("returned").IsFalse()).
		Prepared(true))
	return n == 1, err
}

func openLoan() exp.Expression { return goqu.I("l.returned").IsFalse() }

func (d *Database) countOpenLoans(ctx context.Context, q sqlx.ExtContext, col string, id int64) (int64, error) {
	return d.count(ctx, q, "loans", goqu.C(col).Eq(id), goqu.C("returned").IsFalse())
}
