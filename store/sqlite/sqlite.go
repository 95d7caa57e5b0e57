/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements enrollment.TxStore and enrollment.Catalog using SQLite.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  users:          students, instructors and admins (numberOfStudents lives here)
  classes:        class documents with the enrolledStudents counter
  student_classes one row per (student, class) with state selected|enrolled
  payments:       append-only receipt log keyed by transaction_id

SET DISJOINTNESS:
  selectedClasses and enrolledClasses are projections of student_classes.
  The primary key (email, class_id) makes it impossible for one class id to
  be in both sets at once: enrolling is an UPSERT of the state column.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the payments table
  - transaction_id is the primary key; a second insert is
    enrollment.ErrDuplicateTransaction
  - rowid follows insert order, so it is the commit order of receipts

CONCURRENCY:
  The pool is limited to one connection, which serialises writers the way
  SQLite does anyway and keeps ":memory:" databases on a single handle.
  WithTx additionally holds a mutex for the life of the transaction.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/enrollment.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  reconciler := enrollment.NewReconciler(store)

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/enrollment-engine/enrollment"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	*conn
	db *sql.DB
	mu sync.Mutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn carries every query. Store binds it to the pool, WithTx to a *sql.Tx.
type conn struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: &conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		email TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'student',
		number_of_students INTEGER NOT NULL DEFAULT 0 CHECK (number_of_students >= 0),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

	CREATE TABLE IF NOT EXISTS classes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		total_seats INTEGER NOT NULL DEFAULT 0,
		enrolled_students INTEGER NOT NULL DEFAULT 0 CHECK (enrolled_students >= 0),
		instructor_email TEXT NOT NULL DEFAULT '',
		instructor_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_classes_instructor ON classes(instructor_email);

	-- selectedClasses / enrolledClasses, one row per pair
	CREATE TABLE IF NOT EXISTS student_classes (
		email TEXT NOT NULL REFERENCES users(email) ON DELETE CASCADE,
		class_id TEXT NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('selected', 'enrolled')),
		updated_at TEXT NOT NULL,
		PRIMARY KEY (email, class_id)
	);

	-- Payments (append-only receipt log)
	CREATE TABLE IF NOT EXISTS payments (
		transaction_id TEXT PRIMARY KEY,
		student_email TEXT NOT NULL,
		student_name TEXT NOT NULL DEFAULT '',
		class_id TEXT NOT NULL,
		class_name TEXT NOT NULL DEFAULT '',
		instructor_email TEXT NOT NULL,
		instructor_name TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		enrolled_students_after INTEGER NOT NULL,
		number_of_students_after INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_student ON payments(student_email, created_at);
	CREATE INDEX IF NOT EXISTS idx_payments_class ON payments(class_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (enrollment.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store enrollment.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// USERS
// =============================================================================

func (c *conn) GetStudent(ctx context.Context, email string) (*enrollment.Student, error) {
	var st enrollment.Student
	var role string
	err := c.q.QueryRowContext(ctx,
		"SELECT email, name, role, number_of_students FROM users WHERE email = ?",
		email,
	).Scan(&st.Email, &st.Name, &role, &st.NumberOfStudents)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	st.Role = enrollment.Role(role)

	rows, err := c.q.QueryContext(ctx,
		"SELECT class_id, state FROM student_classes WHERE email = ? ORDER BY class_id",
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load class sets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var classID, state string
		if err := rows.Scan(&classID, &state); err != nil {
			return nil, err
		}
		switch enrollment.HoldState(state) {
		case enrollment.StateSelected:
			st.SelectedClasses = append(st.SelectedClasses, enrollment.ClassID(classID))
		case enrollment.StateEnrolled:
			st.EnrolledClasses = append(st.EnrolledClasses, enrollment.ClassID(classID))
		}
	}
	return &st, rows.Err()
}

func (c *conn) ListInstructors(ctx context.Context) ([]enrollment.Student, error) {
	rows, err := c.q.QueryContext(ctx,
		"SELECT email, name, role, number_of_students FROM users WHERE role = ? ORDER BY email",
		string(enrollment.RoleInstructor),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []enrollment.Student
	for rows.Next() {
		var st enrollment.Student
		var role string
		if err := rows.Scan(&st.Email, &st.Name, &role, &st.NumberOfStudents); err != nil {
			return nil, err
		}
		st.Role = enrollment.Role(role)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (c *conn) IncrementInstructorStudents(ctx context.Context, email string) (int, error) {
	var n int
	err := c.q.QueryRowContext(ctx,
		`UPDATE users SET number_of_students = number_of_students + 1
		 WHERE email = ? AND role = ? RETURNING number_of_students`,
		email, string(enrollment.RoleInstructor),
	).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, enrollment.InstructorNotFound(email)
	}
	return n, err
}

func (c *conn) SetInstructorStudents(ctx context.Context, email string, n int) error {
	res, err := c.q.ExecContext(ctx,
		"UPDATE users SET number_of_students = ? WHERE email = ? AND role = ?",
		n, email, string(enrollment.RoleInstructor),
	)
	return requireRow(res, err, enrollment.InstructorNotFound(email))
}

// SaveStudent upserts a user and replaces its class sets.
func (s *Store) SaveStudent(ctx context.Context, st enrollment.Student) error {
	return s.WithTx(ctx, func(es enrollment.Store) error {
		c := es.(*conn)
		now := time.Now().UTC().Format(time.RFC3339)
		role := st.Role
		if role == "" {
			role = enrollment.RoleStudent
		}
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO users (email, name, role, number_of_students, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(email) DO UPDATE SET
				name = excluded.name,
				role = excluded.role,
				number_of_students = excluded.number_of_students`,
			st.Email, st.Name, string(role), st.NumberOfStudents, now,
		)
		if err != nil {
			return err
		}
		if _, err := c.q.ExecContext(ctx, "DELETE FROM student_classes WHERE email = ?", st.Email); err != nil {
			return err
		}
		for _, id := range st.SelectedClasses {
			if err := c.setState(ctx, st.Email, id, enrollment.StateSelected); err != nil {
				return err
			}
		}
		// Enrolled wins when the caller sent overlapping sets.
		for _, id := range st.EnrolledClasses {
			if err := c.setState(ctx, st.Email, id, enrollment.StateEnrolled); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// CLASS SETS
// =============================================================================

func (c *conn) AddSelection(ctx context.Context, email string, classID enrollment.ClassID) error {
	_, err := c.q.ExecContext(ctx,
		"INSERT INTO student_classes (email, class_id, state, updated_at) VALUES (?, ?, ?, ?)",
		email, string(classID), string(enrollment.StateSelected), time.Now().UTC().Format(time.RFC3339),
	)
	switch {
	case isConstraint(err, sqlite3.ErrConstraintPrimaryKey):
		var state string
		if qerr := c.q.QueryRowContext(ctx,
			"SELECT state FROM student_classes WHERE email = ? AND class_id = ?",
			email, string(classID),
		).Scan(&state); qerr != nil {
			return qerr
		}
		return enrollment.AlreadyHeld(email, classID, enrollment.HoldState(state))
	case isConstraint(err, sqlite3.ErrConstraintForeignKey):
		return enrollment.StudentNotFound(email)
	case err != nil:
		return fmt.Errorf("failed to add selection: %w", err)
	}
	return nil
}

func (c *conn) RemoveSelection(ctx context.Context, email string, classID enrollment.ClassID) error {
	_, err := c.q.ExecContext(ctx,
		"DELETE FROM student_classes WHERE email = ? AND class_id = ? AND state = ?",
		email, string(classID), string(enrollment.StateSelected),
	)
	return err
}

func (c *conn) MarkEnrolled(ctx context.Context, email string, classID enrollment.ClassID) error {
	err := c.setState(ctx, email, classID, enrollment.StateEnrolled)
	if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
		return enrollment.StudentNotFound(email)
	}
	return err
}

func (c *conn) setState(ctx context.Context, email string, classID enrollment.ClassID, state enrollment.HoldState) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO student_classes (email, class_id, state, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(email, class_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		email, string(classID), string(state), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// =============================================================================
// CLASSES
// =============================================================================

const classColumns = `id, name, price, total_seats, enrolled_students, instructor_email, instructor_name, status`

func (c *conn) GetClass(ctx context.Context, id enrollment.ClassID) (*enrollment.Class, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+classColumns+" FROM classes WHERE id = ?", string(id))
	class, err := scanClass(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get class: %w", err)
	}
	return &class, nil
}

func (c *conn) ListClasses(ctx context.Context) ([]enrollment.Class, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT "+classColumns+" FROM classes ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []enrollment.Class
	for rows.Next() {
		class, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, class)
	}
	return out, rows.Err()
}

func (c *conn) IncrementClassEnrollment(ctx context.Context, id enrollment.ClassID) (int, error) {
	var n int
	err := c.q.QueryRowContext(ctx,
		"UPDATE classes SET enrolled_students = enrolled_students + 1 WHERE id = ? RETURNING enrolled_students",
		string(id),
	).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, enrollment.ClassNotFound(id)
	}
	return n, err
}

func (c *conn) SetClassEnrollment(ctx context.Context, id enrollment.ClassID, n int) error {
	res, err := c.q.ExecContext(ctx, "UPDATE classes SET enrolled_students = ? WHERE id = ?", n, string(id))
	return requireRow(res, err, enrollment.ClassNotFound(id))
}

// SaveClass upserts a class document.
func (s *Store) SaveClass(ctx context.Context, class enrollment.Class) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classes (`+classColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			total_seats = excluded.total_seats,
			enrolled_students = excluded.enrolled_students,
			instructor_email = excluded.instructor_email,
			instructor_name = excluded.instructor_name,
			status = excluded.status`,
		string(class.ID), class.Name, class.Price.String(), class.TotalSeats, class.EnrolledStudents,
		class.InstructorEmail, class.InstructorName, statusOr(class.Status),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClass(row scanner) (enrollment.Class, error) {
	var (
		class enrollment.Class
		id    string
		price string
	)
	err := row.Scan(&id, &class.Name, &price, &class.TotalSeats, &class.EnrolledStudents,
		&class.InstructorEmail, &class.InstructorName, &class.Status)
	if err != nil {
		return class, err
	}
	class.ID = enrollment.ClassID(id)
	class.Price, err = decimal.NewFromString(price)
	return class, err
}

// =============================================================================
// PAYMENTS (append-only)
// =============================================================================

const paymentColumns = `transaction_id, student_email, student_name, class_id, class_name,
	instructor_email, instructor_name, price, paid_at, enrolled_students_after, number_of_students_after`

func (c *conn) InsertReceipt(ctx context.Context, r enrollment.Receipt) error {
	p := r.Payment
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.TransactionID), p.StudentEmail, p.StudentName, string(p.ClassID), p.ClassName,
		p.InstructorEmail, p.InstructorName, p.Price.String(), p.Date.UTC().Format(time.RFC3339Nano),
		r.Counters.EnrolledStudents, r.Counters.NumberOfStudents,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
		return enrollment.ErrDuplicateTransaction
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (c *conn) GetReceipt(ctx context.Context, txID enrollment.TransactionID) (*enrollment.Receipt, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE transaction_id = ?", string(txID))
	r, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &r, nil
}

func (c *conn) ReceiptsByStudent(ctx context.Context, email string) ([]enrollment.Receipt, error) {
	return c.queryReceipts(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE student_email = ? ORDER BY rowid ASC",
		email,
	)
}

func (c *conn) ListReceipts(ctx context.Context) ([]enrollment.Receipt, error) {
	return c.queryReceipts(ctx, "SELECT "+paymentColumns+" FROM payments ORDER BY rowid ASC")
}

func (c *conn) queryReceipts(ctx context.Context, query string, args ...any) ([]enrollment.Receipt, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []enrollment.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReceipt(row scanner) (enrollment.Receipt, error) {
	var (
		r                      enrollment.Receipt
		txID, classID          string
		price, paidAt          string
		enrolledAfter, taughtN int
	)
	p := &r.Payment
	err := row.Scan(&txID, &p.StudentEmail, &p.StudentName, &classID, &p.ClassName,
		&p.InstructorEmail, &p.InstructorName, &price, &paidAt, &enrolledAfter, &taughtN)
	if err != nil {
		return r, err
	}
	p.TransactionID = enrollment.TransactionID(txID)
	p.ClassID = enrollment.ClassID(classID)
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return r, fmt.Errorf("bad price on payment %s: %w", txID, err)
	}
	if p.Date, err = time.Parse(time.RFC3339Nano, paidAt); err != nil {
		return r, fmt.Errorf("bad date on payment %s: %w", txID, err)
	}
	r.Counters = enrollment.Counters{
		ClassID:          p.ClassID,
		EnrolledStudents: enrolledAfter,
		InstructorEmail:  p.InstructorEmail,
		NumberOfStudents: taughtN,
	}
	return r, nil
}

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"payments", "student_classes", "classes", "users"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == code
}

func requireRow(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func statusOr(s string) string {
	if s == "" {
		return "pending"
	}
	return s
}
