/*
store.go - Persistence contracts for the enrollment engine

PURPOSE:
  The document store is the single source of truth. No in-process cache
  exists; every operation reads what it needs and writes through the store,
  so several service instances can run against the same database.

KEY INTERFACES:
  Store:   reads, set mutations, counter increments, receipt insert
  TxStore: Store + WithTx for the all-or-nothing reconcile commit
  Catalog: student/class upserts for the CRUD layer and demo seeding

RECEIPTS ARE APPEND-ONLY:
  InsertReceipt is the only write to the payment log. There is no update or
  delete. The transaction id is a unique key; a second insert with the same
  id returns ErrDuplicateTransaction.

LOOKUP CONVENTION:
  Get* methods return (nil, nil) when the record does not exist.

IMPLEMENTATIONS:
  - enrollment/store/memory.go: in-memory, for tests
  - store/sqlite/sqlite.go:     database/sql + go-sqlite3
  - store/mongo/mongo.go:       MongoDB sessions with transactions
*/
package enrollment

import "context"

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	GetStudent(ctx context.Context, email string) (*Student, error)
	GetClass(ctx context.Context, id ClassID) (*Class, error)
	GetReceipt(ctx context.Context, txID TransactionID) (*Receipt, error)
	ReceiptsByStudent(ctx context.Context, email string) ([]Receipt, error)

	// AddSelection adds classID to selectedClasses. It returns a HoldError
	// (ErrAlreadyHeld) when the class is selected or enrolled already.
	AddSelection(ctx context.Context, email string, classID ClassID) error

	// RemoveSelection is a no-op when the class is not selected.
	RemoveSelection(ctx context.Context, email string, classID ClassID) error

	// MarkEnrolled removes classID from selectedClasses and adds it to
	// enrolledClasses in one document write.
	MarkEnrolled(ctx context.Context, email string, classID ClassID) error

	// IncrementClassEnrollment returns the new enrolledStudents value.
	IncrementClassEnrollment(ctx context.Context, id ClassID) (int, error)

	// IncrementInstructorStudents returns the new numberOfStudents value.
	IncrementInstructorStudents(ctx context.Context, email string) (int, error)

	InsertReceipt(ctx context.Context, r Receipt) error

	// Sweep support.
	ListClasses(ctx context.Context) ([]Class, error)
	ListInstructors(ctx context.Context) ([]Student, error)
	ListReceipts(ctx context.Context) ([]Receipt, error)
	SetClassEnrollment(ctx context.Context, id ClassID, n int) error
	SetInstructorStudents(ctx context.Context, email string, n int) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is
	// rolled back. If fn returns nil, the writes are committed together.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// CATALOG - Upserts owned by the CRUD layer
// =============================================================================

// Catalog creates or replaces user and class documents. Counters and class
// sets written here are taken as given; the sweep repairs any drift.
type Catalog interface {
	SaveStudent(ctx context.Context, s Student) error
	SaveClass(ctx context.Context, c Class) error
}
