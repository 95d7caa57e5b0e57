/*
reconciler.go - Converts a completed payment into an enrollment

PURPOSE:
  Reconcile is the only writer of payment receipts and of the two counters
  (Class.enrolledStudents, Instructor.numberOfStudents). A single call moves
  the class from selected to enrolled, bumps both counters and appends the
  receipt, all inside one store transaction.

ALGORITHM:
  1. Idempotency: a receipt for the transaction id already exists
     → return it unchanged (Replayed = true).
  2. State: class already in enrolledClasses → ErrAlreadyEnrolled.
  3. Commit (all-or-nothing, in this order):
       student sets → class counter → instructor counter → receipt insert
     Any missing record aborts the transaction with nothing persisted.
  4. Return the receipt.

  Steps 1 and 2 are repeated inside the transaction. The pre-transaction
  read of step 1 only short-circuits the common retry.

RACES:
  Two different transaction ids for the same (student, class): the store
  transaction serialises them and the second sees ENROLLED in step 2.
  The same transaction id twice concurrently: the loser either sees the
  receipt in step 1 or hits ErrDuplicateTransaction on insert; both become
  a replay of the winner's receipt.
*/
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// Notifier receives committed enrollments. Failures are logged only.
type Notifier interface {
	EnrollmentCommitted(ctx context.Context, r Receipt) error
}

// ReconcileRequest carries the gateway transaction id and the payload the
// client submits after checkout.
type ReconcileRequest struct {
	TransactionID   TransactionID
	StudentEmail    string
	StudentName     string
	ClassID         ClassID
	ClassName       string
	InstructorEmail string
	InstructorName  string
	Price           decimal.Decimal
	Date            time.Time
}

// Enrollment is the result of Reconcile.
type Enrollment struct {
	Receipt
	// Replayed is true when the transaction id had already been committed
	// and the stored receipt was returned.
	Replayed bool
}

type Reconciler struct {
	store    TxStore
	notifier Notifier
	now      func() time.Time
}

func NewReconciler(store TxStore) *Reconciler {
	return &Reconciler{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithNotifier sets the post-commit notifier.
func (r *Reconciler) WithNotifier(n Notifier) *Reconciler {
	r.notifier = n
	return r
}

// Reconcile commits req. See the file header for the algorithm.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (Enrollment, error) {
	if err := validate(req); err != nil {
		return Enrollment{}, err
	}

	if existing, err := r.store.GetReceipt(ctx, req.TransactionID); err != nil {
		return Enrollment{}, err
	} else if existing != nil {
		return Enrollment{Receipt: *existing, Replayed: true}, nil
	}

	var (
		result   Receipt
		replayed bool
	)
	err := r.store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetReceipt(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		if existing != nil {
			result, replayed = *existing, true
			return nil
		}
		result, err = r.commit(ctx, s, req)
		return err
	})

	if errors.Is(err, ErrDuplicateTransaction) {
		// Lost an insert race on the same id; the winner's receipt stands.
		existing, lerr := r.store.GetReceipt(ctx, req.TransactionID)
		if lerr != nil {
			return Enrollment{}, lerr
		}
		if existing == nil {
			return Enrollment{}, err
		}
		return Enrollment{Receipt: *existing, Replayed: true}, nil
	}
	if err != nil {
		return Enrollment{}, err
	}

	if !replayed {
		r.notify(ctx, result)
	}
	return Enrollment{Receipt: result, Replayed: replayed}, nil
}

func (r *Reconciler) commit(ctx context.Context, s Store, req ReconcileRequest) (Receipt, error) {
	student, err := s.GetStudent(ctx, req.StudentEmail)
	if err != nil {
		return Receipt{}, err
	}
	if student == nil {
		return Receipt{}, StudentNotFound(req.StudentEmail)
	}
	if student.IsEnrolled(req.ClassID) {
		return Receipt{}, AlreadyEnrolled(req.StudentEmail, req.ClassID)
	}

	class, err := s.GetClass(ctx, req.ClassID)
	if err != nil {
		return Receipt{}, err
	}
	if class == nil {
		return Receipt{}, ClassNotFound(req.ClassID)
	}

	instructorEmail := req.InstructorEmail
	if instructorEmail == "" {
		instructorEmail = class.InstructorEmail
	}
	if class.InstructorEmail != "" && instructorEmail != class.InstructorEmail {
		return Receipt{}, fmt.Errorf("%w: %s does not teach %s", ErrInstructorMismatch, instructorEmail, class.ID)
	}
	instructor, err := s.GetStudent(ctx, instructorEmail)
	if err != nil {
		return Receipt{}, err
	}
	if instructor == nil || !instructor.IsInstructor() {
		return Receipt{}, InstructorNotFound(instructorEmail)
	}

	if err := s.MarkEnrolled(ctx, req.StudentEmail, req.ClassID); err != nil {
		return Receipt{}, err
	}
	enrolled, err := s.IncrementClassEnrollment(ctx, req.ClassID)
	if err != nil {
		return Receipt{}, err
	}
	students, err := s.IncrementInstructorStudents(ctx, instructorEmail)
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		Payment: Payment{
			TransactionID:   req.TransactionID,
			StudentEmail:    req.StudentEmail,
			StudentName:     firstNonEmpty(req.StudentName, student.Name),
			ClassID:         req.ClassID,
			ClassName:       firstNonEmpty(req.ClassName, class.Name),
			InstructorEmail: instructorEmail,
			InstructorName:  firstNonEmpty(req.InstructorName, instructor.Name),
			Price:           req.Price,
			Date:            req.Date,
		},
		Counters: Counters{
			ClassID:          req.ClassID,
			EnrolledStudents: enrolled,
			InstructorEmail:  instructorEmail,
			NumberOfStudents: students,
		},
	}
	if receipt.Payment.Date.IsZero() {
		receipt.Payment.Date = r.now()
	}
	// Stores keep UTC at millisecond precision; a replay must read back
	// exactly what the first call returned.
	receipt.Payment.Date = receipt.Payment.Date.UTC().Truncate(time.Millisecond)
	if err := s.InsertReceipt(ctx, receipt); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

// PrecheckEnrollment reports whether the student is already enrolled, read
// from the same enrolledClasses set that Reconcile checks. A false answer
// is advisory: Reconcile remains authoritative.
func (r *Reconciler) PrecheckEnrollment(ctx context.Context, email string, classID ClassID) (bool, error) {
	student, err := r.store.GetStudent(ctx, email)
	if err != nil {
		return false, err
	}
	if student == nil {
		return false, StudentNotFound(email)
	}
	return student.IsEnrolled(classID), nil
}

// History returns the student's receipts, oldest first.
func (r *Reconciler) History(ctx context.Context, email string) ([]Receipt, error) {
	receipts, err := r.store.ReceiptsByStudent(ctx, email)
	if err != nil {
		return nil, err
	}
	if receipts == nil {
		receipts = []Receipt{}
	}
	return receipts, nil
}

func (r *Reconciler) notify(ctx context.Context, receipt Receipt) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.EnrollmentCommitted(ctx, receipt); err != nil {
		log.Printf("[Reconciler] notify %s failed: %v", receipt.Payment.TransactionID, err)
	}
}

func validate(req ReconcileRequest) error {
	switch {
	case req.TransactionID == "":
		return fmt.Errorf("%w: transaction id is required", ErrInvalidRequest)
	case req.StudentEmail == "":
		return fmt.Errorf("%w: student email is required", ErrInvalidRequest)
	case req.ClassID == "":
		return fmt.Errorf("%w: class id is required", ErrInvalidRequest)
	case req.Price.IsNegative():
		return fmt.Errorf("%w: %s", ErrInvalidPrice, req.Price)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
