/*
errors.go - Error taxonomy for the enrollment engine

ERROR CATEGORIES:
  1. Conflicts     - AlreadyHeld, AlreadyEnrolled (no state change)
  2. Not found     - student, class or instructor missing
  3. Validation    - bad price, instructor mismatch
  4. Gateway       - payment-intent creation failed
  5. Idempotency   - DuplicateTransaction (internal only, never surfaced)

Anything not listed here is an unexpected store failure and is a 500 at the
HTTP boundary.

SEE ALSO:
  - api/handlers.go: statusFor maps these to HTTP codes
*/
package enrollment

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAlreadyHeld is returned by Select when the class is already selected
	// or already enrolled for the student.
	ErrAlreadyHeld = errors.New("class already held")

	// ErrAlreadyEnrolled is returned by Reconcile when the student is already
	// enrolled in the class under a different transaction id.
	ErrAlreadyEnrolled = errors.New("already enrolled")

	// ErrDuplicateTransaction is returned by stores when a receipt with the
	// same transaction id exists. The reconciler turns it into a replay.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")

	ErrStudentNotFound    = errors.New("student not found")
	ErrClassNotFound      = errors.New("class not found")
	ErrInstructorNotFound = errors.New("instructor not found")

	// ErrInstructorMismatch is returned when the payment names an instructor
	// other than the one teaching the class.
	ErrInstructorMismatch = errors.New("instructor does not teach class")

	ErrInvalidPrice   = errors.New("invalid price")
	ErrInvalidRequest = errors.New("invalid request")

	// ErrGateway is the root of every payment-intent failure.
	ErrGateway = errors.New("payment gateway error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// HoldError explains an AlreadyHeld or AlreadyEnrolled conflict.
type HoldError struct {
	StudentEmail string
	ClassID      ClassID
	State        HoldState
	err          error
}

func (e *HoldError) Error() string {
	return fmt.Sprintf("%v: %s is %s for %s", e.err, e.ClassID, e.State, e.StudentEmail)
}

func (e *HoldError) Unwrap() error { return e.err }

func AlreadyHeld(email string, classID ClassID, state HoldState) error {
	return &HoldError{StudentEmail: email, ClassID: classID, State: state, err: ErrAlreadyHeld}
}

func AlreadyEnrolled(email string, classID ClassID) error {
	return &HoldError{StudentEmail: email, ClassID: classID, State: StateEnrolled, err: ErrAlreadyEnrolled}
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "student", "class", "instructor"
	Key  string
	err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return e.err }

func StudentNotFound(email string) error {
	return &NotFoundError{Kind: "student", Key: email, err: ErrStudentNotFound}
}

func ClassNotFound(id ClassID) error {
	return &NotFoundError{Kind: "class", Key: string(id), err: ErrClassNotFound}
}

func InstructorNotFound(email string) error {
	return &NotFoundError{Kind: "instructor", Key: email, err: ErrInstructorNotFound}
}

// GatewayError wraps the cause of a failed payment-intent call.
type GatewayError struct {
	Cause error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway: %v", e.Cause)
}

func (e *GatewayError) Unwrap() []error { return []error{ErrGateway, e.Cause} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict returns true for state conflicts the caller can act on.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyHeld) || errors.Is(err, ErrAlreadyEnrolled)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrClassNotFound) ||
		errors.Is(err, ErrInstructorNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInstructorMismatch)
}
