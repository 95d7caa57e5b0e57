/*
Package enrollment provides the class-selection → payment → enrollment engine.

PURPOSE:
  A student tentatively holds ("selects") a class, pays for it out of band,
  and the payment is then reconciled into an enrollment. This package owns
  the state per (student, class) pair and the two derived counters that must
  agree with the payment log.

KEY CONCEPTS IN THIS FILE (types.go):
  - Student:  selected and enrolled class sets (disjoint)
  - Class:    price, seats and the enrolledStudents counter
  - Payment:  immutable record keyed by the gateway transaction id
  - Receipt:  a Payment plus the counter values its commit produced

STATE MACHINE:
  Per (student, class):  NONE → SELECTED → ENROLLED (terminal)

  A class id is never in both sets. Reconciliation moves it from
  selectedClasses to enrolledClasses; it also accepts NONE → ENROLLED when
  the student paid without selecting first.

PRECISION:
  Prices use decimal.Decimal. Conversion to gateway minor units happens in
  checkout.go only.

SEE ALSO:
  - selection.go:  SelectionLedger (select / deselect / list)
  - reconciler.go: EnrollmentReconciler (the atomic commit)
  - sweep.go:      counter re-derivation from the payment log
  - store.go:      persistence contracts
*/
package enrollment

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClassID string
type TransactionID string

// Role of a user record. Instructors are students with RoleInstructor.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// HoldState is the position of a class in a student's lifecycle.
type HoldState string

const (
	StateNone     HoldState = "none"
	StateSelected HoldState = "selected"
	StateEnrolled HoldState = "enrolled"
)

// =============================================================================
// STUDENT
// =============================================================================

// Student is a user record. SelectedClasses and EnrolledClasses are sets
// kept sorted; a class id never appears in both.
// NumberOfStudents is only meaningful when Role is RoleInstructor.
type Student struct {
	Email            string
	Name             string
	Role             Role
	SelectedClasses  []ClassID
	EnrolledClasses  []ClassID
	NumberOfStudents int
}

// State reports where classID sits for this student.
func (s *Student) State(classID ClassID) HoldState {
	if containsClass(s.EnrolledClasses, classID) {
		return StateEnrolled
	}
	if containsClass(s.SelectedClasses, classID) {
		return StateSelected
	}
	return StateNone
}

func (s *Student) IsEnrolled(classID ClassID) bool {
	return containsClass(s.EnrolledClasses, classID)
}

func (s *Student) IsInstructor() bool { return s.Role == RoleInstructor }

// =============================================================================
// CLASS
// =============================================================================

type Class struct {
	ID               ClassID
	Name             string
	Price            decimal.Decimal
	TotalSeats       int
	EnrolledStudents int
	InstructorEmail  string
	InstructorName   string
	Status           string
}

// AvailableSeats never goes below zero.
func (c *Class) AvailableSeats() int {
	if n := c.TotalSeats - c.EnrolledStudents; n > 0 {
		return n
	}
	return 0
}

// =============================================================================
// PAYMENT & RECEIPT
// =============================================================================

// Payment is written once by the reconciler and never updated.
type Payment struct {
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

// Counters are the post-commit values of the two derived counters.
type Counters struct {
	ClassID          ClassID
	EnrolledStudents int
	InstructorEmail  string
	NumberOfStudents int
}

// Receipt is what the store persists for a committed reconcile.
type Receipt struct {
	Payment  Payment
	Counters Counters
}

// =============================================================================
// SET HELPERS
// =============================================================================

func containsClass(set []ClassID, id ClassID) bool {
	for _, c := range set {
		if c == id {
			return true
		}
	}
	return false
}

// AddClass returns set ∪ {id}, sorted.
func AddClass(set []ClassID, id ClassID) []ClassID {
	if containsClass(set, id) {
		return set
	}
	out := append(append([]ClassID{}, set...), id)
	SortClasses(out)
	return out
}

// RemoveClass returns set \ {id}.
func RemoveClass(set []ClassID, id ClassID) []ClassID {
	out := make([]ClassID, 0, len(set))
	for _, c := range set {
		if c != id {
			out = append(out, c)
		}
	}
	return out
}

func SortClasses(set []ClassID) {
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
}
