/*
selection.go - Per-student ledger of tentatively held classes

CONTRACT:
  Select:       NONE → SELECTED. AlreadyHeld if selected or enrolled.
  Deselect:     SELECTED → NONE. Absent is not an error.
  ListSelected: selectedClasses, empty when the field is absent.
  ListEnrolled: enrolledClasses, empty when the field is absent.

  Select runs inside a store transaction so that a concurrent reconcile for
  the same pair cannot interleave between the state check and the write.
*/
package enrollment

import (
	"context"
	"fmt"
)

type SelectionLedger struct {
	store TxStore
}

func NewSelectionLedger(store TxStore) *SelectionLedger {
	return &SelectionLedger{store: store}
}

// Select adds classID to the student's selected set.
func (l *SelectionLedger) Select(ctx context.Context, email string, classID ClassID) error {
	if email == "" || classID == "" {
		return fmt.Errorf("%w: student email and class id are required", ErrInvalidRequest)
	}
	return l.store.WithTx(ctx, func(s Store) error {
		student, err := s.GetStudent(ctx, email)
		if err != nil {
			return err
		}
		if student == nil {
			return StudentNotFound(email)
		}
		if state := student.State(classID); state != StateNone {
			return AlreadyHeld(email, classID, state)
		}

		class, err := s.GetClass(ctx, classID)
		if err != nil {
			return err
		}
		if class == nil {
			return ClassNotFound(classID)
		}
		return s.AddSelection(ctx, email, classID)
	})
}

// Deselect releases a hold. Releasing an enrolled class is not possible
// through this path and is silently ignored.
func (l *SelectionLedger) Deselect(ctx context.Context, email string, classID ClassID) error {
	if email == "" || classID == "" {
		return fmt.Errorf("%w: student email and class id are required", ErrInvalidRequest)
	}
	return l.store.RemoveSelection(ctx, email, classID)
}

func (l *SelectionLedger) ListSelected(ctx context.Context, email string) ([]ClassID, error) {
	student, err := l.load(ctx, email)
	if err != nil {
		return nil, err
	}
	return nonNil(student.SelectedClasses), nil
}

func (l *SelectionLedger) ListEnrolled(ctx context.Context, email string) ([]ClassID, error) {
	student, err := l.load(ctx, email)
	if err != nil {
		return nil, err
	}
	return nonNil(student.EnrolledClasses), nil
}

func (l *SelectionLedger) load(ctx context.Context, email string) (*Student, error) {
	student, err := l.store.GetStudent(ctx, email)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, StudentNotFound(email)
	}
	return student, nil
}

func nonNil(set []ClassID) []ClassID {
	if set == nil {
		return []ClassID{}
	}
	return set
}
