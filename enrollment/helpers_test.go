package enrollment_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/enrollment-engine/enrollment"
	"github.com/warp/enrollment-engine/enrollment/store"
)

// =============================================================================
// FIXTURE
// =============================================================================

const (
	studentEmail    = "ada@dojo.test"
	instructorEmail = "lee@dojo.test"
	classID         = enrollment.ClassID("wing-chun-101")
)

type fixture struct {
	store      *store.Memory
	ledger     *enrollment.SelectionLedger
	reconciler *enrollment.Reconciler
}

// newFixture seeds one student, one instructor and one class taught by
// that instructor.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.SaveStudent(ctx, enrollment.Student{
		Email: studentEmail, Name: "Ada", Role: enrollment.RoleStudent,
	}))
	require.NoError(t, mem.SaveStudent(ctx, enrollment.Student{
		Email: instructorEmail, Name: "Lee", Role: enrollment.RoleInstructor,
	}))
	require.NoError(t, mem.SaveClass(ctx, enrollment.Class{
		ID:              classID,
		Name:            "Wing Chun 101",
		Price:           decimal.RequireFromString("49.99"),
		TotalSeats:      20,
		InstructorEmail: instructorEmail,
		InstructorName:  "Lee",
		Status:          "approved",
	}))

	return &fixture{
		store:      mem,
		ledger:     enrollment.NewSelectionLedger(mem),
		reconciler: enrollment.NewReconciler(mem),
	}
}

func (f *fixture) request(txID enrollment.TransactionID) enrollment.ReconcileRequest {
	return enrollment.ReconcileRequest{
		TransactionID:   txID,
		StudentEmail:    studentEmail,
		StudentName:     "Ada",
		ClassID:         classID,
		ClassName:       "Wing Chun 101",
		InstructorEmail: instructorEmail,
		InstructorName:  "Lee",
		Price:           decimal.RequireFromString("49.99"),
	}
}

func (f *fixture) student(t *testing.T, email string) *enrollment.Student {
	t.Helper()
	st, err := f.store.GetStudent(context.Background(), email)
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func (f *fixture) class(t *testing.T, id enrollment.ClassID) *enrollment.Class {
	t.Helper()
	c, err := f.store.GetClass(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}
