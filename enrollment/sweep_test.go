package enrollment_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/enrollment-engine/enrollment"
)

func TestSweep_ConsistentStore_NoChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reconciler.Reconcile(ctx, f.request("tx1"))
	require.NoError(t, err)

	report, err := f.reconciler.Sweep(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, report.Payments)
	assert.False(t, report.Repaired())
}

func TestSweep_RepairsDrift(t *testing.T) {
	// GIVEN: a committed payment, then the documents were overwritten
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reconciler.Reconcile(ctx, f.request("tx1"))
	require.NoError(t, err)

	require.NoError(t, f.store.SetClassEnrollment(ctx, classID, 7))
	require.NoError(t, f.store.SetInstructorStudents(ctx, instructorEmail, 0))
	require.NoError(t, f.store.SaveStudent(ctx, enrollment.Student{
		Email: studentEmail, Name: "Ada", Role: enrollment.RoleStudent,
		SelectedClasses: []enrollment.ClassID{classID},
	}))
	require.NoError(t, f.store.SaveClass(ctx, enrollment.Class{
		ID: "empty", Name: "Nobody paid", Price: decimal.NewFromInt(5),
		EnrolledStudents: 3, InstructorEmail: instructorEmail,
	}))

	// WHEN: the sweep runs
	report, err := f.reconciler.Sweep(ctx)
	require.NoError(t, err)

	// THEN: counters match the payment log and the limbo class is enrolled
	assert.Equal(t, 1, report.EnrollmentsRepaired)
	assert.Equal(t, 2, report.ClassesRepaired)
	assert.Equal(t, 1, report.InstructorsRepaired)

	st := f.student(t, studentEmail)
	assert.Empty(t, st.SelectedClasses)
	assert.Equal(t, []enrollment.ClassID{classID}, st.EnrolledClasses)
	assert.Equal(t, 1, f.class(t, classID).EnrolledStudents)
	assert.Equal(t, 0, f.class(t, "empty").EnrolledStudents)
	assert.Equal(t, 1, f.student(t, instructorEmail).NumberOfStudents)

	// Re-running is a no-op
	again, err := f.reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.False(t, again.Repaired())
	assert.NotEqual(t, report.RunID, again.RunID)
}

func TestSweep_ReceiptForMissingStudentIsCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.InsertReceipt(ctx, enrollment.Receipt{
		Payment: enrollment.Payment{
			TransactionID: "imported", StudentEmail: "gone@dojo.test",
			ClassID: classID, InstructorEmail: instructorEmail, Price: decimal.NewFromInt(50),
		},
	}))

	report, err := f.reconciler.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, report.EnrollmentsRepaired)
	assert.Equal(t, 1, f.class(t, classID).EnrolledStudents)
	assert.Equal(t, 1, f.student(t, instructorEmail).NumberOfStudents)
}
