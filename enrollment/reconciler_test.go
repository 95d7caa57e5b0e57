package enrollment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/enrollment-engine/enrollment"
	"github.com/warp/enrollment-engine/enrollment/store"
)

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestReconcile_SelectedClass_Enrolls(t *testing.T) {
	// GIVEN: Ada selected Wing Chun 101
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Select(ctx, studentEmail, classID))

	// WHEN: the payment for tx1 is reconciled
	got, err := f.reconciler.Reconcile(ctx, f.request("tx1"))
	require.NoError(t, err)

	// THEN: the class moved sets and both counters went up by one
	assert.False(t, got.Replayed)
	assert.Equal(t, enrollment.Counters{
		ClassID: classID, EnrolledStudents: 1,
		InstructorEmail: instructorEmail, NumberOfStudents: 1,
	}, got.Counters)

	st := f.student(t, studentEmail)
	assert.Empty(t, st.SelectedClasses)
	assert.Equal(t, []enrollment.ClassID{classID}, st.EnrolledClasses)
	assert.Equal(t, 1, f.class(t, classID).EnrolledStudents)
	assert.Equal(t, 1, f.student(t, instructorEmail).NumberOfStudents)

	history, err := f.reconciler.History(ctx, studentEmail)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, enrollment.TransactionID("tx1"), history[0].Payment.TransactionID)
	assert.True(t, history[0].Payment.Price.Equal(decimal.RequireFromString("49.99")))
	assert.False(t, history[0].Payment.Date.IsZero())
}

func TestReconcile_WithoutSelection_Enrolls(t *testing.T) {
	f := newFixture(t)

	_, err := f.reconciler.Reconcile(context.Background(), f.request("tx1"))
	require.NoError(t, err)

	assert.Equal(t, []enrollment.ClassID{classID}, f.student(t, studentEmail).EnrolledClasses)
}

func TestReconcile_DefaultsFromRecords(t *testing.T) {
	// Only the required fields; names and instructor come from the store
	f := newFixture(t)
	date := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

	got, err := f.reconciler.Reconcile(context.Background(), enrollment.ReconcileRequest{
		TransactionID: "tx1",
		StudentEmail:  studentEmail,
		ClassID:       classID,
		Price:         decimal.NewFromInt(50),
		Date:          date,
	})
	require.NoError(t, err)

	assert.Equal(t, instructorEmail, got.Payment.InstructorEmail)
	assert.Equal(t, "Lee", got.Payment.InstructorName)
	assert.Equal(t, "Ada", got.Payment.StudentName)
	assert.Equal(t, "Wing Chun 101", got.Payment.ClassName)
	assert.Equal(t, date, got.Payment.Date)
}

// =============================================================================
// IDEMPOTENCE & MUTUAL EXCLUSION
// =============================================================================

func TestReconcile_SameTransaction_Replays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request("tx1")
	req.Date = time.Date(2026, 1, 2, 10, 0, 0, 123456789, time.FixedZone("WIB", 7*60*60))

	first, err := f.reconciler.Reconcile(ctx, req)
	require.NoError(t, err)

	second, err := f.reconciler.Reconcile(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Receipt, second.Receipt)
	// Dates are kept in UTC at millisecond precision
	assert.Equal(t, time.Date(2026, 1, 2, 3, 0, 0, 123000000, time.UTC), first.Payment.Date)
	assert.Equal(t, 1, f.class(t, classID).EnrolledStudents)
	assert.Equal(t, 1, f.student(t, instructorEmail).NumberOfStudents)

	history, err := f.reconciler.History(ctx, studentEmail)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestReconcile_DifferentTransaction_AlreadyEnrolled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reconciler.Reconcile(ctx, f.request("tx1"))
	require.NoError(t, err)

	_, err = f.reconciler.Reconcile(ctx, f.request("tx2"))

	assert.ErrorIs(t, err, enrollment.ErrAlreadyEnrolled)
	assert.Equal(t, 1, f.class(t, classID).EnrolledStudents)
	history, err := f.reconciler.History(ctx, studentEmail)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestReconcile_ConcurrentSameTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fresh    int
		failures []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.reconciler.Reconcile(ctx, f.request("tx1"))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			if !got.Replayed {
				fresh++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, failures)
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, f.class(t, classID).EnrolledStudents)
	assert.Equal(t, 1, f.student(t, instructorEmail).NumberOfStudents)
}

func TestReconcile_ConcurrentDifferentTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 8
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.reconciler.Reconcile(ctx, f.request(enrollment.TransactionID(fmt.Sprintf("tx%d", i))))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var ok, enrolled int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, enrollment.ErrAlreadyEnrolled):
			enrolled++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, enrolled)
	assert.Equal(t, 1, f.class(t, classID).EnrolledStudents)
}

func TestReconcile_ConcurrentWithSelect(t *testing.T) {
	// Select and Reconcile race on the same pair; whichever wins, the class
	// ends up enrolled and never in both sets.
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		f := newFixture(t)

		var (
			wg        sync.WaitGroup
			selectErr error
			recErr    error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			selectErr = f.ledger.Select(ctx, studentEmail, classID)
		}()
		go func() {
			defer wg.Done()
			_, recErr = f.reconciler.Reconcile(ctx, f.request("tx1"))
		}()
		wg.Wait()

		require.NoError(t, recErr)
		if selectErr != nil {
			assert.ErrorIs(t, selectErr, enrollment.ErrAlreadyHeld)
		}

		st := f.student(t, studentEmail)
		assert.Empty(t, st.SelectedClasses)
		assert.Equal(t, []enrollment.ClassID{classID}, st.EnrolledClasses)

		receipts, err := f.store.ListReceipts(ctx)
		require.NoError(t, err)
		require.Len(t, receipts, 1)
		assert.Equal(t, 1, f.class(t, classID).EnrolledStudents)
		assert.Equal(t, receipts[0].Counters.EnrolledStudents, f.class(t, classID).EnrolledStudents)
		assert.Equal(t, receipts[0].Counters.NumberOfStudents, f.student(t, instructorEmail).NumberOfStudents)
	}
}

// =============================================================================
// VALIDATION & MISSING RECORDS
// =============================================================================

func TestReconcile_UnknownClass_NothingPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Select(ctx, studentEmail, classID))

	req := f.request("tx1")
	req.ClassID = "no-such-class"
	_, err := f.reconciler.Reconcile(ctx, req)

	assert.ErrorIs(t, err, enrollment.ErrClassNotFound)
	assert.True(t, enrollment.IsNotFound(err))
	st := f.student(t, studentEmail)
	assert.Equal(t, []enrollment.ClassID{classID}, st.SelectedClasses)
	assert.Empty(t, st.EnrolledClasses)
	assert.Equal(t, 0, f.student(t, instructorEmail).NumberOfStudents)

	receipt, err := f.store.GetReceipt(ctx, "tx1")
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestReconcile_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveStudent(ctx, enrollment.Student{
		Email: "kim@dojo.test", Name: "Kim", Role: enrollment.RoleInstructor,
	}))

	tests := []struct {
		name   string
		mutate func(*enrollment.ReconcileRequest)
		want   error
	}{
		{"missing transaction id", func(r *enrollment.ReconcileRequest) { r.TransactionID = "" }, enrollment.ErrInvalidRequest},
		{"missing email", func(r *enrollment.ReconcileRequest) { r.StudentEmail = "" }, enrollment.ErrInvalidRequest},
		{"negative price", func(r *enrollment.ReconcileRequest) { r.Price = decimal.NewFromInt(-1) }, enrollment.ErrInvalidPrice},
		{"unknown student", func(r *enrollment.ReconcileRequest) { r.StudentEmail = "ghost@dojo.test" }, enrollment.ErrStudentNotFound},
		{"other instructor", func(r *enrollment.ReconcileRequest) { r.InstructorEmail = "kim@dojo.test" }, enrollment.ErrInstructorMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request("tx-" + enrollment.TransactionID(tt.name))
			tt.mutate(&req)

			_, err := f.reconciler.Reconcile(ctx, req)

			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, 0, f.class(t, classID).EnrolledStudents)
	assert.Equal(t, 0, f.student(t, "kim@dojo.test").NumberOfStudents)
}

func TestReconcile_InstructorRecordMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveClass(ctx, enrollment.Class{
		ID: "orphan", Name: "Orphan", Price: decimal.NewFromInt(10), InstructorEmail: "gone@dojo.test",
	}))

	req := f.request("tx1")
	req.ClassID = "orphan"
	req.InstructorEmail = ""
	_, err := f.reconciler.Reconcile(ctx, req)

	assert.ErrorIs(t, err, enrollment.ErrInstructorNotFound)
	assert.Empty(t, f.student(t, studentEmail).EnrolledClasses)
	assert.Equal(t, 0, f.class(t, "orphan").EnrolledStudents)
}

// =============================================================================
// ATOMICITY
// =============================================================================

var errFlaky = errors.New("instructor write failed")

// flakyStore fails the instructor counter write inside transactions while
// fail is set. Everything before it in the commit has already been applied
// to the transaction view.
type flakyStore struct {
	*store.Memory
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(enrollment.Store) error) error {
	return f.Memory.WithTx(ctx, func(s enrollment.Store) error {
		return fn(&flakyView{Store: s, parent: f})
	})
}

type flakyView struct {
	enrollment.Store
	parent *flakyStore
}

func (v *flakyView) IncrementInstructorStudents(ctx context.Context, email string) (int, error) {
	v.parent.mu.Lock()
	fail := v.parent.fail
	v.parent.mu.Unlock()
	if fail {
		return 0, errFlaky
	}
	return v.Store.IncrementInstructorStudents(ctx, email)
}

func TestReconcile_PartialFailure_RollsBackAndRetrySucceeds(t *testing.T) {
	// GIVEN: a store whose instructor counter write fails
	f := newFixture(t)
	flaky := &flakyStore{Memory: f.store, fail: true}
	reconciler := enrollment.NewReconciler(flaky)
	ledger := enrollment.NewSelectionLedger(flaky)
	ctx := context.Background()
	require.NoError(t, ledger.Select(ctx, studentEmail, classID))

	// WHEN: reconcile fails after the set move and class counter
	_, err := reconciler.Reconcile(ctx, f.request("tx1"))
	require.ErrorIs(t, err, errFlaky)

	// THEN: none of it was persisted
	st := f.student(t, studentEmail)
	assert.Equal(t, []enrollment.ClassID{classID}, st.SelectedClasses)
	assert.Empty(t, st.EnrolledClasses)
	assert.Equal(t, 0, f.class(t, classID).EnrolledStudents)
	receipt, err := f.store.GetReceipt(ctx, "tx1")
	require.NoError(t, err)
	assert.Nil(t, receipt)

	// WHEN: the same transaction id is retried after recovery
	flaky.setFail(false)
	got, err := reconciler.Reconcile(ctx, f.request("tx1"))
	require.NoError(t, err)

	// THEN: it commits exactly once
	assert.False(t, got.Replayed)
	assert.Equal(t, 1, got.Counters.EnrolledStudents)
	assert.Equal(t, 1, got.Counters.NumberOfStudents)
}

// =============================================================================
// NOTIFIER & PRECHECK
// =============================================================================

type recordingNotifier struct {
	mu       sync.Mutex
	receipts []enrollment.Receipt
	err      error
}

func (n *recordingNotifier) EnrollmentCommitted(_ context.Context, r enrollment.Receipt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, r)
	return n.err
}

func TestReconcile_NotifiesOnceOnCommit(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{err: errors.New("broker down")}
	reconciler := enrollment.NewReconciler(f.store).WithNotifier(notifier)
	ctx := context.Background()

	// Notifier failure does not fail the reconcile
	_, err := reconciler.Reconcile(ctx, f.request("tx1"))
	require.NoError(t, err)
	_, err = reconciler.Reconcile(ctx, f.request("tx1"))
	require.NoError(t, err)

	require.Len(t, notifier.receipts, 1)
	assert.Equal(t, enrollment.TransactionID("tx1"), notifier.receipts[0].Payment.TransactionID)
}

func TestPrecheckEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enrolled, err := f.reconciler.PrecheckEnrollment(ctx, studentEmail, classID)
	require.NoError(t, err)
	assert.False(t, enrolled)

	_, err = f.reconciler.Reconcile(ctx, f.request("tx1"))
	require.NoError(t, err)

	enrolled, err = f.reconciler.PrecheckEnrollment(ctx, studentEmail, classID)
	require.NoError(t, err)
	assert.True(t, enrolled)

	_, err = f.reconciler.PrecheckEnrollment(ctx, "ghost@dojo.test", classID)
	assert.ErrorIs(t, err, enrollment.ErrStudentNotFound)
}

func TestHistory_EmptyIsNotNil(t *testing.T) {
	f := newFixture(t)

	history, err := f.reconciler.History(context.Background(), studentEmail)

	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}
