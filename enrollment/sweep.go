/*
sweep.go - Re-derive counters and enrollment sets from the payment log

PURPOSE:
  The receipt log is the source of truth. Counters are derived values and
  may drift if a store without multi-document atomicity lost part of a
  commit, or if the CRUD layer overwrote a document. Sweep recomputes them
  and writes back only what differs.

WHAT IT REPAIRS:
  1. Student sets: every receipt's class id is in enrolledClasses and not in
     selectedClasses (no class left in limbo with a payment behind it).
  2. Class.enrolledStudents = #receipts with that class id.
  3. Instructor.numberOfStudents = #receipts with that instructor email.

  Re-running a sweep on a consistent store changes nothing.
*/
package enrollment

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// SweepReport summarises one sweep run.
type SweepReport struct {
	RunID               string
	Payments            int
	EnrollmentsRepaired int
	ClassesRepaired     int
	InstructorsRepaired int
}

// Repaired is true when the run changed anything.
func (r SweepReport) Repaired() bool {
	return r.EnrollmentsRepaired+r.ClassesRepaired+r.InstructorsRepaired > 0
}

// Sweep runs one reconciliation pass inside a single store transaction.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{RunID: uuid.NewString()}

	err := r.store.WithTx(ctx, func(s Store) error {
		report = SweepReport{RunID: report.RunID}

		receipts, err := s.ListReceipts(ctx)
		if err != nil {
			return err
		}
		report.Payments = len(receipts)

		byClass := make(map[ClassID]int)
		byInstructor := make(map[string]int)
		for _, rc := range receipts {
			p := rc.Payment
			byClass[p.ClassID]++
			byInstructor[p.InstructorEmail]++

			student, err := s.GetStudent(ctx, p.StudentEmail)
			if err != nil {
				return err
			}
			if student == nil {
				log.Printf("[Sweep] receipt %s references missing student %s", p.TransactionID, p.StudentEmail)
				continue
			}
			if student.IsEnrolled(p.ClassID) && !containsClass(student.SelectedClasses, p.ClassID) {
				continue
			}
			if err := s.MarkEnrolled(ctx, p.StudentEmail, p.ClassID); err != nil {
				return err
			}
			report.EnrollmentsRepaired++
		}

		classes, err := s.ListClasses(ctx)
		if err != nil {
			return err
		}
		for _, c := range classes {
			if want := byClass[c.ID]; c.EnrolledStudents != want {
				if err := s.SetClassEnrollment(ctx, c.ID, want); err != nil {
					return err
				}
				report.ClassesRepaired++
			}
		}

		instructors, err := s.ListInstructors(ctx)
		if err != nil {
			return err
		}
		for _, in := range instructors {
			if want := byInstructor[in.Email]; in.NumberOfStudents != want {
				if err := s.SetInstructorStudents(ctx, in.Email, want); err != nil {
					return err
				}
				report.InstructorsRepaired++
			}
		}
		return nil
	})
	if err != nil {
		return SweepReport{}, err
	}

	if report.Repaired() {
		log.Printf("[Sweep] run %s repaired enrollments=%d classes=%d instructors=%d",
			report.RunID, report.EnrollmentsRepaired, report.ClassesRepaired, report.InstructorsRepaired)
	}
	return report, nil
}
