// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/enrollment-engine/enrollment"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements enrollment.TxStore and enrollment.Catalog.
// WithTx holds the write lock for the whole callback, so transactions are
// serialised and rolled back from a snapshot on error.
type Memory struct {
	mu sync.RWMutex
	st *memState
}

type memState struct {
	students map[string]enrollment.Student
	classes  map[enrollment.ClassID]enrollment.Class
	receipts map[enrollment.TransactionID]enrollment.Receipt
	order    []enrollment.TransactionID // insertion order of receipts
}

func NewMemory() *Memory {
	return &Memory{st: newMemState()}
}

func newMemState() *memState {
	return &memState{
		students: make(map[string]enrollment.Student),
		classes:  make(map[enrollment.ClassID]enrollment.Class),
		receipts: make(map[enrollment.TransactionID]enrollment.Receipt),
	}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(enrollment.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.students {
		c.students[k] = copyStudent(v)
	}
	for k, v := range s.classes {
		c.classes[k] = v
	}
	for k, v := range s.receipts {
		c.receipts[k] = v
	}
	c.order = append([]enrollment.TransactionID{}, s.order...)
	return c
}

func copyStudent(s enrollment.Student) enrollment.Student {
	s.SelectedClasses = append([]enrollment.ClassID(nil), s.SelectedClasses...)
	s.EnrolledClasses = append([]enrollment.ClassID(nil), s.EnrolledClasses...)
	return s
}

// =============================================================================
// LOCKED WRAPPERS
// =============================================================================

func (m *Memory) GetStudent(ctx context.Context, email string) (*enrollment.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetStudent(ctx, email)
}

func (m *Memory) GetClass(ctx context.Context, id enrollment.ClassID) (*enrollment.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetClass(ctx, id)
}

func (m *Memory) GetReceipt(ctx context.Context, txID enrollment.TransactionID) (*enrollment.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetReceipt(ctx, txID)
}

func (m *Memory) ReceiptsByStudent(ctx context.Context, email string) ([]enrollment.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ReceiptsByStudent(ctx, email)
}

func (m *Memory) AddSelection(ctx context.Context, email string, classID enrollment.ClassID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AddSelection(ctx, email, classID)
}

func (m *Memory) RemoveSelection(ctx context.Context, email string, classID enrollment.ClassID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.RemoveSelection(ctx, email, classID)
}

func (m *Memory) MarkEnrolled(ctx context.Context, email string, classID enrollment.ClassID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.MarkEnrolled(ctx, email, classID)
}

func (m *Memory) IncrementClassEnrollment(ctx context.Context, id enrollment.ClassID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.IncrementClassEnrollment(ctx, id)
}

func (m *Memory) IncrementInstructorStudents(ctx context.Context, email string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.IncrementInstructorStudents(ctx, email)
}

func (m *Memory) InsertReceipt(ctx context.Context, r enrollment.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertReceipt(ctx, r)
}

func (m *Memory) ListClasses(ctx context.Context) ([]enrollment.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListClasses(ctx)
}

func (m *Memory) ListInstructors(ctx context.Context) ([]enrollment.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListInstructors(ctx)
}

func (m *Memory) ListReceipts(ctx context.Context) ([]enrollment.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListReceipts(ctx)
}

func (m *Memory) SetClassEnrollment(ctx context.Context, id enrollment.ClassID, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SetClassEnrollment(ctx, id, n)
}

func (m *Memory) SetInstructorStudents(ctx context.Context, email string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SetInstructorStudents(ctx, email, n)
}

func (m *Memory) SaveStudent(_ context.Context, s enrollment.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s = copyStudent(s)
	enrollment.SortClasses(s.SelectedClasses)
	enrollment.SortClasses(s.EnrolledClasses)
	m.st.students[s.Email] = s
	return nil
}

func (m *Memory) SaveClass(_ context.Context, c enrollment.Class) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.classes[c.ID] = c
	return nil
}

// =============================================================================
// UNLOCKED STATE (also the view handed to WithTx callbacks)
// =============================================================================

func (s *memState) GetStudent(_ context.Context, email string) (*enrollment.Student, error) {
	st, ok := s.students[email]
	if !ok {
		return nil, nil
	}
	st = copyStudent(st)
	return &st, nil
}

func (s *memState) GetClass(_ context.Context, id enrollment.ClassID) (*enrollment.Class, error) {
	c, ok := s.classes[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *memState) GetReceipt(_ context.Context, txID enrollment.TransactionID) (*enrollment.Receipt, error) {
	r, ok := s.receipts[txID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *memState) ReceiptsByStudent(_ context.Context, email string) ([]enrollment.Receipt, error) {
	var out []enrollment.Receipt
	for _, id := range s.order {
		if r := s.receipts[id]; r.Payment.StudentEmail == email {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memState) AddSelection(_ context.Context, email string, classID enrollment.ClassID) error {
	st, ok := s.students[email]
	if !ok {
		return enrollment.StudentNotFound(email)
	}
	if state := st.State(classID); state != enrollment.StateNone {
		return enrollment.AlreadyHeld(email, classID, state)
	}
	st = copyStudent(st)
	st.SelectedClasses = enrollment.AddClass(st.SelectedClasses, classID)
	s.students[email] = st
	return nil
}

func (s *memState) RemoveSelection(_ context.Context, email string, classID enrollment.ClassID) error {
	st, ok := s.students[email]
	if !ok {
		return nil
	}
	st = copyStudent(st)
	st.SelectedClasses = enrollment.RemoveClass(st.SelectedClasses, classID)
	s.students[email] = st
	return nil
}

func (s *memState) MarkEnrolled(_ context.Context, email string, classID enrollment.ClassID) error {
	st, ok := s.students[email]
	if !ok {
		return enrollment.StudentNotFound(email)
	}
	st = copyStudent(st)
	st.SelectedClasses = enrollment.RemoveClass(st.SelectedClasses, classID)
	st.EnrolledClasses = enrollment.AddClass(st.EnrolledClasses, classID)
	s.students[email] = st
	return nil
}

func (s *memState) IncrementClassEnrollment(_ context.Context, id enrollment.ClassID) (int, error) {
	c, ok := s.classes[id]
	if !ok {
		return 0, enrollment.ClassNotFound(id)
	}
	c.EnrolledStudents++
	s.classes[id] = c
	return c.EnrolledStudents, nil
}

func (s *memState) IncrementInstructorStudents(_ context.Context, email string) (int, error) {
	st, ok := s.students[email]
	if !ok || !st.IsInstructor() {
		return 0, enrollment.InstructorNotFound(email)
	}
	st.NumberOfStudents++
	s.students[email] = st
	return st.NumberOfStudents, nil
}

func (s *memState) InsertReceipt(_ context.Context, r enrollment.Receipt) error {
	if _, ok := s.receipts[r.Payment.TransactionID]; ok {
		return enrollment.ErrDuplicateTransaction
	}
	s.receipts[r.Payment.TransactionID] = r
	s.order = append(s.order, r.Payment.TransactionID)
	return nil
}

func (s *memState) ListClasses(_ context.Context) ([]enrollment.Class, error) {
	out := make([]enrollment.Class, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memState) ListInstructors(_ context.Context) ([]enrollment.Student, error) {
	var out []enrollment.Student
	for _, st := range s.students {
		if st.IsInstructor() {
			out = append(out, copyStudent(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *memState) ListReceipts(_ context.Context) ([]enrollment.Receipt, error) {
	out := make([]enrollment.Receipt, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.receipts[id])
	}
	return out, nil
}

func (s *memState) SetClassEnrollment(_ context.Context, id enrollment.ClassID, n int) error {
	c, ok := s.classes[id]
	if !ok {
		return enrollment.ClassNotFound(id)
	}
	c.EnrolledStudents = n
	s.classes[id] = c
	return nil
}

func (s *memState) SetInstructorStudents(_ context.Context, email string, n int) error {
	st, ok := s.students[email]
	if !ok || !st.IsInstructor() {
		return enrollment.InstructorNotFound(email)
	}
	st.NumberOfStudents = n
	s.students[email] = st
	return nil
}
