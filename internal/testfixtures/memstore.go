package testfixtures

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"geoattend/internal/attendance"
)

// MemStore is an in-memory attendance.Store. Atomic works on a copy of the
// state that replaces the original only when fn succeeds, so failed
// transactions leave nothing behind. Transactions are serialized by a single
// mutex.
type MemStore struct {
	mu     *sync.Mutex
	st     *memState
	faults map[string]error
	inTx   bool
}

type memState struct {
	students    []attendance.Student
	sessions    map[int64]attendance.Session
	records     map[int64]attendance.Record
	nextStudent int64
	nextSession int64
	nextRecord  int64
}

func (s *memState) clone() *memState {
	c := *s
	c.students = append([]attendance.Student(nil), s.students...)
	c.sessions = make(map[int64]attendance.Session, len(s.sessions))
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	c.records = make(map[int64]attendance.Record, len(s.records))
	for k, v := range s.records {
		c.records[k] = v
	}
	return &c
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		mu: &sync.Mutex{},
		st: &memState{
			sessions: make(map[int64]attendance.Session),
			records:  make(map[int64]attendance.Record),
		},
		faults: make(map[string]error),
	}
}

var _ attendance.Store = (*MemStore)(nil)

func (m *MemStore) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// FailOn makes every later call of the named method return err. A nil err
// clears the fault.
func (m *MemStore) FailOn(method string, err error) {
	defer m.lock()()
	if err == nil {
		delete(m.faults, method)
		return
	}
	m.faults[method] = err
}

func (m *MemStore) fault(method string) error { return m.faults[method] }

// Atomic implements attendance.Store.
func (m *MemStore) Atomic(ctx context.Context, fn func(tx attendance.Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("Atomic"); err != nil {
		return err
	}
	tx := &MemStore{mu: m.mu, st: m.st.clone(), faults: m.faults, inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	m.st = tx.st
	return nil
}

// AddStudent seeds a student and returns it with its id.
func (m *MemStore) AddStudent(enrollmentNo, name, batch string) attendance.Student {
	defer m.lock()()
	m.st.nextStudent++
	s := attendance.Student{ID: m.st.nextStudent, EnrollmentNo: enrollmentNo, Name: name, Batch: batch}
	m.st.students = append(m.st.students, s)
	return s
}

// AddSession seeds a session and returns it with its id.
func (m *MemStore) AddSession(s attendance.Session) attendance.Session {
	defer m.lock()()
	return m.st.addSession(s)
}

// AddRecord seeds a record without any checks.
func (m *MemStore) AddRecord(r attendance.Record) attendance.Record {
	defer m.lock()()
	return m.st.addRecord(r)
}

// Sessions returns every stored session ordered by id.
func (m *MemStore) Sessions() []attendance.Session {
	defer m.lock()()
	out := make([]attendance.Session, 0, len(m.st.sessions))
	for _, s := range m.st.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Records returns every stored record ordered by id.
func (m *MemStore) Records() []attendance.Record {
	defer m.lock()()
	out := make([]attendance.Record, 0, len(m.st.records))
	for _, r := range m.st.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memState) addSession(sess attendance.Session) attendance.Session {
	s.nextSession++
	sess.ID = s.nextSession
	if sess.Geofence != nil {
		g := *sess.Geofence
		sess.Geofence = &g
	}
	s.sessions[sess.ID] = sess
	return sess
}

func (s *memState) addRecord(r attendance.Record) attendance.Record {
	s.nextRecord++
	r.ID = s.nextRecord
	s.records[r.ID] = r
	return r
}

func (s *memState) hasRecord(sessionID, studentID int64) bool {
	for _, r := range s.records {
		if r.SessionID == sessionID && r.StudentID == studentID {
			return true
		}
	}
	return false
}

// FindStudent implements attendance.Store.
func (m *MemStore) FindStudent(_ context.Context, enrollmentNo, batch string) (*attendance.Student, error) {
	defer m.lock()()
	if err := m.fault("FindStudent"); err != nil {
		return nil, err
	}
	for _, s := range m.st.students {
		if s.EnrollmentNo == enrollmentNo && s.Batch == batch {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

// GetStudent implements attendance.Store.
func (m *MemStore) GetStudent(_ context.Context, id int64, batch string) (*attendance.Student, error) {
	defer m.lock()()
	if err := m.fault("GetStudent"); err != nil {
		return nil, err
	}
	for _, s := range m.st.students {
		if s.ID == id && s.Batch == batch {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

// ListStudents implements attendance.Store.
func (m *MemStore) ListStudents(_ context.Context, batch string) ([]attendance.Student, error) {
	defer m.lock()()
	if err := m.fault("ListStudents"); err != nil {
		return nil, err
	}
	var out []attendance.Student
	for _, s := range m.st.students {
		if s.Batch == batch {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrollmentNo < out[j].EnrollmentNo })
	return out, nil
}

// LockStudent implements attendance.Store. Atomic already serializes.
func (m *MemStore) LockStudent(context.Context, int64) error { return m.fault("LockStudent") }

// LockClass implements attendance.Store. Atomic already serializes.
func (m *MemStore) LockClass(context.Context, int64) error { return m.fault("LockClass") }

// ActiveSession implements attendance.Store.
func (m *MemStore) ActiveSession(_ context.Context, classID int64, now time.Time) (*attendance.Session, error) {
	defer m.lock()()
	if err := m.fault("ActiveSession"); err != nil {
		return nil, err
	}
	var found *attendance.Session
	for _, s := range m.st.sessions {
		if s.ClassID != classID || !s.ActiveAt(now) {
			continue
		}
		if found == nil || s.StartTime.After(found.StartTime) {
			s := s
			found = &s
		}
	}
	return found, nil
}

// GetSession implements attendance.Store.
func (m *MemStore) GetSession(_ context.Context, id int64) (*attendance.Session, error) {
	defer m.lock()()
	if err := m.fault("GetSession"); err != nil {
		return nil, err
	}
	s, ok := m.st.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// CreateSession implements attendance.Store.
func (m *MemStore) CreateSession(_ context.Context, s attendance.Session) (attendance.Session, error) {
	defer m.lock()()
	if err := m.fault("CreateSession"); err != nil {
		return attendance.Session{}, err
	}
	for _, existing := range m.st.sessions {
		if existing.Token == s.Token {
			return attendance.Session{}, fmt.Errorf("session token %q: %w", s.Token, attendance.KindDuplicate)
		}
	}
	return m.st.addSession(s), nil
}

// CloseSession implements attendance.Store.
func (m *MemStore) CloseSession(_ context.Context, id int64, now time.Time) error {
	defer m.lock()()
	if err := m.fault("CloseSession"); err != nil {
		return err
	}
	s, ok := m.st.sessions[id]
	if !ok || !s.IsActive {
		return nil
	}
	s.IsActive = false
	if now.Before(s.EndTime) {
		s.EndTime = now
	}
	m.st.sessions[id] = s
	return nil
}

func (s *memState) sessionsBetween(classID int64, from, to time.Time) []attendance.Session {
	var out []attendance.Session
	for _, sess := range s.sessions {
		if sess.ClassID == classID && !sess.StartTime.Before(from) && sess.StartTime.Before(to) {
			out = append(out, sess)
		}
	}
	sortSessions(out)
	return out
}

func sortSessions(out []attendance.Session) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
}

// SessionsBetween implements attendance.Store.
func (m *MemStore) SessionsBetween(_ context.Context, classID int64, from, to time.Time) ([]attendance.Session, error) {
	defer m.lock()()
	if err := m.fault("SessionsBetween"); err != nil {
		return nil, err
	}
	return m.st.sessionsBetween(classID, from, to), nil
}

// ListSessions implements attendance.Store.
func (m *MemStore) ListSessions(_ context.Context, classID int64) ([]attendance.Session, error) {
	defer m.lock()()
	if err := m.fault("ListSessions"); err != nil {
		return nil, err
	}
	var out []attendance.Session
	for _, s := range m.st.sessions {
		if s.ClassID == classID {
			out = append(out, s)
		}
	}
	sortSessions(out)
	return out, nil
}

// DeleteSessions implements attendance.Store.
func (m *MemStore) DeleteSessions(_ context.Context, ids []int64) error {
	defer m.lock()()
	if err := m.fault("DeleteSessions"); err != nil {
		return err
	}
	for _, id := range ids {
		delete(m.st.sessions, id)
	}
	return nil
}

// HasRecordBetween implements attendance.Store.
func (m *MemStore) HasRecordBetween(_ context.Context, studentID int64, from, to time.Time) (bool, error) {
	defer m.lock()()
	if err := m.fault("HasRecordBetween"); err != nil {
		return false, err
	}
	for _, r := range m.st.records {
		if r.StudentID != studentID {
			continue
		}
		s, ok := m.st.sessions[r.SessionID]
		if ok && !s.StartTime.Before(from) && s.StartTime.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

// AddressUsed implements attendance.Store.
func (m *MemStore) AddressUsed(_ context.Context, sessionID int64, address string) (bool, error) {
	defer m.lock()()
	if err := m.fault("AddressUsed"); err != nil {
		return false, err
	}
	for _, r := range m.st.records {
		if r.SessionID == sessionID && r.SourceAddress == address {
			return true, nil
		}
	}
	return false, nil
}

// InsertRecord implements attendance.Store.
func (m *MemStore) InsertRecord(_ context.Context, r attendance.Record) (attendance.Record, error) {
	defer m.lock()()
	if err := m.fault("InsertRecord"); err != nil {
		return attendance.Record{}, err
	}
	if m.st.hasRecord(r.SessionID, r.StudentID) {
		return attendance.Record{}, fmt.Errorf("record (%d, %d): %w", r.SessionID, r.StudentID, attendance.KindDuplicate)
	}
	return m.st.addRecord(r), nil
}

// InsertRecordIfAbsent implements attendance.Store.
func (m *MemStore) InsertRecordIfAbsent(_ context.Context, r attendance.Record) (bool, error) {
	defer m.lock()()
	if err := m.fault("InsertRecordIfAbsent"); err != nil {
		return false, err
	}
	if m.st.hasRecord(r.SessionID, r.StudentID) {
		return false, nil
	}
	m.st.addRecord(r)
	return true, nil
}

// DeleteRecords implements attendance.Store.
func (m *MemStore) DeleteRecords(_ context.Context, sessionIDs []int64, studentID int64) (int64, error) {
	defer m.lock()()
	if err := m.fault("DeleteRecords"); err != nil {
		return 0, err
	}
	in := make(map[int64]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		in[id] = true
	}
	var n int64
	for id, r := range m.st.records {
		if in[r.SessionID] && (studentID == 0 || r.StudentID == studentID) {
			delete(m.st.records, id)
			n++
		}
	}
	return n, nil
}

// PresentStudents implements attendance.Store.
func (m *MemStore) PresentStudents(_ context.Context, sessionIDs []int64) ([]attendance.Student, error) {
	defer m.lock()()
	if err := m.fault("PresentStudents"); err != nil {
		return nil, err
	}
	in := make(map[int64]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		in[id] = true
	}
	present := make(map[int64]bool)
	for _, r := range m.st.records {
		if in[r.SessionID] {
			present[r.StudentID] = true
		}
	}
	var out []attendance.Student
	for _, s := range m.st.students {
		if present[s.ID] {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListPresence implements attendance.Store.
func (m *MemStore) ListPresence(_ context.Context, classID int64) ([]attendance.Presence, error) {
	defer m.lock()()
	if err := m.fault("ListPresence"); err != nil {
		return nil, err
	}
	var out []attendance.Presence
	for _, r := range m.st.records {
		if s, ok := m.st.sessions[r.SessionID]; ok && s.ClassID == classID {
			out = append(out, attendance.Presence{SessionID: r.SessionID, StudentID: r.StudentID})
		}
	}
	return out, nil
}
