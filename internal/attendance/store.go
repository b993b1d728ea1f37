package attendance

import (
	"context"
	"time"
)

// Store is the persistent state behind the attendance services. Lookups that
// find nothing return a nil pointer and a nil error. Implementations must
// enforce uniqueness of (session_id, student_id) and report a violation from
// InsertRecord as a KindDuplicate error.
type Store interface {
	// Atomic runs fn inside one transaction; any error rolls everything back.
	Atomic(ctx context.Context, fn func(tx Store) error) error

	FindStudent(ctx context.Context, enrollmentNo, batch string) (*Student, error)
	GetStudent(ctx context.Context, id int64, batch string) (*Student, error)
	ListStudents(ctx context.Context, batch string) ([]Student, error)
	// LockStudent serializes concurrent writers for one student until the
	// surrounding transaction ends.
	LockStudent(ctx context.Context, studentID int64) error

	LockClass(ctx context.Context, classID int64) error
	ActiveSession(ctx context.Context, classID int64, now time.Time) (*Session, error)
	GetSession(ctx context.Context, id int64) (*Session, error)
	CreateSession(ctx context.Context, s Session) (Session, error)
	CloseSession(ctx context.Context, id int64, now time.Time) error
	// SessionsBetween lists sessions whose start time is in [from, to).
	SessionsBetween(ctx context.Context, classID int64, from, to time.Time) ([]Session, error)
	ListSessions(ctx context.Context, classID int64) ([]Session, error)
	DeleteSessions(ctx context.Context, ids []int64) error

	// HasRecordBetween reports whether the student has a record in any session
	// whose start time is in [from, to).
	HasRecordBetween(ctx context.Context, studentID int64, from, to time.Time) (bool, error)
	AddressUsed(ctx context.Context, sessionID int64, address string) (bool, error)
	InsertRecord(ctx context.Context, r Record) (Record, error)
	// InsertRecordIfAbsent inserts r unless the student already has a record in
	// that session.
	InsertRecordIfAbsent(ctx context.Context, r Record) (bool, error)
	// DeleteRecords removes the student's records in the given sessions. A zero
	// studentID removes every record in those sessions.
	DeleteRecords(ctx context.Context, sessionIDs []int64, studentID int64) (int64, error)
	// PresentStudents lists distinct students with a record in any of the
	// sessions, ordered by name.
	PresentStudents(ctx context.Context, sessionIDs []int64) ([]Student, error)
	ListPresence(ctx context.Context, classID int64) ([]Presence, error)
}
