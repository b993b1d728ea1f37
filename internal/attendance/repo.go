package attendance

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"geoattend/internal/store"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db   *sql.DB
	q    store.DBTX
	inTx bool
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, q: db}
}

// Atomic runs fn in a transaction. Nested calls reuse the outer transaction.
func (r *Repository) Atomic(ctx context.Context, fn func(tx Store) error) error {
	if r.inTx {
		return fn(r)
	}
	return store.RunInTx(ctx, r.db, nil, func(_ context.Context, tx store.DBTX) error {
		return fn(&Repository{db: r.db, q: tx, inTx: true})
	})
}

// Ping checks the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ClassID resolves the class row by display name.
func (r *Repository) ClassID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.q.QueryRowContext(ctx, `SELECT id FROM classes WHERE class_name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, NewNotFoundError("Class not found.")
	}
	return id, err
}

// UserID resolves a controller account by username.
func (r *Repository) UserID(ctx context.Context, username string) (int64, error) {
	var id int64
	err := r.q.QueryRowContext(ctx, `SELECT id FROM users WHERE username = $1`, username).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, NewNotFoundError("Controller account not found.")
	}
	return id, err
}

const studentColumns = `id, enrollment_no, name, batch`

func scanStudent(sc interface{ Scan(...any) error }) (Student, error) {
	var s Student
	err := sc.Scan(&s.ID, &s.EnrollmentNo, &s.Name, &s.Batch)
	return s, err
}

// FindStudent looks a student up by enrollment number within a batch.
func (r *Repository) FindStudent(ctx context.Context, enrollmentNo, batch string) (*Student, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+studentColumns+`
		FROM students WHERE enrollment_no = $1 AND batch = $2
	`, enrollmentNo, batch)
	s, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetStudent returns a student of the batch by id.
func (r *Repository) GetStudent(ctx context.Context, id int64, batch string) (*Student, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+studentColumns+`
		FROM students WHERE id = $1 AND batch = $2
	`, id, batch)
	s, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListStudents returns the batch ordered by enrollment number.
func (r *Repository) ListStudents(ctx context.Context, batch string) ([]Student, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+studentColumns+`
		FROM students WHERE batch = $1
		ORDER BY enrollment_no
	`, batch)
	if err != nil {
		return nil, err
	}
	return collectStudents(rows)
}

func collectStudents(rows *sql.Rows) ([]Student, error) {
	defer rows.Close()
	var out []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LockStudent takes the student's row lock for the rest of the transaction.
func (r *Repository) LockStudent(ctx context.Context, studentID int64) error {
	_, err := r.q.ExecContext(ctx, `SELECT id FROM students WHERE id = $1 FOR UPDATE`, studentID)
	return err
}

// LockClass takes the class row lock for the rest of the transaction.
func (r *Repository) LockClass(ctx context.Context, classID int64) error {
	_, err := r.q.ExecContext(ctx, `SELECT id FROM classes WHERE id = $1 FOR UPDATE`, classID)
	return err
}

const sessionColumns = `id, class_id, controller_id, session_token, start_time, end_time, is_active,
	geofence_lat, geofence_lon, geofence_radius`

func scanSession(sc interface{ Scan(...any) error }) (Session, error) {
	var s Session
	var controller sql.NullInt64
	var lat, lon, radius sql.NullFloat64
	err := sc.Scan(&s.ID, &s.ClassID, &controller, &s.Token, &s.StartTime, &s.EndTime, &s.IsActive, &lat, &lon, &radius)
	if err != nil {
		return Session{}, err
	}
	s.ControllerID = controller.Int64
	s.StartTime = s.StartTime.UTC()
	s.EndTime = s.EndTime.UTC()
	if lat.Valid && lon.Valid {
		s.Geofence = &Geofence{Latitude: lat.Float64, Longitude: lon.Float64, Radius: radius.Float64}
	}
	return s, nil
}

func collectSessions(rows *sql.Rows) ([]Session, error) {
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ActiveSession returns the session of the class that is flagged active and
// has not yet reached its end time.
func (r *Repository) ActiveSession(ctx context.Context, classID int64, now time.Time) (*Session, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE class_id = $1 AND is_active = TRUE AND end_time > $2
		ORDER BY start_time DESC
		LIMIT 1
	`, classID, now)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetSession returns a session by id.
func (r *Repository) GetSession(ctx context.Context, id int64) (*Session, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// CreateSession inserts s and returns it with its id.
func (r *Repository) CreateSession(ctx context.Context, s Session) (Session, error) {
	var lat, lon, radius any
	if s.Geofence != nil {
		lat, lon, radius = s.Geofence.Latitude, s.Geofence.Longitude, s.Geofence.Radius
	}
	row := r.q.QueryRowContext(ctx, `
		INSERT INTO attendance_sessions
			(class_id, controller_id, session_token, start_time, end_time, is_active, geofence_lat, geofence_lon, geofence_radius)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, s.ClassID, nullID(s.ControllerID), s.Token, s.StartTime.UTC(), s.EndTime.UTC(), s.IsActive, lat, lon, radius)
	if err := row.Scan(&s.ID); err != nil {
		return Session{}, err
	}
	return s, nil
}

// CloseSession deactivates the session. The end time only ever moves earlier
// so closing a naturally expired session keeps its original end.
func (r *Repository) CloseSession(ctx context.Context, id int64, now time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET is_active = FALSE, end_time = LEAST(end_time, $2)
		WHERE id = $1 AND is_active = TRUE
	`, id, now)
	return err
}

// SessionsBetween lists sessions of the class starting in [from, to).
func (r *Repository) SessionsBetween(ctx context.Context, classID int64, from, to time.Time) ([]Session, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE class_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time, id
	`, classID, from, to)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// ListSessions lists every session of the class.
func (r *Repository) ListSessions(ctx context.Context, classID int64) ([]Session, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions WHERE class_id = $1
		ORDER BY start_time, id
	`, classID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// DeleteSessions removes sessions by id. Records must be removed first.
func (r *Repository) DeleteSessions(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.q.ExecContext(ctx, `DELETE FROM attendance_sessions WHERE id = ANY($1)`, ids)
	return err
}

// HasRecordBetween reports whether the student has a record in a session
// starting in [from, to).
func (r *Repository) HasRecordBetween(ctx context.Context, studentID int64, from, to time.Time) (bool, error) {
	var found bool
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records ar
			JOIN attendance_sessions s ON ar.session_id = s.id
			WHERE ar.student_id = $1 AND s.start_time >= $2 AND s.start_time < $3
		)
	`, studentID, from, to).Scan(&found)
	return found, err
}

// AddressUsed reports whether any record of the session came from address.
func (r *Repository) AddressUsed(ctx context.Context, sessionID int64, address string) (bool, error) {
	var found bool
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance_records WHERE session_id = $1 AND ip_address = $2)
	`, sessionID, address).Scan(&found)
	return found, err
}

// InsertRecord writes a record. A second record for the same session and
// student fails with KindDuplicate.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	row := r.q.QueryRowContext(ctx, `
		INSERT INTO attendance_records (session_id, student_id, timestamp, latitude, longitude, ip_address)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, rec.SessionID, rec.StudentID, rec.Timestamp.UTC(), rec.Latitude, rec.Longitude, rec.SourceAddress)
	if err := row.Scan(&rec.ID); err != nil {
		return Record{}, classify(err)
	}
	return rec, nil
}

// InsertRecordIfAbsent writes rec unless the student already has a record in
// that session.
func (r *Repository) InsertRecordIfAbsent(ctx context.Context, rec Record) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO attendance_records (session_id, student_id, timestamp, latitude, longitude, ip_address)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, rec.SessionID, rec.StudentID, rec.Timestamp.UTC(), rec.Latitude, rec.Longitude, rec.SourceAddress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteRecords removes records in the sessions, for one student or for all
// when studentID is zero.
func (r *Repository) DeleteRecords(ctx context.Context, sessionIDs []int64, studentID int64) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	var (
		res sql.Result
		err error
	)
	if studentID == 0 {
		res, err = r.q.ExecContext(ctx, `DELETE FROM attendance_records WHERE session_id = ANY($1)`, sessionIDs)
	} else {
		res, err = r.q.ExecContext(ctx, `
			DELETE FROM attendance_records WHERE student_id = $1 AND session_id = ANY($2)
		`, studentID, sessionIDs)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PresentStudents lists distinct students with a record in any of the
// sessions, ordered by name.
func (r *Repository) PresentStudents(ctx context.Context, sessionIDs []int64) ([]Student, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT DISTINCT s.id, s.enrollment_no, s.name, s.batch
		FROM attendance_records ar
		JOIN students s ON ar.student_id = s.id
		WHERE ar.session_id = ANY($1)
		ORDER BY s.name, s.id
	`, sessionIDs)
	if err != nil {
		return nil, err
	}
	return collectStudents(rows)
}

// ListPresence returns every (session, student) pair recorded for the class.
func (r *Repository) ListPresence(ctx context.Context, classID int64) ([]Presence, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT ar.session_id, ar.student_id
		FROM attendance_records ar
		JOIN attendance_sessions s ON ar.session_id = s.id
		WHERE s.class_id = $1
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Presence
	for rows.Next() {
		var p Presence
		if err := rows.Scan(&p.SessionID, &p.StudentID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertAudit stores an audit event. Redelivered events are ignored.
func (r *Repository) InsertAudit(ctx context.Context, evt Event) error {
	var present any
	if evt.Present != nil {
		present = *evt.Present
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO attendance_audit
			(id, type, occurred_at, session_id, student_id, controller_id, date, source_address, present)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING
	`, evt.ID, evt.Type, evt.OccurredAt.UTC(), nullID(evt.SessionID), nullID(evt.StudentID),
		nullID(evt.ControllerID), nullString(evt.Date), nullString(evt.SourceAddress), present)
	return err
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// isUnavailable reports connection-level and timeout failures the caller may
// retry.
func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exception; 53300: too many connections; 57P0x: shutdown
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "53300" || strings.HasPrefix(pgErr.Code, "57P0")
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
