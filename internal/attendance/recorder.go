package attendance

import (
	"context"
	"time"

	"geoattend/internal/geo"
)

// MarkRequest is one student's attendance claim. A zero Now means the
// recorder's clock.
type MarkRequest struct {
	SessionID     int64
	EnrollmentNo  string
	Latitude      float64
	Longitude     float64
	SourceAddress string
	Now           time.Time
}

// Outcome describes an accepted claim.
type Outcome struct {
	Student  Student
	Record   Record
	Distance float64
}

// Recorder validates and persists attendance claims and controller edits.
type Recorder struct {
	base
}

// NewRecorder creates a recorder.
func NewRecorder(opts Options) *Recorder {
	return &Recorder{base: newBase("recorder", opts)}
}

// markState accumulates what the guards learn about a claim.
type markState struct {
	req      MarkRequest
	now      time.Time
	student  *Student
	session  *Session
	distance float64
}

// markGuard rejects a claim by returning an *Error, or lets it through.
type markGuard func(ctx context.Context, tx Store, st *markState) error

// guards run in this order and stop at the first rejection; the order decides
// which message a student sees.
func (r *Recorder) guards() []markGuard {
	return []markGuard{
		r.knownStudent,
		r.notMarkedToday,
		r.sessionOpen,
		r.withinGeofence,
		r.networkUnused,
	}
}

// Mark runs the guard chain and records the claim. The chain and the insert
// share one transaction holding the student's row lock, so concurrent claims
// by the same student serialize; the (session, student) unique constraint
// remains the final guard.
func (r *Recorder) Mark(ctx context.Context, req MarkRequest) (Outcome, error) {
	req.EnrollmentNo = NormalizeEnrollment(req.EnrollmentNo)
	if req.EnrollmentNo == "" {
		return Outcome{}, r.fail(ctx, "mark", NewValidationError("Enrollment number is required."))
	}
	if !geo.Valid(req.Latitude, req.Longitude) {
		return Outcome{}, r.fail(ctx, "mark", NewValidationError("Invalid location coordinates."))
	}

	st := &markState{req: req, now: req.Now.UTC()}
	if req.Now.IsZero() {
		st.now = r.now()
	}

	var rec Record
	err := r.store.Atomic(ctx, func(tx Store) error {
		for _, guard := range r.guards() {
			if err := guard(ctx, tx, st); err != nil {
				return err
			}
		}
		lat, lon := req.Latitude, req.Longitude
		var err error
		rec, err = tx.InsertRecord(ctx, Record{
			SessionID:     st.session.ID,
			StudentID:     st.student.ID,
			Timestamp:     st.now,
			Latitude:      &lat,
			Longitude:     &lon,
			SourceAddress: req.SourceAddress,
		})
		return err
	})
	if err != nil {
		return Outcome{}, r.fail(ctx, "mark", err, "enrollment_no", req.EnrollmentNo, "session_id", req.SessionID)
	}

	r.logger(ctx, "mark").Info("attendance marked",
		"student_id", st.student.ID, "session_id", st.session.ID, "distance_m", st.distance)
	r.emit(ctx, Event{
		Type:          EventAttendanceMarked,
		SessionID:     st.session.ID,
		StudentID:     st.student.ID,
		SourceAddress: req.SourceAddress,
		OccurredAt:    st.now,
	})
	return Outcome{Student: *st.student, Record: rec, Distance: st.distance}, nil
}

func (r *Recorder) knownStudent(ctx context.Context, tx Store, st *markState) error {
	student, err := tx.FindStudent(ctx, st.req.EnrollmentNo, r.class.BatchCode)
	if err != nil {
		return err
	}
	if student == nil {
		return NewNotFoundError(msgStudentNotFound)
	}
	if err := tx.LockStudent(ctx, student.ID); err != nil {
		return err
	}
	st.student = student
	return nil
}

// notMarkedToday spans every session of the UTC day, not just the requested
// one, so a second session the same day cannot be used to mark again.
func (r *Recorder) notMarkedToday(ctx context.Context, tx Store, st *markState) error {
	day := DayOf(st.now)
	found, err := tx.HasRecordBetween(ctx, st.student.ID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	if found {
		return newError(KindDuplicate, msgDuplicate)
	}
	return nil
}

func (r *Recorder) sessionOpen(ctx context.Context, tx Store, st *markState) error {
	session, err := tx.GetSession(ctx, st.req.SessionID)
	if err != nil {
		return err
	}
	if session == nil || !session.ActiveAt(st.now) || session.Geofence == nil {
		return newError(KindSessionExpired, msgSessionExpired)
	}
	st.session = session
	return nil
}

func (r *Recorder) withinGeofence(_ context.Context, _ Store, st *markState) error {
	center := st.session.Geofence
	st.distance = geo.Distance(st.req.Latitude, st.req.Longitude, center.Latitude, center.Longitude)
	if st.distance > r.class.GeofenceRadius {
		return errOutOfRange(st.distance, r.class.GeofenceRadius)
	}
	return nil
}

func (r *Recorder) networkUnused(ctx context.Context, tx Store, st *markState) error {
	used, err := tx.AddressUsed(ctx, st.session.ID, st.req.SourceAddress)
	if err != nil {
		return err
	}
	if used {
		return newError(KindNetworkAlreadyUsed, msgNetworkUsed)
	}
	return nil
}
