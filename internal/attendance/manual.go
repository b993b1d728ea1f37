package attendance

import (
	"context"
	"time"
)

// SetPresentForDay marks the student present on day, bypassing geofence and
// network checks. When the class had no session that day an inactive,
// zero-length anchor session is created at midnight UTC to hold the record.
func (r *Recorder) SetPresentForDay(ctx context.Context, day time.Time, studentID, controllerID int64) error {
	day = DayOf(day)
	now := r.now()
	err := r.store.Atomic(ctx, func(tx Store) error {
		if err := r.requireStudent(ctx, tx, studentID); err != nil {
			return err
		}
		sessions, err := tx.SessionsBetween(ctx, r.class.ID, day, day.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		var anchor Session
		if len(sessions) > 0 {
			anchor = sessions[0]
		} else {
			anchor, err = tx.CreateSession(ctx, Session{
				ClassID:      r.class.ID,
				ControllerID: controllerID,
				Token:        "manual-" + randomToken(16),
				StartTime:    day,
				EndTime:      day,
				IsActive:     false,
			})
			if err != nil {
				return err
			}
		}
		_, err = tx.InsertRecordIfAbsent(ctx, Record{
			SessionID:     anchor.ID,
			StudentID:     studentID,
			Timestamp:     now,
			SourceAddress: ManualEditAddress,
		})
		return err
	})
	if err != nil {
		return r.fail(ctx, "set_present_for_day", err, "student_id", studentID, "date", day.Format(DateLayout))
	}
	r.emit(ctx, Event{
		Type:         EventManualEdit,
		StudentID:    studentID,
		ControllerID: controllerID,
		Date:         day.Format(DateLayout),
		Present:      boolPtr(true),
	})
	return nil
}

// SetAbsentForDay deletes the student's records in every session of day.
func (r *Recorder) SetAbsentForDay(ctx context.Context, day time.Time, studentID int64) error {
	day = DayOf(day)
	err := r.store.Atomic(ctx, func(tx Store) error {
		sessions, err := tx.SessionsBetween(ctx, r.class.ID, day, day.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			return nil
		}
		_, err = tx.DeleteRecords(ctx, sessionIDs(sessions), studentID)
		return err
	})
	if err != nil {
		return r.fail(ctx, "set_absent_for_day", err, "student_id", studentID, "date", day.Format(DateLayout))
	}
	r.emit(ctx, Event{
		Type:      EventManualEdit,
		StudentID: studentID,
		Date:      day.Format(DateLayout),
		Present:   boolPtr(false),
	})
	return nil
}

// SetPresentForSession marks the student present in one session.
func (r *Recorder) SetPresentForSession(ctx context.Context, sessionID, studentID int64) error {
	now := r.now()
	err := r.store.Atomic(ctx, func(tx Store) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return NewNotFoundError("Session not found.")
		}
		if err := r.requireStudent(ctx, tx, studentID); err != nil {
			return err
		}
		_, err = tx.InsertRecordIfAbsent(ctx, Record{
			SessionID:     sessionID,
			StudentID:     studentID,
			Timestamp:     now,
			SourceAddress: LiveEditAddress,
		})
		return err
	})
	if err != nil {
		return r.fail(ctx, "set_present_for_session", err, "student_id", studentID, "session_id", sessionID)
	}
	r.emit(ctx, Event{Type: EventManualEdit, SessionID: sessionID, StudentID: studentID, Present: boolPtr(true)})
	return nil
}

// SetAbsentForSession removes the student's record in one session.
func (r *Recorder) SetAbsentForSession(ctx context.Context, sessionID, studentID int64) error {
	if _, err := r.store.DeleteRecords(ctx, []int64{sessionID}, studentID); err != nil {
		return r.fail(ctx, "set_absent_for_session", err, "student_id", studentID, "session_id", sessionID)
	}
	r.emit(ctx, Event{Type: EventManualEdit, SessionID: sessionID, StudentID: studentID, Present: boolPtr(false)})
	return nil
}

// LookupName returns the display name for an enrollment number.
func (r *Recorder) LookupName(ctx context.Context, enrollmentNo string) (string, error) {
	enrollmentNo = NormalizeEnrollment(enrollmentNo)
	if enrollmentNo == "" {
		return "", r.fail(ctx, "lookup_name", NewValidationError("Enrollment number is required."))
	}
	student, err := r.store.FindStudent(ctx, enrollmentNo, r.class.BatchCode)
	if err != nil {
		return "", r.fail(ctx, "lookup_name", err)
	}
	if student == nil {
		return "", r.fail(ctx, "lookup_name", NewNotFoundError(msgStudentNotFound))
	}
	return student.Name, nil
}

func (r *Recorder) requireStudent(ctx context.Context, tx Store, studentID int64) error {
	student, err := tx.GetStudent(ctx, studentID, r.class.BatchCode)
	if err != nil {
		return err
	}
	if student == nil {
		return NewNotFoundError("Student not found.")
	}
	return nil
}
