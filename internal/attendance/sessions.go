package attendance

import (
	"context"
	"time"

	"geoattend/internal/geo"
)

// SessionManager opens, closes and reports attendance sessions for the class.
type SessionManager struct {
	base
}

// NewSessionManager creates a session manager.
func NewSessionManager(opts Options) *SessionManager {
	return &SessionManager{base: newBase("sessions", opts)}
}

// Start opens a session centred on (lat, lon). It fails with KindConflict
// while another session of the class is still live.
func (m *SessionManager) Start(ctx context.Context, controllerID int64, lat, lon float64) (Session, error) {
	if !geo.Valid(lat, lon) {
		return Session{}, m.fail(ctx, "start", NewValidationError("Invalid location coordinates."))
	}

	now := m.now()
	var created Session
	err := m.store.Atomic(ctx, func(tx Store) error {
		if err := tx.LockClass(ctx, m.class.ID); err != nil {
			return err
		}
		active, err := tx.ActiveSession(ctx, m.class.ID, now)
		if err != nil {
			return err
		}
		if active != nil {
			return newError(KindConflict, msgSessionExists)
		}
		created, err = tx.CreateSession(ctx, Session{
			ClassID:      m.class.ID,
			ControllerID: controllerID,
			Token:        randomToken(0),
			StartTime:    now,
			EndTime:      now.Add(m.class.SessionDuration),
			IsActive:     true,
			Geofence: &Geofence{
				Latitude:  lat,
				Longitude: lon,
				Radius:    m.class.GeofenceRadius,
			},
		})
		return err
	})
	if err != nil {
		return Session{}, m.fail(ctx, "start", err, "controller_id", controllerID)
	}

	m.logger(ctx, "start").Info("session started", "session_id", created.ID, "end_time", created.EndTime)
	m.emit(ctx, Event{Type: EventSessionStarted, SessionID: created.ID, ControllerID: controllerID, OccurredAt: now})
	return created, nil
}

// End closes a session. Ending an inactive or unknown session is a no-op.
func (m *SessionManager) End(ctx context.Context, sessionID int64) error {
	now := m.now()
	if err := m.store.CloseSession(ctx, sessionID, now); err != nil {
		return m.fail(ctx, "end", err, "session_id", sessionID)
	}
	m.emit(ctx, Event{Type: EventSessionEnded, SessionID: sessionID, OccurredAt: now})
	return nil
}

// Active returns the live session of the class, or nil.
func (m *SessionManager) Active(ctx context.Context) (*Session, error) {
	s, err := m.store.ActiveSession(ctx, m.class.ID, m.now())
	if err != nil {
		return nil, m.fail(ctx, "active", err)
	}
	return s, nil
}

// DeleteDay removes every session of the day together with its records and
// returns how many sessions were removed.
func (m *SessionManager) DeleteDay(ctx context.Context, day time.Time, controllerID int64) (int, error) {
	day = DayOf(day)
	var deleted int
	err := m.store.Atomic(ctx, func(tx Store) error {
		sessions, err := tx.SessionsBetween(ctx, m.class.ID, day, day.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			return nil
		}
		ids := sessionIDs(sessions)
		if _, err := tx.DeleteRecords(ctx, ids, 0); err != nil {
			return err
		}
		if err := tx.DeleteSessions(ctx, ids); err != nil {
			return err
		}
		deleted = len(ids)
		return nil
	})
	if err != nil {
		return 0, m.fail(ctx, "delete_day", err, "date", day.Format(DateLayout))
	}

	m.logger(ctx, "delete_day").Info("day deleted", "date", day.Format(DateLayout), "sessions", deleted)
	m.emit(ctx, Event{Type: EventDayDeleted, ControllerID: controllerID, Date: day.Format(DateLayout)})
	return deleted, nil
}
