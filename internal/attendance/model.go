package attendance

import (
	"strings"
	"time"
)

// DateLayout is the wire format for calendar days.
const DateLayout = "2006-01-02"

// Source addresses stored for controller edits instead of a client address.
const (
	ManualEditAddress = "Manual Edit"
	LiveEditAddress   = "Live Edit"
)

// Class is the single class this deployment takes attendance for.
type Class struct {
	ID              int64
	BatchCode       string
	GeofenceRadius  float64
	SessionDuration time.Duration
}

// Student is reference data owned by external administration.
type Student struct {
	ID           int64  `json:"id"`
	EnrollmentNo string `json:"enrollment_no"`
	Name         string `json:"name"`
	Batch        string `json:"batch"`
}

// Geofence is the circle a presence claim must fall inside.
type Geofence struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Radius    float64 `json:"radius"`
}

// Session is a time-boxed attendance window. Manual anchor sessions carry no
// geofence.
type Session struct {
	ID           int64     `json:"id"`
	ClassID      int64     `json:"class_id"`
	ControllerID int64     `json:"controller_id"`
	Token        string    `json:"-"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	IsActive     bool      `json:"is_active"`
	Geofence     *Geofence `json:"geofence,omitempty"`
}

// ActiveAt reports whether the session accepts submissions at now. Expiry is
// evaluated lazily from EndTime; nothing flips IsActive when time runs out.
func (s Session) ActiveAt(now time.Time) bool {
	return s.IsActive && s.EndTime.After(now)
}

// Day is the UTC calendar date the session belongs to.
func (s Session) Day() time.Time { return DayOf(s.StartTime) }

// Record is one student's presence in one session.
type Record struct {
	ID            int64     `json:"id"`
	SessionID     int64     `json:"session_id"`
	StudentID     int64     `json:"student_id"`
	Timestamp     time.Time `json:"timestamp"`
	Latitude      *float64  `json:"latitude,omitempty"`
	Longitude     *float64  `json:"longitude,omitempty"`
	SourceAddress string    `json:"ip_address"`
}

// Presence links a record's session and student for aggregation.
type Presence struct {
	SessionID int64
	StudentID int64
}

// DayOf truncates t to midnight of its UTC calendar date.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a UTC day.
func ParseDay(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, NewValidationError("Invalid date format, expected YYYY-MM-DD.")
	}
	return d, nil
}

// DaysBetween lists every day from..to inclusive. It returns nil when to is
// before from.
func DaysBetween(from, to time.Time) []time.Time {
	from, to = DayOf(from), DayOf(to)
	if to.Before(from) {
		return nil
	}
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// NormalizeEnrollment canonicalizes user-typed enrollment numbers.
func NormalizeEnrollment(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
