package attendance

import (
	"context"
	"sort"
	"time"
)

// Status is a student's presence on one day of the daily report.
type Status string

const (
	StatusPresent Status = "Present"
	StatusAbsent  Status = "Absent"
)

// Mark is one cell of the export grid.
type Mark string

const (
	MarkPresent Mark = "P"
	MarkAbsent  Mark = "A"
	MarkHoliday Mark = "H"
)

// RosterEntry is a student annotated with presence.
type RosterEntry struct {
	Student
	IsPresent bool `json:"is_present"`
}

// DayStatus holds one report day; Statuses is aligned with DailyReport.Students.
type DayStatus struct {
	Date     time.Time
	Statuses []Status
}

// DailyReport is the present/absent grid over every day that had a session,
// newest day first.
type DailyReport struct {
	Students []Student
	Days     []DayStatus
}

// MatrixRow is one student's line of the export grid.
type MatrixRow struct {
	Student     Student
	Marks       []Mark
	PresentDays int
	Percentage  float64
}

// Matrix is the export grid over an inclusive date range.
type Matrix struct {
	From        time.Time
	To          time.Time
	Dates       []time.Time
	SessionDays int
	Rows        []MatrixRow
}

// Aggregator derives presence sets and report grids from recorded attendance.
type Aggregator struct {
	base
}

// NewAggregator creates an aggregator.
func NewAggregator(opts Options) *Aggregator {
	return &Aggregator{base: newBase("aggregator", opts)}
}

// PresentForSession lists students with a record in the session, by name.
func (a *Aggregator) PresentForSession(ctx context.Context, sessionID int64) ([]Student, error) {
	students, err := a.store.PresentStudents(ctx, []int64{sessionID})
	if err != nil {
		return nil, a.fail(ctx, "present_for_session", err, "session_id", sessionID)
	}
	return students, nil
}

// PresentForDay lists students present in any session of day, by name.
func (a *Aggregator) PresentForDay(ctx context.Context, day time.Time) ([]Student, error) {
	day = DayOf(day)
	sessions, err := a.store.SessionsBetween(ctx, a.class.ID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, a.fail(ctx, "present_for_day", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	students, err := a.store.PresentStudents(ctx, sessionIDs(sessions))
	if err != nil {
		return nil, a.fail(ctx, "present_for_day", err)
	}
	return students, nil
}

// RosterForDay returns the whole batch annotated with presence on day.
func (a *Aggregator) RosterForDay(ctx context.Context, day time.Time) ([]RosterEntry, error) {
	present, err := a.PresentForDay(ctx, day)
	if err != nil {
		return nil, err
	}
	return a.roster(ctx, "roster_for_day", present)
}

// RosterForSession returns the whole batch annotated with presence in the
// session.
func (a *Aggregator) RosterForSession(ctx context.Context, sessionID int64) ([]RosterEntry, error) {
	present, err := a.PresentForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return a.roster(ctx, "roster_for_session", present)
}

func (a *Aggregator) roster(ctx context.Context, operation string, present []Student) ([]RosterEntry, error) {
	students, err := a.store.ListStudents(ctx, a.class.BatchCode)
	if err != nil {
		return nil, a.fail(ctx, operation, err)
	}
	ids := make(map[int64]bool, len(present))
	for _, s := range present {
		ids[s.ID] = true
	}
	out := make([]RosterEntry, 0, len(students))
	for _, s := range students {
		out = append(out, RosterEntry{Student: s, IsPresent: ids[s.ID]})
	}
	return out, nil
}

// DailyMatrix reports every enrolled student's status on each day that had at
// least one session.
func (a *Aggregator) DailyMatrix(ctx context.Context) (DailyReport, error) {
	snap, err := a.load(ctx)
	if err != nil {
		return DailyReport{}, a.fail(ctx, "daily_matrix", err)
	}

	days := make([]time.Time, 0, len(snap.sessionDays))
	for d := range snap.sessionDays {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })

	report := DailyReport{Students: snap.students, Days: make([]DayStatus, 0, len(days))}
	for _, d := range days {
		statuses := make([]Status, len(snap.students))
		for i, s := range snap.students {
			statuses[i] = StatusAbsent
			if snap.present[dayKey{studentID: s.ID, day: d}] {
				statuses[i] = StatusPresent
			}
		}
		report.Days = append(report.Days, DayStatus{Date: d, Statuses: statuses})
	}
	return report, nil
}

// FullMatrix builds the P/A/H grid over [from, to]. A date without any session
// is a holiday and does not count toward the percentage denominator.
func (a *Aggregator) FullMatrix(ctx context.Context, from, to time.Time) (Matrix, error) {
	snap, err := a.load(ctx)
	if err != nil {
		return Matrix{}, a.fail(ctx, "full_matrix", err)
	}
	return snap.matrix(from, to), nil
}

// ExportMatrix builds the grid from the first session day through today
// (UTC). ok is false when the class has no sessions yet.
func (a *Aggregator) ExportMatrix(ctx context.Context) (m Matrix, ok bool, err error) {
	snap, err := a.load(ctx)
	if err != nil {
		return Matrix{}, false, a.fail(ctx, "export_matrix", err)
	}
	if snap.firstDay.IsZero() {
		return Matrix{}, false, nil
	}
	to := DayOf(a.now())
	if to.Before(snap.firstDay) {
		to = snap.firstDay
	}
	return snap.matrix(snap.firstDay, to), true, nil
}

type dayKey struct {
	studentID int64
	day       time.Time
}

type snapshot struct {
	students    []Student
	sessionDays map[time.Time]bool
	present     map[dayKey]bool
	firstDay    time.Time
}

func (a *Aggregator) load(ctx context.Context) (snapshot, error) {
	students, err := a.store.ListStudents(ctx, a.class.BatchCode)
	if err != nil {
		return snapshot{}, err
	}
	sessions, err := a.store.ListSessions(ctx, a.class.ID)
	if err != nil {
		return snapshot{}, err
	}
	presence, err := a.store.ListPresence(ctx, a.class.ID)
	if err != nil {
		return snapshot{}, err
	}

	snap := snapshot{
		students:    students,
		sessionDays: make(map[time.Time]bool),
		present:     make(map[dayKey]bool),
	}
	sessionDay := make(map[int64]time.Time, len(sessions))
	for _, s := range sessions {
		d := s.Day()
		sessionDay[s.ID] = d
		snap.sessionDays[d] = true
		if snap.firstDay.IsZero() || d.Before(snap.firstDay) {
			snap.firstDay = d
		}
	}
	for _, p := range presence {
		if d, ok := sessionDay[p.SessionID]; ok {
			snap.present[dayKey{studentID: p.StudentID, day: d}] = true
		}
	}
	return snap, nil
}

func (s snapshot) matrix(from, to time.Time) Matrix {
	dates := DaysBetween(from, to)
	m := Matrix{From: DayOf(from), To: DayOf(to), Dates: dates}
	for _, d := range dates {
		if s.sessionDays[d] {
			m.SessionDays++
		}
	}

	m.Rows = make([]MatrixRow, 0, len(s.students))
	for _, st := range s.students {
		row := MatrixRow{Student: st, Marks: make([]Mark, len(dates))}
		for i, d := range dates {
			switch {
			case !s.sessionDays[d]:
				row.Marks[i] = MarkHoliday
			case s.present[dayKey{studentID: st.ID, day: d}]:
				row.Marks[i] = MarkPresent
				row.PresentDays++
			default:
				row.Marks[i] = MarkAbsent
			}
		}
		if m.SessionDays > 0 {
			row.Percentage = float64(row.PresentDays) / float64(m.SessionDays) * 100
		}
		m.Rows = append(m.Rows, row)
	}
	return m
}
