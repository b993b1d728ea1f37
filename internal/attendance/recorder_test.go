package attendance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"geoattend/internal/attendance"
)

func TestMarkGeofence(t *testing.T) {
	cases := []struct {
		name    string
		meters  float64
		inRange bool
	}{
		{name: "at center", meters: 0, inRange: true},
		{name: "well inside", meters: 12.5, inRange: true},
		{name: "just inside", meters: 49.9, inRange: true},
		{name: "just outside", meters: 50.5, inRange: false},
		{name: "across campus", meters: 420, inRange: false},
		{name: "another city", meters: 25000, inRange: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.student(t, "AIH001", "Asha")
			session := f.start(t)

			out, err := f.mark(session.ID, "AIH001", north(tc.meters), "10.0.0.1")
			if tc.inRange {
				if err != nil {
					t.Fatalf("mark: %v", err)
				}
				if out.Record.SourceAddress != "10.0.0.1" || out.Record.SessionID != session.ID {
					t.Fatalf("unexpected record %+v", out.Record)
				}
				return
			}
			wantKind(t, err, attendance.KindOutOfRange)
			var domain *attendance.Error
			if !errors.As(err, &domain) {
				t.Fatalf("expected *attendance.Error, got %T", err)
			}
			if domain.Distance < attendance.DefaultGeofenceRadius {
				t.Fatalf("distance %.2f below radius", domain.Distance)
			}
			if len(f.store.Records()) != 0 {
				t.Fatal("rejected claim left a record")
			}
		})
	}
}

func TestMarkOncePerDayAcrossSessions(t *testing.T) {
	f := newFixture(t)
	f.student(t, "AIH001", "Asha")

	first := f.start(t)
	if _, err := f.mark(first.ID, "aih001 ", centerLat, "10.0.0.1"); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if _, err := f.mark(first.ID, "AIH001", centerLat, "10.0.0.2"); err == nil {
		t.Fatal("second mark in same session accepted")
	} else {
		wantKind(t, err, attendance.KindDuplicate)
	}

	if err := f.sessions.End(context.Background(), first.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	f.clock.Advance(2 * time.Hour)
	second := f.start(t)
	_, err := f.mark(second.ID, "AIH001", centerLat, "10.0.0.3")
	wantKind(t, err, attendance.KindDuplicate)

	f.clock.Advance(24 * time.Hour)
	next := f.start(t)
	if _, err := f.mark(next.ID, "AIH001", centerLat, "10.0.0.3"); err != nil {
		t.Fatalf("mark on following day: %v", err)
	}
}

func TestMarkNetworkReuse(t *testing.T) {
	f := newFixture(t)
	f.student(t, "AIH001", "Asha")
	f.student(t, "AIH002", "Bilal")
	session := f.start(t)

	if _, err := f.mark(session.ID, "AIH001", centerLat, "203.0.113.9"); err != nil {
		t.Fatalf("first student: %v", err)
	}
	_, err := f.mark(session.ID, "AIH002", centerLat, "203.0.113.9")
	wantKind(t, err, attendance.KindNetworkAlreadyUsed)

	if _, err := f.mark(session.ID, "AIH002", centerLat, "203.0.113.10"); err != nil {
		t.Fatalf("other address: %v", err)
	}
}

func TestMarkRejections(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, f *fixture) (sessionID int64, enrollmentNo string, lat float64)
		want    attendance.Kind
	}{
		{
			name: "unknown student",
			prepare: func(t *testing.T, f *fixture) (int64, string, float64) {
				return f.start(t).ID, "NOPE", centerLat
			},
			want: attendance.KindNotFound,
		},
		{
			name: "student of another batch",
			prepare: func(t *testing.T, f *fixture) (int64, string, float64) {
				f.store.AddStudent("OTH001", "Other", "OTHER-BATCH")
				return f.start(t).ID, "OTH001", centerLat
			},
			want: attendance.KindNotFound,
		},
		{
			name: "unknown session",
			prepare: func(t *testing.T, f *fixture) (int64, string, float64) {
				return 999, "AIH001", centerLat
			},
			want: attendance.KindSessionExpired,
		},
		{
			name: "naturally expired session",
			prepare: func(t *testing.T, f *fixture) (int64, string, float64) {
				s := f.start(t)
				f.clock.Advance(attendance.DefaultSessionDuration + time.Second)
				return s.ID, "AIH001", centerLat
			},
			want: attendance.KindSessionExpired,
		},
		{
			name: "ended session",
			prepare: func(t *testing.T, f *fixture) (int64, string, float64) {
				s := f.start(t)
				if err := f.sessions.End(context.Background(), s.ID); err != nil {
					t.Fatalf("end: %v", err)
				}
				return s.ID, "AIH001", centerLat
			},
			want: attendance.KindSessionExpired,
		},
		{
			name: "invalid latitude",
			prepare: func(t *testing.T, f *fixture) (int64, string, float64) {
				return f.start(t).ID, "AIH001", 91
			},
			want: attendance.KindValidation,
		},
		{
			name: "blank enrollment",
			prepare: func(t *testing.T, f *fixture) (int64, string, float64) {
				return f.start(t).ID, "   ", centerLat
			},
			want: attendance.KindValidation,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.student(t, "AIH001", "Asha")
			sessionID, enrollmentNo, lat := tc.prepare(t, f)
			_, err := f.mark(sessionID, enrollmentNo, lat, "10.0.0.1")
			wantKind(t, err, tc.want)
			if len(f.store.Records()) != 0 {
				t.Fatal("rejected claim left a record")
			}
		})
	}
}

func TestMarkCheckOrder(t *testing.T) {
	f := newFixture(t)
	f.student(t, "AIH001", "Asha")
	session := f.start(t)
	if _, err := f.mark(session.ID, "AIH001", centerLat, "10.0.0.1"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	// Already marked wins over an expired session and an out-of-range claim.
	f.clock.Advance(time.Hour)
	_, err := f.mark(session.ID, "AIH001", north(1000), "10.0.0.1")
	wantKind(t, err, attendance.KindDuplicate)

	// Out of range wins over network reuse.
	f.student(t, "AIH002", "Bilal")
	f.student(t, "AIH003", "Chen")
	fresh := f.start(t)
	if _, err := f.mark(fresh.ID, "AIH003", centerLat, "10.0.0.9"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	_, err = f.mark(fresh.ID, "AIH002", north(1000), "10.0.0.9")
	wantKind(t, err, attendance.KindOutOfRange)
	_, err = f.mark(fresh.ID, "AIH002", centerLat, "10.0.0.9")
	wantKind(t, err, attendance.KindNetworkAlreadyUsed)
}

func TestMarkStorageFailures(t *testing.T) {
	tests := []struct {
		name  string
		fault error
		want  attendance.Kind
	}{
		{name: "timeout", fault: context.DeadlineExceeded, want: attendance.KindUnavailable},
		{name: "unexpected", fault: errors.New("disk on fire"), want: attendance.KindInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.student(t, "AIH001", "Asha")
			session := f.start(t)
			f.store.FailOn("InsertRecord", tc.fault)

			_, err := f.mark(session.ID, "AIH001", centerLat, "10.0.0.1")
			wantKind(t, err, tc.want)
			if msg := attendance.PublicMessage(err); msg == tc.fault.Error() {
				t.Fatalf("raw storage error leaked: %q", msg)
			}
		})
	}
}

func TestMarkPublishesEvent(t *testing.T) {
	f := newFixture(t)
	f.student(t, "AIH001", "Asha")
	session := f.start(t)
	if _, err := f.mark(session.ID, "AIH001", centerLat, "10.0.0.1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	got := f.events.types()
	want := []string{attendance.EventSessionStarted, attendance.EventAttendanceMarked}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}

	evt, err := attendance.DecodeEvent(f.events.msgs[1])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.ID == "" || evt.SessionID != session.ID || evt.SourceAddress != "10.0.0.1" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestLookupName(t *testing.T) {
	f := newFixture(t)
	f.student(t, "AIH001", "Asha")

	name, err := f.recorder.LookupName(context.Background(), " aih001")
	if err != nil || name != "Asha" {
		t.Fatalf("LookupName = %q, %v", name, err)
	}
	_, err = f.recorder.LookupName(context.Background(), "AIH404")
	wantKind(t, err, attendance.KindNotFound)
}
