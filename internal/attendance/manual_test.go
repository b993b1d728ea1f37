package attendance_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"geoattend/internal/attendance"
)

func TestSetPresentForDayCreatesAnchor(t *testing.T) {
	f := newFixture(t)
	a := f.student(t, "AIH001", "Asha")
	day := attendance.DayOf(f.clock.Now()).AddDate(0, 0, -3)

	for i := 0; i < 2; i++ {
		if err := f.recorder.SetPresentForDay(context.Background(), day.Add(15*time.Hour), a.ID, testControllerID); err != nil {
			t.Fatalf("set present #%d: %v", i, err)
		}
	}

	sessions := f.store.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("expected one anchor session, got %d", len(sessions))
	}
	anchor := sessions[0]
	if anchor.IsActive || anchor.Geofence != nil || !anchor.StartTime.Equal(day) || !anchor.EndTime.Equal(day) {
		t.Fatalf("unexpected anchor %+v", anchor)
	}
	if !strings.HasPrefix(anchor.Token, "manual-") || anchor.ControllerID != testControllerID {
		t.Fatalf("unexpected anchor identity %+v", anchor)
	}

	records := f.store.Records()
	if len(records) != 1 || records[0].SourceAddress != attendance.ManualEditAddress {
		t.Fatalf("unexpected records %+v", records)
	}

	// An anchor never accepts student claims.
	_, err := f.mark(anchor.ID, "AIH001", centerLat, "10.0.0.1")
	wantKind(t, err, attendance.KindSessionExpired)
}

func TestSetPresentThenAbsentForDay(t *testing.T) {
	f := newFixture(t)
	a := f.student(t, "AIH001", "Asha")
	b := f.student(t, "AIH002", "Bilal")
	day := attendance.DayOf(f.clock.Now())

	first := f.store.AddSession(pastSession(day.Add(1 * time.Hour)))
	second := f.store.AddSession(pastSession(day.Add(2 * time.Hour)))
	f.store.AddSession(pastSession(day.Add(3 * time.Hour)))
	f.store.AddRecord(attendance.Record{SessionID: second.ID, StudentID: a.ID, SourceAddress: "x"})
	f.store.AddRecord(attendance.Record{SessionID: first.ID, StudentID: b.ID, SourceAddress: "y"})

	ctx := context.Background()
	if err := f.recorder.SetPresentForDay(ctx, day, a.ID, testControllerID); err != nil {
		t.Fatalf("set present: %v", err)
	}
	if got := countRecords(f, a.ID); got != 2 {
		t.Fatalf("records after present = %d, want 2", got)
	}
	for i := 0; i < 2; i++ {
		if err := f.recorder.SetAbsentForDay(ctx, day, a.ID); err != nil {
			t.Fatalf("set absent #%d: %v", i, err)
		}
	}
	if got := countRecords(f, a.ID); got != 0 {
		t.Fatalf("records after absent = %d, want 0", got)
	}
	if got := countRecords(f, b.ID); got != 1 {
		t.Fatalf("other student's records = %d, want 1", got)
	}
	if len(f.store.Sessions()) != 3 {
		t.Fatal("absent toggle must not remove sessions")
	}
}

func TestSetPresentForDayRollsBack(t *testing.T) {
	f := newFixture(t)
	a := f.student(t, "AIH001", "Asha")
	f.store.FailOn("InsertRecordIfAbsent", errors.New("boom"))

	err := f.recorder.SetPresentForDay(context.Background(), f.clock.Now(), a.ID, testControllerID)
	wantKind(t, err, attendance.KindInternal)
	if len(f.store.Sessions()) != 0 {
		t.Fatal("anchor session survived a failed transaction")
	}
}

func TestSetPresentForDayUnknownStudent(t *testing.T) {
	f := newFixture(t)
	err := f.recorder.SetPresentForDay(context.Background(), f.clock.Now(), 404, testControllerID)
	wantKind(t, err, attendance.KindNotFound)
}

func TestSessionToggles(t *testing.T) {
	f := newFixture(t)
	a := f.student(t, "AIH001", "Asha")
	s := f.start(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := f.recorder.SetPresentForSession(ctx, s.ID, a.ID); err != nil {
			t.Fatalf("set present: %v", err)
		}
	}
	records := f.store.Records()
	if len(records) != 1 || records[0].SourceAddress != attendance.LiveEditAddress {
		t.Fatalf("unexpected records %+v", records)
	}

	if err := f.recorder.SetAbsentForSession(ctx, s.ID, a.ID); err != nil {
		t.Fatalf("set absent: %v", err)
	}
	if len(f.store.Records()) != 0 {
		t.Fatal("record survived absent toggle")
	}

	wantKind(t, f.recorder.SetPresentForSession(ctx, 999, a.ID), attendance.KindNotFound)
	wantKind(t, f.recorder.SetPresentForSession(ctx, s.ID, 999), attendance.KindNotFound)
}

func countRecords(f *fixture, studentID int64) int {
	n := 0
	for _, r := range f.store.Records() {
		if r.StudentID == studentID {
			n++
		}
	}
	return n
}
