package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"geoattend/internal/attendance"
	"geoattend/internal/queue"
)

type fakeAuditStore struct {
	mu     sync.Mutex
	events []attendance.Event
	err    error
}

func (s *fakeAuditStore) InsertAudit(_ context.Context, evt attendance.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, evt)
	return nil
}

type countingRecorder struct {
	mu      sync.Mutex
	results map[string]int
	total   int
}

func (r *countingRecorder) Audit(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string]int)
	}
	r.results[result]++
	r.total++
}

func (r *countingRecorder) count(result string) (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[result], r.total
}

func eventMessage(t *testing.T, evt attendance.Event) queue.Message {
	t.Helper()
	body, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return queue.Message{Type: evt.Type, Body: body}
}

func runAuditor(t *testing.T, store AuditStore, msgs ...queue.Message) *countingRecorder {
	t.Helper()
	q := queue.NewInMemory(len(msgs) + 1)
	for _, m := range msgs {
		if err := q.Publish(context.Background(), m); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	rec := &countingRecorder{}
	a := &Auditor{
		Queue:   q,
		Store:   store,
		Metrics: rec,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, total := rec.count(""); total == len(msgs) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("auditor did not drain the queue")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	return rec
}

func TestAuditorStoresEvents(t *testing.T) {
	store := &fakeAuditStore{}
	present := true
	rec := runAuditor(t, store,
		eventMessage(t, attendance.Event{ID: "01A", Type: attendance.EventAttendanceMarked, SessionID: 4, StudentID: 9}),
		eventMessage(t, attendance.Event{ID: "01B", Type: attendance.EventSessionEnded, SessionID: 4}),
		eventMessage(t, attendance.Event{ID: "01C", Type: attendance.EventSessionEnded, Present: &present}),
	)

	if stored, _ := rec.count("stored"); stored != 3 {
		t.Fatalf("expected 3 stored, got %d", stored)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.events) != 3 || store.events[0].ID != "01A" || store.events[0].StudentID != 9 {
		t.Fatalf("unexpected events %+v", store.events)
	}
}

func TestAuditorCountsFailures(t *testing.T) {
	store := &fakeAuditStore{err: errors.New("connection refused")}
	rec := runAuditor(t, store,
		queue.Message{Type: "attendance.marked", Body: []byte("{not json")},
		queue.Message{Type: "attendance.marked", Body: []byte(`{"type":"attendance.marked"}`)},
		eventMessage(t, attendance.Event{ID: "01D", Type: attendance.EventSessionStarted}),
	)

	if malformed, _ := rec.count("malformed"); malformed != 2 {
		t.Fatalf("expected 2 malformed, got %d", malformed)
	}
	if failed, _ := rec.count("failed"); failed != 1 {
		t.Fatalf("expected 1 failed, got %d", failed)
	}
}
