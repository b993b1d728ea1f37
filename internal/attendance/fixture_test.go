package attendance_test

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"geoattend/internal/attendance"
	"geoattend/internal/geo"
	"geoattend/internal/queue"
	"geoattend/internal/testfixtures"
)

const (
	testClassID      = 1
	testBatch        = "BA-ANTH-2024"
	testControllerID = 7
	centerLat        = 28.6139
	centerLon        = 77.2090
)

// metersPerDegree is the haversine length of one degree of latitude.
var metersPerDegree = geo.EarthRadiusMeters * math.Pi / 180

// north returns the latitude that lies m meters north of the geofence center.
func north(m float64) float64 { return centerLat + m/metersPerDegree }

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.Type)
	}
	return out
}

type fixture struct {
	store    *testfixtures.MemStore
	clock    *testfixtures.Clock
	events   *recordingPublisher
	sessions *attendance.SessionManager
	recorder *attendance.Recorder
	agg      *attendance.Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  testfixtures.NewMemStore(),
		clock:  testfixtures.NewClock(time.Time{}),
		events: &recordingPublisher{},
	}
	opts := attendance.Options{
		Store:  f.store,
		Class:  attendance.Class{ID: testClassID, BatchCode: testBatch},
		Now:    f.clock.NowFunc(),
		Events: f.events,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	f.sessions = attendance.NewSessionManager(opts)
	f.recorder = attendance.NewRecorder(opts)
	f.agg = attendance.NewAggregator(opts)
	return f
}

func (f *fixture) student(t *testing.T, enrollmentNo, name string) attendance.Student {
	t.Helper()
	return f.store.AddStudent(enrollmentNo, name, testBatch)
}

func (f *fixture) start(t *testing.T) attendance.Session {
	t.Helper()
	s, err := f.sessions.Start(context.Background(), testControllerID, centerLat, centerLon)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return s
}

func (f *fixture) mark(sessionID int64, enrollmentNo string, lat float64, addr string) (attendance.Outcome, error) {
	return f.recorder.Mark(context.Background(), attendance.MarkRequest{
		SessionID:     sessionID,
		EnrollmentNo:  enrollmentNo,
		Latitude:      lat,
		Longitude:     centerLon,
		SourceAddress: addr,
	})
}

func wantKind(t *testing.T, err error, kind attendance.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := attendance.KindOf(err); got != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, got, err)
	}
}
