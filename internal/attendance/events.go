package attendance

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"geoattend/internal/queue"
)

// Event types published for the audit trail.
const (
	EventSessionStarted   = "session.started"
	EventSessionEnded     = "session.ended"
	EventAttendanceMarked = "attendance.marked"
	EventManualEdit       = "attendance.manual_edit"
	EventDayDeleted       = "attendance.day_deleted"
)

// Event is the JSON body of an audit message.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	OccurredAt    time.Time `json:"occurred_at"`
	SessionID     int64     `json:"session_id,omitempty"`
	StudentID     int64     `json:"student_id,omitempty"`
	ControllerID  int64     `json:"controller_id,omitempty"`
	Date          string    `json:"date,omitempty"`
	SourceAddress string    `json:"source_address,omitempty"`
	Present       *bool     `json:"present,omitempty"`
}

// Publisher is satisfied by queue.Queue.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// DecodeEvent parses a queue message produced by this package.
func DecodeEvent(msg queue.Message) (Event, error) {
	var evt Event
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return Event{}, err
	}
	if evt.Type == "" {
		evt.Type = msg.Type
	}
	return evt, nil
}

// emit publishes evt after the owning transaction committed. Delivery is best
// effort: failures are logged and never reach the caller.
func (b *base) emit(ctx context.Context, evt Event) {
	if b.events == nil {
		return
	}
	evt.ID = ulid.Make().String()
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = b.now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		b.logger(ctx, "emit").Error("encode event failed", "type", evt.Type, "error", err)
		return
	}
	if err := b.events.Publish(ctx, queue.Message{Type: evt.Type, Body: body}); err != nil {
		b.logger(ctx, "emit").Warn("publish event failed", "type", evt.Type, "error", err)
	}
}

func boolPtr(v bool) *bool { return &v }
