package attendance

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/logging"
)

// Defaults applied when Class leaves a field zero.
const (
	DefaultGeofenceRadius  = 50.0
	DefaultSessionDuration = 5 * time.Minute
)

// Options wires the attendance services. Store and Class are required.
type Options struct {
	Store  Store
	Class  Class
	Now    func() time.Time
	Events Publisher
	Logger *slog.Logger
}

// base holds what every service shares. Nothing here caches sessions or
// records; each call reads the store fresh.
type base struct {
	name   string
	store  Store
	class  Class
	clock  func() time.Time
	events Publisher
	log    *slog.Logger
}

func newBase(name string, opts Options) base {
	class := opts.Class
	if class.GeofenceRadius <= 0 {
		class.GeofenceRadius = DefaultGeofenceRadius
	}
	if class.SessionDuration <= 0 {
		class.SessionDuration = DefaultSessionDuration
	}
	clock := opts.Now
	if clock == nil {
		clock = time.Now
	}
	return base{
		name:   name,
		store:  opts.Store,
		class:  class,
		clock:  clock,
		events: opts.Events,
		log:    opts.Logger,
	}
}

func (b *base) now() time.Time { return b.clock().UTC() }

func (b *base) logger(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	pairs := append([]any{"service", b.name, "operation", operation}, attrs...)
	return logging.FromContext(ctx, b.log).With(pairs...)
}

// fail classifies err and logs it at a level matching its kind.
func (b *base) fail(ctx context.Context, operation string, err error, attrs ...any) error {
	err = classify(err)
	kind := KindOf(err)
	logger := b.logger(ctx, operation, attrs...)
	switch kind {
	case KindInternal, KindUnavailable:
		logger.Error("operation failed", "kind", string(kind), "error", err)
	default:
		logger.Info("request rejected", "kind", string(kind), "reason", PublicMessage(err))
	}
	return err
}

func randomToken(n int) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > 0 && n < len(token) {
		return token[:n]
	}
	return token
}

func sessionIDs(sessions []Session) []int64 {
	ids := make([]int64, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	return ids
}
