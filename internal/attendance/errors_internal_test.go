package attendance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: KindDuplicate},
		{name: "wrapped unique violation", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: KindDuplicate},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, want: KindUnavailable},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, want: KindUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: KindUnavailable},
		{name: "network", err: &net.OpError{Op: "dial", Err: errors.New("refused")}, want: KindUnavailable},
		{name: "syntax error", err: &pgconn.PgError{Code: "42601"}, want: KindInternal},
		{name: "plain", err: errors.New("boom"), want: KindInternal},
		{name: "bare kind", err: fmt.Errorf("x: %w", KindConflict), want: KindConflict},
		{name: "domain error", err: errOutOfRange(80, 50), want: KindOutOfRange},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			if KindOf(got) != tc.want {
				t.Fatalf("classify(%v) kind = %s, want %s", tc.err, KindOf(got), tc.want)
			}
			if !errors.Is(got, tc.want) {
				t.Fatalf("errors.Is(%v, %s) = false", got, tc.want)
			}
		})
	}
	if classify(nil) != nil {
		t.Fatal("classify(nil) != nil")
	}
}

func TestKindPresentation(t *testing.T) {
	tests := []struct {
		kind     Kind
		category string
	}{
		{KindDuplicate, "warning"},
		{KindConflict, "warning"},
		{KindValidation, "warning"},
		{KindNoActiveSession, "info"},
		{KindOutOfRange, "danger"},
		{KindUnavailable, "danger"},
	}
	for _, tc := range tests {
		if got := tc.kind.Category(); got != tc.category {
			t.Errorf("%s.Category() = %q, want %q", tc.kind, got, tc.category)
		}
	}
	if !KindUnavailable.Retryable() || KindInternal.Retryable() {
		t.Error("only storage_unavailable is retryable")
	}
}

func TestOutOfRangeMessage(t *testing.T) {
	err := errOutOfRange(123.4, 50)
	if err.Message != "You are 123m away. Move within 50m." {
		t.Fatalf("message = %q", err.Message)
	}
	if PublicMessage(fmt.Errorf("wrap: %w", err)) != err.Message {
		t.Fatal("PublicMessage lost the domain message")
	}
	if PublicMessage(errors.New("raw")) != msgInternal {
		t.Fatal("raw error must map to generic message")
	}
}

func TestDaysBetween(t *testing.T) {
	from, _ := ParseDay("2025-02-27")
	to, _ := ParseDay("2025-03-02")
	days := DaysBetween(from, to)
	if len(days) != 4 || days[3].Format(DateLayout) != "2025-03-02" {
		t.Fatalf("DaysBetween = %v", days)
	}
	if DaysBetween(to, from) != nil {
		t.Fatal("reversed range must be empty")
	}
	if _, err := ParseDay("02/03/2025"); KindOf(err) != KindValidation {
		t.Fatalf("bad date kind = %s", KindOf(err))
	}
}
