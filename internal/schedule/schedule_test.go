package schedule

import (
	"math"
	"testing"

	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
)

func TestEvaluateWindow(t *testing.T) {
	const next = int64(1_000_000)

	tests := []struct {
		name string
		now  int64
		want Status
	}{
		{name: "one second early", now: next - 1, want: StatusNotDue},
		{name: "exactly due", now: next, want: StatusDue},
		{name: "inside grace", now: next + GraceSeconds/2, want: StatusDue},
		{name: "grace boundary", now: next + GraceSeconds, want: StatusDue},
		{name: "one past grace", now: next + GraceSeconds + 1, want: StatusLapsed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.now, next)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCheckCodes(t *testing.T) {
	const next = int64(1_000_000)

	if err := Check(next-1, next); !pkgerrors.HasCode(err, pkgerrors.CodePaymentNotDue) {
		t.Fatalf("expected not-due error, got %v", err)
	}
	if err := Check(next, next); err != nil {
		t.Fatalf("due payment should pass, got %v", err)
	}
	if err := Check(next+GraceSeconds+1, next); !pkgerrors.HasCode(err, pkgerrors.CodePaymentTooLate) {
		t.Fatalf("expected too-late error, got %v", err)
	}
}

func TestGraceBoundaryOverflow(t *testing.T) {
	if _, err := Evaluate(0, math.MaxInt64-1); !pkgerrors.HasCode(err, pkgerrors.CodeOverflow) {
		t.Fatalf("expected overflow on grace computation, got %v", err)
	}
}

func TestNextTime(t *testing.T) {
	next, err := NextTime(100, 30)
	if err != nil || next != 130 {
		t.Fatalf("expected 130, got %d err=%v", next, err)
	}
	if _, err := NextTime(math.MaxInt64, 1); !pkgerrors.HasCode(err, pkgerrors.CodeOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}
