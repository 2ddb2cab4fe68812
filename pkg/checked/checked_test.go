package checked

import (
	"math"
	"testing"

	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
)

func TestAddUint64(t *testing.T) {
	got, err := AddUint64(40, 2)
	if err != nil || got != 42 {
		t.Fatalf("expected 42, got %d err=%v", got, err)
	}

	if _, err := AddUint64(math.MaxUint64, 1); !pkgerrors.HasCode(err, pkgerrors.CodeOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}

	// MaxUint64 + 0 is still representable.
	if _, err := AddUint64(math.MaxUint64, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSubUint64(t *testing.T) {
	got, err := SubUint64(42, 2)
	if err != nil || got != 40 {
		t.Fatalf("expected 40, got %d err=%v", got, err)
	}

	if _, err := SubUint64(1, 2); !pkgerrors.HasCode(err, pkgerrors.CodeUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}

	if got, err := SubUint64(2, 2); err != nil || got != 0 {
		t.Fatalf("expected 0, got %d err=%v", got, err)
	}
}

func TestMulUint64(t *testing.T) {
	got, err := MulUint64(6, 7)
	if err != nil || got != 42 {
		t.Fatalf("expected 42, got %d err=%v", got, err)
	}

	if _, err := MulUint64(math.MaxUint64, 2); !pkgerrors.HasCode(err, pkgerrors.CodeOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}

	if got, err := MulUint64(0, math.MaxUint64); err != nil || got != 0 {
		t.Fatalf("zero multiplication should never overflow, got %d err=%v", got, err)
	}
}

func TestUint32Arithmetic(t *testing.T) {
	if _, err := AddUint32(math.MaxUint32, 1); !pkgerrors.HasCode(err, pkgerrors.CodeOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := SubUint32(0, 1); !pkgerrors.HasCode(err, pkgerrors.CodeUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if got, err := AddUint32(1, 2); err != nil || got != 3 {
		t.Fatalf("expected 3, got %d err=%v", got, err)
	}
}

func TestAddInt64(t *testing.T) {
	if _, err := AddInt64(math.MaxInt64, 1); !pkgerrors.HasCode(err, pkgerrors.CodeOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := AddInt64(math.MinInt64, -1); !pkgerrors.HasCode(err, pkgerrors.CodeUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if got, err := AddInt64(100, -40); err != nil || got != 60 {
		t.Fatalf("expected 60, got %d err=%v", got, err)
	}
}
