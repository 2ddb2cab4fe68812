// Package checked provides overflow-checked integer arithmetic for
// billing amounts and counters. All money amounts are integers in the
// token's smallest unit; any operation that would wrap returns a coded
// error instead of a silently corrupted value.
package checked

import (
	"math"

	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
)

// AddUint64 returns a + b or an overflow error.
func AddUint64(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, pkgerrors.New(pkgerrors.CodeOverflow, "uint64 addition overflow")
	}
	return a + b, nil
}

// SubUint64 returns a - b or an underflow error.
func SubUint64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, pkgerrors.New(pkgerrors.CodeUnderflow, "uint64 subtraction underflow")
	}
	return a - b, nil
}

// MulUint64 returns a * b or an overflow error.
func MulUint64(a, b uint64) (uint64, error) {
	if a != 0 && b > math.MaxUint64/a {
		return 0, pkgerrors.New(pkgerrors.CodeOverflow, "uint64 multiplication overflow")
	}
	return a * b, nil
}

// AddUint32 returns a + b or an overflow error.
func AddUint32(a, b uint32) (uint32, error) {
	if a > math.MaxUint32-b {
		return 0, pkgerrors.New(pkgerrors.CodeOverflow, "uint32 addition overflow")
	}
	return a + b, nil
}

// SubUint32 returns a - b or an underflow error.
func SubUint32(a, b uint32) (uint32, error) {
	if b > a {
		return 0, pkgerrors.New(pkgerrors.CodeUnderflow, "uint32 subtraction underflow")
	}
	return a - b, nil
}

// AddInt64 returns a + b or an overflow error. Used for epoch-second
// schedule math where both operands are expected to be non-negative.
func AddInt64(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, pkgerrors.New(pkgerrors.CodeOverflow, "int64 addition overflow")
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, pkgerrors.New(pkgerrors.CodeUnderflow, "int64 addition underflow")
	}
	return a + b, nil
}
