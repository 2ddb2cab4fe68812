// Package schedule decides whether a recurring payment may be
// collected at a given instant. All times are epoch seconds.
package schedule

import (
	"github.com/angelmondragon/circulum-backend/pkg/checked"
	pkgerrors "github.com/angelmondragon/circulum-backend/pkg/errors"
)

// GraceSeconds is how long past the due time a payment may still be
// collected before the cycle is considered lapsed.
const GraceSeconds int64 = 7 * 24 * 3600

// Status classifies an instant relative to a subscription's due time.
type Status int

const (
	StatusNotDue Status = iota
	StatusDue
	StatusLapsed
)

func (s Status) String() string {
	switch s {
	case StatusNotDue:
		return "not_due"
	case StatusDue:
		return "due"
	case StatusLapsed:
		return "lapsed"
	default:
		return "unknown"
	}
}

// Evaluate classifies now against the next payment time. The window is
// inclusive on both ends: a payment exactly at the due time or exactly
// at the grace boundary is collectable.
func Evaluate(now, nextPaymentTime int64) (Status, error) {
	if now < nextPaymentTime {
		return StatusNotDue, nil
	}
	deadline, err := checked.AddInt64(nextPaymentTime, GraceSeconds)
	if err != nil {
		return StatusNotDue, err
	}
	if now > deadline {
		return StatusLapsed, nil
	}
	return StatusDue, nil
}

// Check returns nil when collection is permitted and a coded error
// otherwise.
func Check(now, nextPaymentTime int64) error {
	status, err := Evaluate(now, nextPaymentTime)
	if err != nil {
		return err
	}
	switch status {
	case StatusNotDue:
		return pkgerrors.New(pkgerrors.CodePaymentNotDue, "payment is not due yet")
	case StatusLapsed:
		return pkgerrors.New(pkgerrors.CodePaymentTooLate, "payment window has lapsed")
	default:
		return nil
	}
}

// NextTime computes the due time of the cycle after a collection at
// now.
func NextTime(now, intervalSeconds int64) (int64, error) {
	return checked.AddInt64(now, intervalSeconds)
}
