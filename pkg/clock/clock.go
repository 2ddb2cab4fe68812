// Package clock abstracts wall-clock time so billing decisions can be
// driven by a deterministic source in tests and by real time in
// production.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

// System reads the host clock.
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always returns the same instant. Tests use it to pin the
// billing timeline.
type Fixed struct {
	Instant time.Time
}

func (f Fixed) Now() time.Time {
	return f.Instant
}

// At returns a Fixed clock pinned to the given epoch seconds.
func At(unix int64) Fixed {
	return Fixed{Instant: time.Unix(unix, 0).UTC()}
}
