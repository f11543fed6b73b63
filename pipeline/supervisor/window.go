// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package supervisor

import "time"

// Window is the part of the day a stage is allowed to run in. The
// scraping stages split the day so the heavy night work never competes
// with the daytime loop.
type Window int

const (
	// Always never gates the stage.
	Always Window = iota
	// Day covers [10:00, 22:00) local time.
	Day
	// Night is the complement of Day.
	Night
)

const (
	dayStartHour = 10
	dayEndHour   = 22
)

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	hour := t.Hour()
	day := hour >= dayStartHour && hour < dayEndHour
	switch w {
	case Day:
		return day
	case Night:
		return !day
	default:
		return true
	}
}

// String returns the window's name.
func (w Window) String() string {
	switch w {
	case Day:
		return "day"
	case Night:
		return "night"
	default:
		return "always"
	}
}
