package models

import "time"

// TimeLayout is the wire format for timestamps (send times, join times,
// last-seen markers).
const TimeLayout = "01 02 2006, 15:04 -07:00"

// FormatTime renders a timestamp in the wire format.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// ParseTime parses a wire-format timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// Now is the current time in wire format.
func Now() string {
	return FormatTime(time.Now())
}
