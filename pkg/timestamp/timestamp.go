// Package timestamp provides the gateway's timestamp conventions.
//
// Metric samples and property updates carry int64 milliseconds since the Unix
// epoch (UTC). Side files written for external agents carry a second-precision
// "last seen" string without zone suffix, always in UTC.
//
// A timestamp value of 0 means "not set".
package timestamp

import (
	"time"
)

// LastSeenLayout is the layout of last-seen attributes in side files.
const LastSeenLayout = "2006-01-02T15:04:05"

// Clock returns the current time. Components accept one so tests can pin time.
type Clock func() time.Time

// SystemClock is the wall clock.
func SystemClock() time.Time { return time.Now() }

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time.
// Returns zero time if timestamp is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Format converts Unix milliseconds to RFC3339 string for display.
// Returns empty string if timestamp is 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return FromUnixMs(ms).Format(time.RFC3339Nano)
}

// LastSeen formats t in UTC using LastSeenLayout.
func LastSeen(t time.Time) string {
	return t.UTC().Format(LastSeenLayout)
}

// Since returns the duration since the given timestamp.
// Returns 0 if timestamp is zero.
func Since(ms int64) time.Duration {
	if ms == 0 {
		return 0
	}
	return time.Since(FromUnixMs(ms))
}
