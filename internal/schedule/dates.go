package schedule

import (
	"fmt"
	"time"
)

// DateKeyLayout is the canonical date key format used throughout the system.
// Keys in this form order lexicographically, which the store contracts rely on.
const DateKeyLayout = "2006-01-02"

// ParseDateKey parses a "YYYY-MM-DD" date key.
func ParseDateKey(key string) (time.Time, error) {
	t, err := time.Parse(DateKeyLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule: parse date key %q: %w", key, err)
	}
	return t, nil
}

// FormatDateKey renders t as a date key, dropping any time-of-day component.
func FormatDateKey(t time.Time) string {
	return t.Format(DateKeyLayout)
}

// AddDays returns the date key n days after key. n may be negative.
func AddDays(key string, n int) (string, error) {
	t, err := ParseDateKey(key)
	if err != nil {
		return "", err
	}
	return FormatDateKey(t.AddDate(0, 0, n)), nil
}

// Weekday returns the day of week for a date key.
func Weekday(key string) (time.Weekday, error) {
	t, err := ParseDateKey(key)
	if err != nil {
		return 0, err
	}
	return t.Weekday(), nil
}

// FormatFriendly renders a date key for user-facing messages
// (e.g. "Tue, Feb 17"). Falls back to the raw key when it does not parse.
func FormatFriendly(key string) string {
	t, err := ParseDateKey(key)
	if err != nil {
		return key
	}
	return t.Format("Mon, Jan 2")
}
