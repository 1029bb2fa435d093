package shared

import (
	"fmt"
	"time"
)

// Peers run different protocol revisions and emit timestamps in slightly
// different shapes. Every accepted layout, in preference order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp converts a wire timestamp into a comparable instant.
// Raw strings are never compared; feed ordering depends on this.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: '%s'", s)
}

// FormatTimestamp renders an instant in the canonical wire form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
