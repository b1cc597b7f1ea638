// Package timezone detects the client's IANA timezone.
package timezone

import (
	"os"
	"time"
	_ "time/tzdata"
)

// Detect returns the IANA zone of the process: $TZ when it names a loadable
// zone, then time.Local, falling back to UTC.
func Detect() string {
	if tz := os.Getenv("TZ"); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			return tz
		}
	}
	if name := time.Local.String(); name != "" && name != "Local" {
		return name
	}
	return "UTC"
}

// Fixed returns a detector that always reports tz (config override).
func Fixed(tz string) func() string {
	return func() string { return tz }
}
