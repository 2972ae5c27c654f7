package security

import (
	"os"
	"time"
)

// KeyAge returns how long ago the signing key file at path was last
// replaced. Inline PEM (no backing file) reports zero age and false.
func KeyAge(path string, now time.Time) (time.Duration, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return now.Sub(info.ModTime()), true
}

// RotationOverdue reports whether the signing key file is older than the
// configured rotation interval. The server logs a warning; it never refuses
// to start, since forced downtime is worse than a stale key.
func RotationOverdue(path string, interval time.Duration, now time.Time) bool {
	if interval <= 0 {
		return false
	}
	age, ok := KeyAge(path, now)
	return ok && age > interval
}
