package protocol

import (
	"strconv"
	"strings"
	"time"
)

// EncodeCursor renders t as decimal Unix microseconds.
func EncodeCursor(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

// ParseCursor accepts the cursors this server issues and older formats
// devices may still echo back: integers in seconds, milliseconds or
// microseconds (told apart by magnitude) and RFC 3339 timestamps.
func ParseCursor(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		switch {
		case n < 0:
			return time.Time{}, false
		case n < 1e11:
			return time.Unix(n, 0).UTC(), true
		case n < 1e14:
			return time.UnixMilli(n).UTC(), true
		default:
			return time.UnixMicro(n).UTC(), true
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
