package tracking

import (
	"strconv"
	"strings"
	"time"
)

var clientTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseClientTime parses a caller-supplied timestamp. It returns nil for
// empty or unparseable input; a bad value never fails a recording.
func parseClientTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	for _, layout := range clientTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
