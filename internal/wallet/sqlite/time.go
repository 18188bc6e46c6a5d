package sqlite

import (
	"fmt"
	"time"
)

// SQLite has no native datetime type; timestamps are RFC3339 TEXT.

func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func formatRFC3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nowRFC3339() string {
	return formatRFC3339(time.Now())
}
