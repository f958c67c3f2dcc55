package reminder

import (
	"fmt"
	"strings"
	"time"
)

// DueLayout is the user-facing due time format, always UTC.
const DueLayout = "2006-01-02 15:04"

// ParseDue reads "YYYY-MM-DD HH:MM" as UTC.
func ParseDue(date, clock string) (time.Time, error) {
	raw := strings.TrimSpace(date) + " " + strings.TrimSpace(clock)
	t, err := time.ParseInLocation(DueLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: due time %q is not %s", ErrInvalid, raw, "YYYY-MM-DD HH:MM")
	}
	return t, nil
}

// FormatDue renders t the way ParseDue reads it.
func FormatDue(t time.Time) string {
	return t.UTC().Format(DueLayout)
}
