package plugin

import (
	"strconv"
	"strings"

	"remindbot/pkg/tgui"
)

// Usage renders the standard bad-arguments reply.
func Usage(usage, example string) string {
	var m tgui.Msg
	m.Line(tgui.B("❌ Usage:"), " ", tgui.Code(usage))
	if example != "" {
		m.Blank().Line(tgui.B("Example:"), " ", tgui.Code(example))
	}
	return m.String()
}

// ParseID reads a positive decimal id.
func ParseID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// CutArgs splits the first n whitespace-separated words off s and returns
// them with the untouched remainder.
func CutArgs(s string, n int) ([]string, string) {
	var words []string
	rest := strings.TrimSpace(s)
	for len(words) < n && rest != "" {
		i := strings.IndexAny(rest, " \t\n")
		if i < 0 {
			words = append(words, rest)
			rest = ""
			break
		}
		words = append(words, rest[:i])
		rest = strings.TrimSpace(rest[i:])
	}
	return words, rest
}
