package adapter

import "strings"

// textLimit stays under Telegram's 4096 rune cap to leave room for entities.
const textLimit = 4000

// splitText cuts s into chunks of at most limit runes. It prefers a newline in
// the last two thirds of the window and, in HTML mode, never leaves a tag
// half-open at the end of a chunk.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var out []string
	for start := 0; start < len(rs); {
		end := cutPoint(rs, start, limit, html)
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func cutPoint(rs []rune, start, limit int, html bool) int {
	end := min(start+limit, len(rs))
	if end == len(rs) {
		return end
	}
	for i := end - 1; i-start >= limit/3; i-- {
		if rs[i] == '\n' {
			end = i + 1
			break
		}
	}
	if html {
		if open := danglingTag(rs[start:end]); open > 1 {
			end = start + open
		}
	}
	return end
}

// danglingTag returns the index of a '<' that has no matching '>' after it,
// or -1.
func danglingTag(rs []rune) int {
	open, closed := -1, -1
	for i, r := range rs {
		switch r {
		case '<':
			open = i
		case '>':
			closed = i
		}
	}
	if open > closed {
		return open
	}
	return -1
}
