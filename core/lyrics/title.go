package lyrics

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxTitleLength is the longest title, in characters, accepted from a [Title] block.
const MaxTitleLength = 100

// titleMarker matches "[Title]", "[Title]: x", "[Title: x]" at the start of a line.
var titleMarker = regexp.MustCompile(`(?i)^\[\s*title\s*(?::\s*([^\]]*))?\]\s*:?\s*(.*)$`)

// ExtractTitle looks for a leading [Title] block in generated lyrics. The title may
// sit on the marker line or on the lines after it, up to a blank line or the next
// bracketed section. On success the block is removed from the returned body; when
// no usable title is found, ok is false and body is raw unchanged.
func ExtractTitle(raw string) (title, body string, ok bool) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start == len(lines) {
		return "", raw, false
	}

	m := titleMarker.FindStringSubmatch(strings.TrimSpace(lines[start]))
	if m == nil {
		return "", raw, false
	}

	next := start + 1
	candidate := strings.TrimSpace(m[1])
	if candidate == "" {
		candidate = strings.TrimSpace(m[2])
	}
	if candidate == "" {
		var parts []string
		for next < len(lines) {
			line := strings.TrimSpace(lines[next])
			if line == "" || strings.HasPrefix(line, "[") {
				break
			}
			parts = append(parts, line)
			next++
		}
		candidate = strings.Join(parts, " ")
	}

	candidate = cleanTitle(candidate)
	if candidate == "" || utf8.RuneCountInString(candidate) > MaxTitleLength {
		return "", raw, false
	}

	rest := lines[next:]
	for len(rest) > 0 && strings.TrimSpace(rest[0]) == "" {
		rest = rest[1:]
	}
	return candidate, strings.Join(rest, "\n"), true
}

// FallbackTitle picks a title from lyrics without a [Title] block: a bracketed
// title anywhere, else the first lyric line. It returns "" when neither exists.
func FallbackTitle(content string) string {
	if title, _, ok := ExtractTitle(content); ok {
		return title
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if m := titleMarker.FindStringSubmatch(line); m != nil {
			if t := cleanTitle(m[1] + m[2]); t != "" && utf8.RuneCountInString(t) <= MaxTitleLength {
				return t
			}
			continue
		}
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		return truncate(cleanTitle(line), MaxTitleLength)
	}
	return ""
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'*“”`)
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}
