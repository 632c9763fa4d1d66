package deck

import "strings"

// Models that are told "return only JSON" still wrap the payload in code
// fences and leak raw newlines inside string values. RepairJSON fixes both
// without touching structurally valid input: already-valid JSON passes
// through byte-identical.
func RepairJSON(raw string) string {
	s := stripCodeFences(raw)
	return escapeNewlinesInStrings(s)
}

// stripCodeFences removes a leading ```/```json line and a trailing ```
// line. Input without fences is returned unchanged.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}

	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	} else {
		return s
	}
	trimmed = strings.TrimRight(trimmed, " \t\n")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimRight(trimmed, " \t\n")
}

// escapeNewlinesInStrings walks the input with a quote-aware scanner and
// escapes literal newlines occurring strictly inside JSON string literals.
// Newlines between tokens are left alone.
func escapeNewlinesInStrings(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
			sb.WriteByte(c)
		case c == '\\' && inString:
			escaped = true
			sb.WriteByte(c)
		case c == '"':
			inString = !inString
			sb.WriteByte(c)
		case inString && c == '\n':
			sb.WriteString(`\n`)
		case inString && c == '\r':
			sb.WriteString(`\r`)
		case inString && c == '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// ExtractJSONWindow is the last-resort repair: take the longest substring
// between the first opening and last closing bracket. Whichever bracket
// kind opens first wins, so a bare array is not truncated to its first
// element object.
func ExtractJSONWindow(s string) (string, bool) {
	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')

	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if w, ok := window(s, '[', ']'); ok {
			return w, true
		}
	}
	return window(s, '{', '}')
}

func window(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
