package agent

// extractObject returns the first balanced {...} span in s. Braces inside
// JSON strings are skipped, so nested objects and string values containing
// braces are handled. A stray unbalanced '{' in surrounding prose is skipped.
func extractObject(s string) (string, bool) {
	for {
		span, first, ok := scanObject(s)
		if ok {
			return span, true
		}
		if first < 0 {
			return "", false
		}
		s = s[first+1:]
	}
}

// scanObject looks for a balanced span starting at the first '{'. It returns
// the index of that brace so callers can retry past it.
func scanObject(s string) (span string, first int, ok bool) {
	first = -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 && first < 0 {
				first = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return s[first : i+1], first, true
			}
		}
	}
	return "", first, false
}
