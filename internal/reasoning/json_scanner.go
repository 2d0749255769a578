package reasoning

// findJSONCandidates scans raw oracle output for top-level JSON object
// candidates, handling nested braces and string escaping so boundaries are
// identified correctly even when the object is wrapped in prose.
//
// Iterating bytes is safe for the ASCII delimiters involved ({, }, ", \)
// because UTF-8 never embeds ASCII bytes inside a multi-byte sequence.
func findJSONCandidates(s string) []string {
	var (
		candidates []string
		depth      int
		start      = -1
		inString   bool
		escape     bool
	)

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue // Stray closer outside any object
			}
			depth--
			if depth == 0 && start != -1 {
				candidates = append(candidates, s[start:i+1])
				start = -1
			}
		}
	}

	return candidates
}
