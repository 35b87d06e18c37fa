package judge

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// ParseLenient decodes model output that is supposed to be a JSON object but
// often is not quite one. It tries a strict parse first; on failure it scans
// the text for the first balanced brace-delimited object (which also covers
// ```json fenced output and trailing prose) and parses that. Only when both
// stages fail does it return an error, so callers can substitute their
// deterministic fallback result.
func ParseLenient(text string, out any) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("empty model output")
	}

	if err := sonic.UnmarshalString(trimmed, out); err == nil {
		return nil
	}

	block, ok := firstJSONObject(trimmed)
	if !ok {
		return fmt.Errorf("no JSON object found in model output")
	}

	if err := sonic.UnmarshalString(block, out); err != nil {
		return fmt.Errorf("failed to parse extracted JSON object: %w", err)
	}
	return nil
}

// firstJSONObject returns the first balanced {...} block, tracking string
// literals and escapes so braces inside strings do not confuse the scan.
func firstJSONObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}

		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// ignore structural characters inside strings
		case c == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case c == '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}
