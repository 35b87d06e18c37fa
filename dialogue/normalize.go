package dialogue

import (
	"regexp"
	"strings"
)

// The driving model is asked to end its output with an explicit
// "COMPLETE: true|false" line. Everything else it emits is treated as the
// human message, after stripping artifacts it tends to produce anyway:
// stage directions in parentheses or asterisks, and stray blank lines.
var (
	signalPattern        = regexp.MustCompile(`(?i)COMPLETE\s*:\s*(true|false)`)
	parentheticalPattern = regexp.MustCompile(`\([^)\n]*\)`)
	asteriskPattern      = regexp.MustCompile(`\*[^*\n]+\*`)
)

// ExtractSignal pulls the continuation signal out of raw model output.
// It returns the text with the signal removed and whether the model
// declared the conversation complete. A missing signal means "continue".
func ExtractSignal(text string) (string, bool) {
	match := signalPattern.FindStringSubmatch(text)
	complete := false
	if match != nil {
		complete = strings.EqualFold(match[1], "true")
	}
	return signalPattern.ReplaceAllString(text, ""), complete
}

// Normalize cleans raw model output into a literal user message: signal
// tokens, stage directions and blank lines are removed, surrounding
// whitespace is trimmed.
func Normalize(text string) string {
	text = signalPattern.ReplaceAllString(text, "")
	text = parentheticalPattern.ReplaceAllString(text, "")
	text = asteriskPattern.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cleaned = append(cleaned, line)
	}
	return strings.Join(cleaned, "\n")
}
