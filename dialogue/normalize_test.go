package dialogue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSignal(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantComplete bool
	}{
		{"complete true", "Thanks, that's all!\nCOMPLETE: true", true},
		{"complete false", "What about tomorrow?\nCOMPLETE: false", false},
		{"case insensitive", "done here\ncomplete: TRUE", true},
		{"extra spacing", "ok\nCOMPLETE : true", true},
		{"no signal means continue", "tell me more", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stripped, complete := ExtractSignal(tc.input)
			assert.Equal(t, tc.wantComplete, complete)
			assert.NotContains(t, stripped, "COMPLETE")
			assert.NotContains(t, stripped, "complete: TRUE")
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			"plain text untouched",
			"Can I change my booking?",
			"Can I change my booking?",
		},
		{
			"signal stripped",
			"Can I change my booking?\nCOMPLETE: false",
			"Can I change my booking?",
		},
		{
			"parenthetical stage direction stripped",
			"(sighs impatiently) Where is my refund?",
			"Where is my refund?",
		},
		{
			"asterisk stage direction stripped",
			"*frowns* That makes no sense.",
			"That makes no sense.",
		},
		{
			"blank lines collapsed",
			"First thought.\n\n\nSecond thought.",
			"First thought.\nSecond thought.",
		},
		{
			"everything combined",
			"*taps foot* (to herself)\nI need this fixed today.\n\nCOMPLETE: false",
			"I need this fixed today.",
		},
		{
			"only artifacts leaves empty",
			"(thinking)\n\nCOMPLETE: true",
			"",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.input))
		})
	}
}
