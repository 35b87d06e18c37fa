package judge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type twoFields struct {
	IsCorrect   bool   `json:"isCorrect"`
	Explanation string `json:"explanation"`
}

func TestParseLenient_StrictJSON(t *testing.T) {
	var out twoFields
	err := ParseLenient(`{"isCorrect": true, "explanation": "fine"}`, &out)
	require.NoError(t, err)
	assert.True(t, out.IsCorrect)
	assert.Equal(t, "fine", out.Explanation)
}

func TestParseLenient_FencedWithTrailingProse(t *testing.T) {
	text := "```json\n{\"isCorrect\": false, \"explanation\": \"missed the refund step\"}\n```\nLet me know if you need more detail."

	var out twoFields
	err := ParseLenient(text, &out)
	require.NoError(t, err)
	assert.False(t, out.IsCorrect)
	assert.Equal(t, "missed the refund step", out.Explanation)
}

func TestParseLenient_ProseBeforeObject(t *testing.T) {
	text := `Sure! Here is my verdict: {"isCorrect": true, "explanation": "all good"} — hope that helps.`

	var out twoFields
	require.NoError(t, ParseLenient(text, &out))
	assert.True(t, out.IsCorrect)
}

func TestParseLenient_BracesInsideStrings(t *testing.T) {
	text := `noise {"isCorrect": true, "explanation": "used {curly} braces and a \" quote"} noise`

	var out twoFields
	require.NoError(t, ParseLenient(text, &out))
	assert.Equal(t, `used {curly} braces and a " quote`, out.Explanation)
}

func TestParseLenient_BothPathsAgreeOnPureJSON(t *testing.T) {
	pure := `{"isCorrect": true, "explanation": "agree"}`

	var direct twoFields
	require.NoError(t, ParseLenient(pure, &direct))

	block, ok := firstJSONObject(pure)
	require.True(t, ok)
	var extracted twoFields
	require.NoError(t, ParseLenient(block, &extracted))

	assert.Equal(t, direct, extracted)
}

func TestParseLenient_Failures(t *testing.T) {
	var out twoFields
	assert.Error(t, ParseLenient("", &out))
	assert.Error(t, ParseLenient("no json here at all", &out))
	assert.Error(t, ParseLenient("{unclosed", &out))
}
