package mapper

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personabench/personabench/model"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, sonic.UnmarshalString(raw, &v))
	return v
}

// ---------------------------------------------------------------------------
// FormatInput
// ---------------------------------------------------------------------------

func TestFormatInput_PlaceholderInjection(t *testing.T) {
	template := map[string]any{
		"query":      "{{message}}",
		"session_id": "abc",
	}

	out := FormatInput("hello there", template, nil)

	assert.Equal(t, "hello there", out["query"])
	assert.Equal(t, "abc", out["session_id"])
	_, hasFallback := out["message"]
	assert.False(t, hasFallback, "no fallback field when a placeholder exists")
}

func TestFormatInput_NestedPlaceholder(t *testing.T) {
	template := map[string]any{
		"input": map[string]any{
			"messages": []any{
				map[string]any{"role": "user", "content": "{{ message }}"},
			},
		},
	}

	out := FormatInput("what are your opening hours?", template, nil)

	input := out["input"].(map[string]any)
	first := input["messages"].([]any)[0].(map[string]any)
	assert.Equal(t, "what are your opening hours?", first["content"])
}

func TestFormatInput_NoPlaceholderFallsBackToMessageField(t *testing.T) {
	out := FormatInput("hi", map[string]any{"channel": "web"}, nil)
	assert.Equal(t, "hi", out["message"])
	assert.Equal(t, "web", out["channel"])
}

func TestFormatInput_DoesNotMutateTemplate(t *testing.T) {
	template := map[string]any{"query": "{{message}}"}
	FormatInput("first", template, nil)
	assert.Equal(t, "{{message}}", template["query"])
}

func TestFormatInput_StaticVariables(t *testing.T) {
	template := map[string]any{
		"query":   "{{message}}",
		"api_key": "{{AUTH_TOKEN}}",
		"tenant":  "{{TENANT}}-prod",
	}

	out := FormatInput("hi", template, map[string]string{
		"AUTH_TOKEN": "secret-123",
		"TENANT":     "acme",
	})

	assert.Equal(t, "hi", out["query"])
	assert.Equal(t, "secret-123", out["api_key"])
	assert.Equal(t, "acme-prod", out["tenant"])
}

// ---------------------------------------------------------------------------
// ExtractReply
// ---------------------------------------------------------------------------

func TestExtractReply_ChatRulePath(t *testing.T) {
	payload := decode(t, `{"reply":{"text":"ok"}}`)
	rules := []model.Rule{{Path: "reply.text", Condition: model.ConditionChat}}

	assert.Equal(t, "ok", ExtractReply(payload, rules))
}

func TestExtractReply_FallbackFields(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"response.text", `{"response":{"text":"a"}}`, "a"},
		{"text", `{"text":"b"}`, "b"},
		{"content", `{"content":"c"}`, "c"},
		{"message", `{"message":"d"}`, "d"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractReply(decode(t, tc.payload), nil)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractReply_BrokenChatPathFallsBack(t *testing.T) {
	payload := decode(t, `{"text":"fallback wins"}`)
	rules := []model.Rule{{Path: "reply.missing", Condition: model.ConditionChat}}

	assert.Equal(t, "fallback wins", ExtractReply(payload, rules))
}

func TestExtractReply_SerializedPayloadFallback(t *testing.T) {
	payload := decode(t, `{"foo":"bar"}`)
	assert.JSONEq(t, `{"foo":"bar"}`, ExtractReply(payload, nil))
}

// ---------------------------------------------------------------------------
// LookupPath
// ---------------------------------------------------------------------------

func TestLookupPath(t *testing.T) {
	payload := decode(t, `{"choices":[{"message":{"content":"hi"}}],"n":2}`)

	t.Run("bracket index", func(t *testing.T) {
		v, err := LookupPath(payload, "choices[0].message.content")
		require.NoError(t, err)
		assert.Equal(t, "hi", v)
	})

	t.Run("jsonpath expression", func(t *testing.T) {
		v, err := LookupPath(payload, "$.choices[0].message.content")
		require.NoError(t, err)
		assert.Equal(t, "hi", v)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := LookupPath(payload, "choices[0].text")
		assert.Error(t, err)
	})

	t.Run("index out of range", func(t *testing.T) {
		_, err := LookupPath(payload, "choices[5].message")
		assert.Error(t, err)
	})

	t.Run("index on object", func(t *testing.T) {
		_, err := LookupPath(payload, "n[0]")
		assert.Error(t, err)
	})
}

// ---------------------------------------------------------------------------
// EvaluateRule
// ---------------------------------------------------------------------------

func TestEvaluateRule_NeverThrows(t *testing.T) {
	payload := decode(t, `{"status":"ok","count":3,"flag":true,"items":["a","b"],"nested":{"k":1},"nothing":null}`)

	tests := []struct {
		name string
		rule model.Rule
		want bool
	}{
		{"equals string", model.Rule{Path: "status", Condition: "=", Value: "ok"}, true},
		{"double equals", model.Rule{Path: "status", Condition: "==", Value: "ok"}, true},
		{"not equals", model.Rule{Path: "status", Condition: "!=", Value: "down"}, true},
		{"numeric equals", model.Rule{Path: "count", Condition: "=", Value: "3"}, true},
		{"greater", model.Rule{Path: "count", Condition: ">", Value: "2"}, true},
		{"less fails", model.Rule{Path: "count", Condition: "<", Value: "2"}, false},
		{"gte", model.Rule{Path: "count", Condition: ">=", Value: "3"}, true},
		{"lte", model.Rule{Path: "count", Condition: "<=", Value: "3"}, true},
		{"contains", model.Rule{Path: "status", Condition: "contains", Value: "o"}, true},
		{"not_contains", model.Rule{Path: "status", Condition: "not_contains", Value: "x"}, true},
		{"starts_with", model.Rule{Path: "status", Condition: "starts_with", Value: "o"}, true},
		{"ends_with", model.Rule{Path: "status", Condition: "ends_with", Value: "k"}, true},
		{"matches", model.Rule{Path: "status", Condition: "matches", Value: "^o.$"}, true},
		{"invalid regex is false not panic", model.Rule{Path: "status", Condition: "matches", Value: "(["}, false},
		{"has_key", model.Rule{Path: "nested", Condition: "has_key", Value: "k"}, true},
		{"has_key missing", model.Rule{Path: "nested", Condition: "has_key", Value: "z"}, false},
		{"array_contains", model.Rule{Path: "items", Condition: "array_contains", Value: "b"}, true},
		{"array_length", model.Rule{Path: "items", Condition: "array_length", Value: "2"}, true},
		{"null", model.Rule{Path: "nothing", Condition: "null"}, true},
		{"not_null", model.Rule{Path: "status", Condition: "not_null"}, true},
		{"null on missing path", model.Rule{Path: "absent", Condition: "null"}, false},
		{"boolean true", model.Rule{Path: "flag", Condition: "boolean"}, true},
		{"boolean on string", model.Rule{Path: "status", Condition: "boolean"}, false},
		{"chat non-empty", model.Rule{Path: "status", Condition: "chat"}, true},
		{"chat on number", model.Rule{Path: "count", Condition: "chat"}, false},
		{"unreachable path", model.Rule{Path: "a.b.c", Condition: "=", Value: "x"}, false},
		{"unknown condition", model.Rule{Path: "status", Condition: "wat"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, tc.want, EvaluateRule(payload, tc.rule))
			})
		})
	}
}

func TestEvaluateRules_AndSemantics(t *testing.T) {
	payload := decode(t, `{"status":"ok","count":3}`)

	pass := []model.Rule{
		{Path: "status", Condition: "=", Value: "ok"},
		{Path: "count", Condition: ">", Value: "1"},
	}
	assert.True(t, EvaluateRules(payload, pass))

	fail := append(pass, model.Rule{Path: "count", Condition: "<", Value: "1"})
	assert.False(t, EvaluateRules(payload, fail))

	assert.True(t, EvaluateRules(payload, nil), "empty rule set passes")
}
