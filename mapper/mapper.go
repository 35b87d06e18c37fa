// Package mapper translates between human messages and the arbitrary JSON
// shapes of the agent under test. Request templates are rendered with
// handlebars; replies are located with declarative path rules over untyped
// JSON values. Path evaluation is purely functional: value in, result or
// fault out, no mutation of the payload.
package mapper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/yalp/jsonpath"

	"github.com/personabench/personabench/model"
)

// Fallback search order when no chat rule resolves a reply.
var fallbackReplyPaths = []string{"response.text", "text", "content", "message"}

var messagePlaceholder = regexp.MustCompile(`\{\{\s*message\s*\}\}`)

// FormatInput injects the human message into the request template. Every
// string leaf of the template is rendered with {{message}} and the static
// template variables bound; when the template carries no {{message}}
// placeholder at all, the message is added as a top-level "message" field so
// the request is never silently empty.
func FormatInput(message string, template map[string]any, vars map[string]string) map[string]any {
	ctx := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		ctx[k] = v
	}
	ctx["message"] = message

	injected := false
	out := renderValue(template, ctx, &injected)

	result, ok := out.(map[string]any)
	if !ok || result == nil {
		result = map[string]any{}
	}
	if !injected {
		result["message"] = message
	}
	return result
}

func renderValue(v any, ctx map[string]string, injected *bool) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = renderValue(child, ctx, injected)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = renderValue(child, ctx, injected)
		}
		return out
	case string:
		if messagePlaceholder.MatchString(val) {
			*injected = true
		}
		return model.RenderTemplate(val, ctx)
	default:
		return v
	}
}

// ExtractReply resolves the agent's reply text from an arbitrary response
// payload. The chat rule's path is authoritative; on an extraction fault the
// common-field search order applies; if nothing matches the whole payload is
// serialized so the turn stays inspectable. ExtractReply never fails.
func ExtractReply(payload any, rules []model.Rule) string {
	if rule, ok := model.ChatRule(rules); ok {
		if text, err := lookupString(payload, rule.Path); err == nil {
			return text
		}
	}

	for _, path := range fallbackReplyPaths {
		if text, err := lookupString(payload, path); err == nil {
			return text
		}
	}

	serialized, err := sonic.MarshalString(payload)
	if err != nil {
		return fmt.Sprint(payload)
	}
	return serialized
}

func lookupString(payload any, path string) (string, error) {
	value, err := LookupPath(payload, path)
	if err != nil {
		return "", err
	}
	text, ok := value.(string)
	if !ok || text == "" {
		return "", fmt.Errorf("value at %q is not a non-empty string", path)
	}
	return text, nil
}

// LookupPath resolves a dotted/bracket path ("reply.text",
// "choices[0].message.content") against an untyped JSON value. Paths starting
// with "$" are evaluated as full JSONPath expressions.
func LookupPath(payload any, path string) (any, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}

	if strings.HasPrefix(path, "$") {
		return jsonpath.Read(payload, path)
	}

	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	current := payload
	for _, seg := range segments {
		switch key := seg.(type) {
		case string:
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("path %q: segment %q is not an object", path, key)
			}
			current, ok = obj[key]
			if !ok {
				return nil, fmt.Errorf("path %q: key %q not found", path, key)
			}
		case int:
			arr, ok := current.([]any)
			if !ok {
				return nil, fmt.Errorf("path %q: index [%d] applied to non-array", path, key)
			}
			if key < 0 || key >= len(arr) {
				return nil, fmt.Errorf("path %q: index [%d] out of range", path, key)
			}
			current = arr[key]
		}
	}
	return current, nil
}

// splitPath breaks "a.b[2].c" into segments: string keys and int indexes.
func splitPath(path string) ([]any, error) {
	var segments []any
	for _, part := range strings.Split(path, ".") {
		for part != "" {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				segments = append(segments, part)
				break
			}
			if open > 0 {
				segments = append(segments, part[:open])
			}
			closing := strings.IndexByte(part[open:], ']')
			if closing < 0 {
				return nil, fmt.Errorf("unterminated bracket in path segment %q", part)
			}
			idxText := strings.Trim(part[open+1:open+closing], `"'`)
			if idx, err := strconv.Atoi(idxText); err == nil {
				segments = append(segments, idx)
			} else {
				segments = append(segments, idxText)
			}
			part = part[open+closing+1:]
		}
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	return segments, nil
}

// EvaluateRules applies every rule against the payload and ANDs the results.
func EvaluateRules(payload any, rules []model.Rule) bool {
	for _, rule := range rules {
		if !EvaluateRule(payload, rule) {
			return false
		}
	}
	return true
}

// EvaluateRule applies a single rule predicate. It never errors: an
// unreachable path, a malformed regex, or a type mismatch all evaluate to
// false.
func EvaluateRule(payload any, rule model.Rule) bool {
	value, err := LookupPath(payload, rule.Path)

	switch rule.Condition {
	case model.ConditionNull:
		return err == nil && value == nil
	case model.ConditionNotNull:
		return err == nil && value != nil
	}

	if err != nil {
		return false
	}

	switch rule.Condition {
	case model.ConditionChat:
		text, ok := value.(string)
		return ok && text != ""
	case model.ConditionBoolean:
		b, ok := value.(bool)
		return ok && b
	case model.ConditionEquals, model.ConditionEqualsAlt:
		return scalarEqual(value, rule.Value)
	case model.ConditionNotEquals:
		return !scalarEqual(value, rule.Value)
	case model.ConditionGreater, model.ConditionLess,
		model.ConditionGreaterEquals, model.ConditionLessEquals:
		return compareNumeric(value, rule)
	case model.ConditionContains:
		text, ok := value.(string)
		return ok && strings.Contains(text, rule.Value)
	case model.ConditionNotContains:
		text, ok := value.(string)
		return ok && !strings.Contains(text, rule.Value)
	case model.ConditionStartsWith:
		text, ok := value.(string)
		return ok && strings.HasPrefix(text, rule.Value)
	case model.ConditionEndsWith:
		text, ok := value.(string)
		return ok && strings.HasSuffix(text, rule.Value)
	case model.ConditionMatches:
		re, reErr := regexp.Compile(rule.Value)
		if reErr != nil {
			return false
		}
		text, ok := value.(string)
		return ok && re.MatchString(text)
	case model.ConditionHasKey:
		obj, ok := value.(map[string]any)
		if !ok {
			return false
		}
		_, exists := obj[rule.Value]
		return exists
	case model.ConditionArrayContains:
		arr, ok := value.([]any)
		if !ok {
			return false
		}
		for _, item := range arr {
			if scalarEqual(item, rule.Value) {
				return true
			}
		}
		return false
	case model.ConditionArrayLength:
		arr, ok := value.([]any)
		if !ok {
			return false
		}
		expected, convErr := strconv.Atoi(rule.Value)
		return convErr == nil && len(arr) == expected
	default:
		return false
	}
}

// scalarEqual compares an untyped JSON scalar with a rule value supplied as
// a string. Numbers compare numerically so 3 and "3.0" are equal.
func scalarEqual(value any, expected string) bool {
	switch v := value.(type) {
	case nil:
		return expected == "null"
	case bool:
		return strconv.FormatBool(v) == expected
	case float64:
		if f, err := strconv.ParseFloat(expected, 64); err == nil {
			return v == f
		}
		return false
	case string:
		return v == expected
	default:
		return fmt.Sprint(v) == expected
	}
}

func compareNumeric(value any, rule model.Rule) bool {
	actual, ok := toFloat(value)
	if !ok {
		return false
	}
	expected, err := strconv.ParseFloat(rule.Value, 64)
	if err != nil {
		return false
	}

	switch rule.Condition {
	case model.ConditionGreater:
		return actual > expected
	case model.ConditionLess:
		return actual < expected
	case model.ConditionGreaterEquals:
		return actual >= expected
	case model.ConditionLessEquals:
		return actual <= expected
	}
	return false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
