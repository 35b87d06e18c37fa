package model

import (
	"os"
	"strings"

	"github.com/aymerick/raymond"
)

// RenderTemplate expands {{VAR}} style handlebars templates against the given
// context. On any parse or exec error the input is returned unchanged, so a
// literal value that merely looks like a template never breaks a config.
func RenderTemplate(value string, ctx map[string]string) string {
	if value == "" || !strings.Contains(value, "{{") {
		return value
	}

	tpl, err := raymond.Parse(value)
	if err != nil {
		return value
	}

	rendered, err := tpl.Exec(ctx)
	if err != nil {
		return value
	}

	return rendered
}

// GetAllEnv returns the process environment as a template context.
func GetAllEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
