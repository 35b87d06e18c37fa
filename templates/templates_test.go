package templates

import (
	"regexp"
	"strconv"
	"testing"

	"github.com/personabench/personabench/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	RegisterHelpers()
}

func render(t *testing.T, tpl string) string {
	t.Helper()
	out := model.RenderTemplate(tpl, map[string]string{})
	require.NotEqual(t, tpl, out, "template should have been rendered")
	return out
}

func TestRandomValueHelper(t *testing.T) {
	uuidOut := render(t, `{{randomValue type="UUID"}}`)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`), uuidOut)

	numeric := render(t, `{{randomValue type="NUMERIC" length=6}}`)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), numeric)

	upper := render(t, `{{randomValue type="ALPHABETIC" length=8 uppercase=true}}`)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z]{8}$`), upper)

	// Default: 10 alphanumeric characters
	def := render(t, `{{randomValue}}`)
	assert.Regexp(t, regexp.MustCompile(`^[a-zA-Z0-9]{10}$`), def)
}

func TestRandomIntHelper(t *testing.T) {
	for i := 0; i < 20; i++ {
		out := render(t, `{{randomInt lower=5 upper=7}}`)
		n, err := strconv.Atoi(out)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 5)
		assert.LessOrEqual(t, n, 7)
	}

	// Swapped bounds are tolerated
	out := render(t, `{{randomInt lower=9 upper=3}}`)
	n, err := strconv.Atoi(out)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 3)
	assert.LessOrEqual(t, n, 9)
}

func TestNowHelper(t *testing.T) {
	unix := render(t, `{{now format="unix"}}`)
	_, err := strconv.ParseInt(unix, 10, 64)
	assert.NoError(t, err)

	iso := render(t, `{{now}}`)
	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T`), iso)
}

func TestFakeValueHelper(t *testing.T) {
	assert.NotEmpty(t, render(t, `{{fakeValue "full_name"}}`))
	assert.Contains(t, render(t, `{{fakeValue "email"}}`), "@")

	// Unknown keys pass through as-is
	out := model.RenderTemplate(`{{fakeValue "no_such_key"}}`, map[string]string{})
	assert.Equal(t, "no_such_key", out)
}

func TestHelpersComposeWithVariables(t *testing.T) {
	out := model.RenderTemplate(`user-{{SUFFIX}}-{{randomValue type="NUMERIC" length=4}}`, map[string]string{"SUFFIX": "abc"})
	assert.Regexp(t, regexp.MustCompile(`^user-abc-[0-9]{4}$`), out)
}
