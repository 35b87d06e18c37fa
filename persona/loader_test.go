package persona

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/personabench/personabench/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writePersona(t *testing.T, root, dir, content string) string {
	t.Helper()
	path := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(path, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(path, PersonaFileName), []byte(content), 0644))
	return path
}

const validPersona = `---
id: impatient-customer
name: Impatient Customer
description: Wants answers immediately and gets frustrated by follow-up questions.
traits:
  - impatient
  - direct
---

Always references previous support tickets that went nowhere.
`

func TestLoad(t *testing.T) {
	root := t.TempDir()
	path := writePersona(t, root, "impatient", validPersona)

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "impatient-customer", p.ID)
	assert.Equal(t, "Impatient Customer", p.Name)
	assert.Equal(t, []string{"impatient", "direct"}, p.Traits)
	// Body is appended to the description
	assert.Contains(t, p.Description, "frustrated by follow-up questions")
	assert.Contains(t, p.Description, "previous support tickets")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"missing frontmatter",
			"Just some markdown without a header.",
			"must start with YAML frontmatter",
		},
		{
			"unclosed frontmatter",
			"---\nid: x\nname: X\ndescription: y\n",
			"not properly closed",
		},
		{
			"missing id",
			"---\nname: X\ndescription: y\n---\n",
			"id is required",
		},
		{
			"uppercase id",
			"---\nid: BadID\nname: X\ndescription: y\n---\n",
			"lowercase alphanumeric",
		},
		{
			"missing description",
			"---\nid: ok-id\nname: X\n---\n",
			"description is required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			path := writePersona(t, root, "p", tc.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	root := t.TempDir()
	writePersona(t, root, "b-dir", "---\nid: zed\nname: Zed\ndescription: slow talker\n---\n")
	writePersona(t, root, "a-dir", "---\nid: amy\nname: Amy\ndescription: fast talker\n---\n")
	// Directories without a persona file are skipped
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-persona"), 0755))

	personas, err := LoadDirectory(root)
	require.NoError(t, err)
	require.Len(t, personas, 2)
	// Sorted by ID, not by directory name
	assert.Equal(t, "amy", personas[0].ID)
	assert.Equal(t, "zed", personas[1].ID)
}

func TestLoadDirectory_DuplicateID(t *testing.T) {
	root := t.TempDir()
	writePersona(t, root, "one", "---\nid: same\nname: One\ndescription: a\n---\n")
	writePersona(t, root, "two", "---\nid: same\nname: Two\ndescription: b\n---\n")

	_, err := LoadDirectory(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate persona id")
}

func TestLoadDirectory_Empty(t *testing.T) {
	_, err := LoadDirectory(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no personas found")
}
