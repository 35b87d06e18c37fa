package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/personabench/personabench/logger"
	"github.com/personabench/personabench/model"
	"gopkg.in/yaml.v3"
)

const (
	PersonaFileName = "PERSONA.md"
	MaxNameLength   = 64
	MaxDescLength   = 1024
)

var idPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// frontmatter is the YAML header of a PERSONA.md file. The markdown body
// after the header is free-form background text appended to the
// description when present.
type frontmatter struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Traits      []string `yaml:"traits,omitempty"`
}

// Load reads a persona from a directory containing a PERSONA.md file.
func Load(personaPath string) (*model.Persona, error) {
	absPath, err := filepath.Abs(personaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve persona path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("persona directory not found: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("persona path must be a directory: %s", absPath)
	}

	content, err := os.ReadFile(filepath.Join(absPath, PersonaFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", PersonaFileName, err)
	}

	fm, body, err := parseFrontmatter(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", PersonaFileName, err)
	}
	if err := validateFrontmatter(fm); err != nil {
		return nil, fmt.Errorf("invalid persona metadata: %w", err)
	}

	description := fm.Description
	if body = strings.TrimSpace(body); body != "" {
		description = description + "\n\n" + body
	}

	persona := &model.Persona{
		ID:          fm.ID,
		Name:        fm.Name,
		Description: description,
		Traits:      fm.Traits,
	}

	logger.Logger.Info("Loaded persona",
		"id", persona.ID,
		"name", persona.Name,
		"traits", len(persona.Traits))
	return persona, nil
}

// LoadDirectory loads every persona found one level below dir. Entries
// without a PERSONA.md are skipped; a malformed PERSONA.md is an error.
// Results are sorted by ID so runs are deterministic.
func LoadDirectory(dir string) ([]model.Persona, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona directory: %w", err)
	}

	personas := make([]model.Persona, 0, len(entries))
	seen := make(map[string]bool)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(dir, entry.Name())
		if _, statErr := os.Stat(filepath.Join(sub, PersonaFileName)); statErr != nil {
			logger.Logger.Debug("Skipping directory without persona file", "path", sub)
			continue
		}
		p, loadErr := Load(sub)
		if loadErr != nil {
			return nil, loadErr
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate persona id: %s", p.ID)
		}
		seen[p.ID] = true
		personas = append(personas, *p)
	}

	if len(personas) == 0 {
		return nil, fmt.Errorf("no personas found in %s", dir)
	}

	sort.Slice(personas, func(i, j int) bool { return personas[i].ID < personas[j].ID })
	return personas, nil
}

// parseFrontmatter splits a PERSONA.md into its YAML header and body.
// The header must be delimited by --- lines at the top of the file.
func parseFrontmatter(content string) (*frontmatter, string, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	if !strings.HasPrefix(content, "---") {
		return nil, "", fmt.Errorf("PERSONA.md must start with YAML frontmatter (---)")
	}

	endIndex := strings.Index(content[3:], "\n---")
	if endIndex == -1 {
		return nil, "", fmt.Errorf("PERSONA.md frontmatter not properly closed (missing ---)")
	}

	frontmatterYAML := content[4 : endIndex+3]

	bodyStart := endIndex + 3 + 4
	body := ""
	if bodyStart < len(content) {
		body = strings.TrimPrefix(content[bodyStart:], "\n")
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(frontmatterYAML), &fm); err != nil {
		return nil, "", fmt.Errorf("invalid YAML frontmatter: %w", err)
	}
	return &fm, body, nil
}

func validateFrontmatter(fm *frontmatter) error {
	if fm.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(fm.ID) > MaxNameLength {
		return fmt.Errorf("id must be 1-%d characters, got %d", MaxNameLength, len(fm.ID))
	}
	if !idPattern.MatchString(fm.ID) {
		return fmt.Errorf("id must be lowercase alphanumeric with hyphens, no leading/trailing/consecutive hyphens: %s", fm.ID)
	}
	if fm.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(fm.Name) > MaxNameLength {
		return fmt.Errorf("name must be 1-%d characters, got %d", MaxNameLength, len(fm.Name))
	}
	if fm.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(fm.Description) > MaxDescLength {
		return fmt.Errorf("description must be 1-%d characters, got %d", MaxDescLength, len(fm.Description))
	}
	return nil
}
