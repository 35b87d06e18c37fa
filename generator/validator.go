package generator

import (
	"fmt"

	"github.com/personabench/personabench/model"
	"gopkg.in/yaml.v3"
)

// matrixWrapper is a helper for unmarshalling only the generated blocks.
type matrixWrapper struct {
	Scenarios []model.Scenario `yaml:"scenarios"`
	Personas  []model.Persona  `yaml:"personas"`
}

// ValidateMatrix parses the YAML content (which must contain "scenarios:"
// and "personas:" keys) and checks it for structural problems. Returns a
// list of human-readable error strings; empty means the content is valid.
func ValidateMatrix(yamlContent string) []string {
	var errs []string

	var wrapper matrixWrapper
	if err := yaml.Unmarshal([]byte(yamlContent), &wrapper); err != nil {
		return []string{fmt.Sprintf("YAML parse error: %v", err)}
	}

	if len(wrapper.Scenarios) == 0 {
		errs = append(errs, "no scenarios found in generated output")
	}
	if len(wrapper.Personas) == 0 {
		errs = append(errs, "no personas found in generated output")
	}

	scenarioIDs := make(map[string]bool, len(wrapper.Scenarios))
	for si, s := range wrapper.Scenarios {
		label := fmt.Sprintf("scenario[%d](%q)", si, s.ID)
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", label, err))
			continue
		}
		if scenarioIDs[s.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate id", label))
		}
		scenarioIDs[s.ID] = true
	}

	personaIDs := make(map[string]bool, len(wrapper.Personas))
	for pi, p := range wrapper.Personas {
		label := fmt.Sprintf("persona[%d](%q)", pi, p.ID)
		if p.ID == "" {
			errs = append(errs, fmt.Sprintf("%s: missing id", label))
			continue
		}
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("%s: missing name", label))
		}
		if p.Description == "" {
			errs = append(errs, fmt.Sprintf("%s: missing description", label))
		}
		if personaIDs[p.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate id", label))
		}
		personaIDs[p.ID] = true
	}

	return errs
}
