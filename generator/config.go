package generator

import (
	"fmt"
	"os"

	"github.com/personabench/personabench/model"
	"gopkg.in/yaml.v3"
)

// GeneratorConfig is the top-level structure for a generator config file.
// It mirrors TestConfiguration but omits scenarios/personas and adds a
// Generator section describing what to produce.
type GeneratorConfig struct {
	Providers []model.Provider     `yaml:"providers"`
	Agent     model.AgentUnderTest `yaml:"agent"`
	Variables map[string]string    `yaml:"variables,omitempty"`
	Settings  model.Settings       `yaml:"settings"`
	Generator GeneratorSettings    `yaml:"generator"`
}

// GeneratorSettings controls scenario and persona generation.
type GeneratorSettings struct {
	Provider         string `yaml:"provider"`           // LLM for generation (defaults to settings.driver_provider)
	ScenarioCount    int    `yaml:"scenario_count"`     // default 5
	PersonaCount     int    `yaml:"persona_count"`      // default 3
	Complexity       string `yaml:"complexity"`         // simple | medium | complex (default "medium")
	IncludeEdgeCases bool   `yaml:"include_edge_cases"` // adversarial and boundary scenarios
}

func (s *GeneratorSettings) applyDefaults() {
	if s.ScenarioCount <= 0 {
		s.ScenarioCount = 5
	}
	if s.PersonaCount <= 0 {
		s.PersonaCount = 3
	}
	if s.Complexity == "" {
		s.Complexity = "medium"
	}
}

// ParseGeneratorConfig reads and unmarshals a generator config YAML file,
// applying defaults for any omitted generator settings.
func ParseGeneratorConfig(path string) (*GeneratorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read generator config %q: %w", path, err)
	}

	var cfg GeneratorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse generator config %q: %w", path, err)
	}

	cfg.Generator.applyDefaults()

	if cfg.Generator.Provider == "" {
		cfg.Generator.Provider = cfg.Settings.DriverProvider
	}

	return &cfg, nil
}
