package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseTestConfig reads and unmarshals a run configuration YAML file.
func ParseTestConfig(filename string) (*TestConfiguration, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseTestConfigFromString(string(data))
}

func ParseTestConfigFromString(definition string) (*TestConfiguration, error) {
	var config TestConfiguration
	if err := yaml.Unmarshal([]byte(definition), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return &config, nil
}

// ValidateTestConfig checks the parts of the configuration without which a
// run cannot start. Missing credentials or endpoints are configuration
// faults: surfaced immediately, never retried.
func ValidateTestConfig(config *TestConfiguration) error {
	if config == nil {
		return fmt.Errorf("configuration is nil")
	}

	if len(config.Providers) == 0 {
		return fmt.Errorf("no providers configured")
	}

	if config.Agent.EndpointURL == "" {
		return fmt.Errorf("agent endpoint_url is empty")
	}

	if len(config.Scenarios) == 0 {
		return fmt.Errorf("no scenarios configured")
	}
	for _, s := range config.Scenarios {
		if err := s.Validate(); err != nil {
			return err
		}
	}

	if len(config.Personas) == 0 && config.PersonaDir == "" {
		return fmt.Errorf("no personas configured: set personas or persona_dir")
	}
	for _, p := range config.Personas {
		if p.ID == "" {
			return fmt.Errorf("persona %q has empty id", p.Name)
		}
	}

	chatRules := 0
	for _, r := range config.Agent.FieldRules {
		if r.Condition == "" {
			return fmt.Errorf("field rule with path %q has empty condition", r.Path)
		}
		if r.Condition == ConditionChat {
			chatRules++
		}
	}
	if chatRules > 1 {
		return fmt.Errorf("at most one %q rule is allowed, found %d", ConditionChat, chatRules)
	}

	return nil
}
