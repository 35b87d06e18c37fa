// Package generator implements the matrix generation mode (-g flag).
// It reads a generator config file and uses an LLM to produce a
// ready-to-run test YAML file with scenarios and personas tailored to
// the agent description.
package generator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/personabench/personabench/engine"
	"github.com/personabench/personabench/logger"
	"github.com/tmc/langchaingo/llms"
	"gopkg.in/yaml.v3"
)

const maxRetries = 3

// Run is the entry point for generation mode. It loads the config,
// generates a scenario×persona matrix with validation-driven retries, and
// writes a combined test configuration (or prints it for dry runs).
func Run(ctx context.Context, configPath, outputDir string, dryRun bool) {
	cfg, err := ParseGeneratorConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load generator config: %v\n", err)
		os.Exit(1)
	}

	logger.Logger.Info("Generator config loaded",
		"providers", len(cfg.Providers),
		"scenario_count", cfg.Generator.ScenarioCount,
		"persona_count", cfg.Generator.PersonaCount,
		"complexity", cfg.Generator.Complexity)

	templateCtx := engine.CreateStaticTemplateContext(configPath, cfg.Variables)

	providers, err := engine.InitProviders(ctx, cfg.Providers, templateCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize providers: %v\n", err)
		os.Exit(1)
	}

	generatorLLM, err := resolveGeneratorLLM(providers, cfg.Generator.Provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	matrixYAML, err := generateWithRetry(ctx, generatorLLM, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: matrix generation failed after %d attempts: %v\n", maxRetries, err)
		os.Exit(1)
	}

	fullYAML, err := combineOutput(configPath, matrixYAML)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to combine output: %v\n", err)
		os.Exit(1)
	}

	if dryRun {
		fmt.Println(fullYAML)
		return
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create output directory %q: %v\n", outputDir, err)
		os.Exit(1)
	}

	timestamp := time.Now().Format("20060102_150405")
	outFile := filepath.Join(outputDir, fmt.Sprintf("generated_test_%s.yaml", timestamp))
	if err := os.WriteFile(outFile, []byte(fullYAML), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to write output file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated test configuration: %s\n", outFile)
}

// resolveGeneratorLLM picks the generation model. With no name configured a
// single provider is used implicitly; otherwise the config must say which.
func resolveGeneratorLLM(providers map[string]llms.Model, name string) (llms.Model, error) {
	if name == "" {
		if len(providers) == 1 {
			for _, p := range providers {
				return p, nil
			}
		}
		return nil, fmt.Errorf("multiple providers configured, set generator.provider or settings.driver_provider")
	}
	p, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("generator provider %q not found in providers", name)
	}
	return p, nil
}

// generateWithRetry calls the LLM up to maxRetries times, feeding back
// validation errors on each failed attempt.
func generateWithRetry(ctx context.Context, llm llms.Model, cfg *GeneratorConfig) (string, error) {
	var prevErrors []string

	for attempt := 1; attempt <= maxRetries; attempt++ {
		logger.Logger.Info("Generating test matrix", "attempt", attempt, "max", maxRetries)

		msgs := BuildGenerationPrompt(cfg, attempt, prevErrors)

		resp, err := llm.GenerateContent(ctx, msgs)
		if err != nil {
			logger.Logger.Warn("LLM generation error", "attempt", attempt, "error", err)
			prevErrors = []string{fmt.Sprintf("LLM call failed: %v", err)}
			continue
		}

		rawContent := ""
		for _, choice := range resp.Choices {
			if choice.Content != "" {
				rawContent = choice.Content
				break
			}
		}
		if rawContent == "" {
			prevErrors = []string{"LLM returned empty response"}
			continue
		}

		matrixYAML := ExtractYAMLFromResponse(rawContent)

		errs := ValidateMatrix(matrixYAML)
		if len(errs) == 0 {
			logger.Logger.Info("Matrix generated and validated", "attempt", attempt)
			return matrixYAML, nil
		}

		logger.Logger.Warn("Generated matrix failed validation",
			"attempt", attempt,
			"errors", len(errs))
		for _, e := range errs {
			logger.Logger.Debug("Validation error", "error", e)
		}
		prevErrors = errs
	}

	return "", fmt.Errorf("all %d generation attempts failed; last errors: %v", maxRetries, prevErrors)
}

// combineOutput reads the original generator config file, removes the
// "generator:" section, and appends the generated scenarios/personas block.
func combineOutput(configPath, matrixYAML string) (string, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read config file: %w", err)
	}

	var topLevel map[string]interface{}
	if err := yaml.Unmarshal(raw, &topLevel); err != nil {
		return "", fmt.Errorf("failed to parse config file: %w", err)
	}
	delete(topLevel, "generator")

	infraBytes, err := yaml.Marshal(topLevel)
	if err != nil {
		return "", fmt.Errorf("failed to re-marshal infrastructure config: %w", err)
	}

	if !strings.HasPrefix(strings.TrimSpace(matrixYAML), "scenarios:") {
		matrixYAML = "scenarios:\n" + matrixYAML
	}

	return strings.TrimSpace(string(infraBytes)) + "\n\n" + matrixYAML + "\n", nil
}
