package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/personabench/personabench/dialogue"
	"github.com/personabench/personabench/judge"
	"github.com/personabench/personabench/logger"
	"github.com/personabench/personabench/model"
	"github.com/personabench/personabench/persona"
	"github.com/personabench/personabench/report"
	"github.com/personabench/personabench/store"
	"github.com/personabench/personabench/target"
	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultPairDelay = 0 * time.Second
)

// Run is the CLI entry point: load and validate the configuration, execute
// the full scenario×persona matrix, write reports and exit with a status
// code derived from the run result.
func Run(testPath string, verbose bool, reportFileName string, reportTypes []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ValidateTestInputFile(testPath); err != nil {
		logger.Logger.Error("Invalid input file", "error", err)
		os.Exit(1)
	}

	logger.Logger.Info("Loading test configuration")
	cfg, err := model.ParseTestConfig(testPath)
	if err != nil {
		logger.Logger.Error("Failed to parse configuration", "error", err)
		os.Exit(1)
	}
	if verbose {
		cfg.Settings.Verbose = true
	}
	if err := model.ValidateTestConfig(cfg); err != nil {
		logger.Logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Logger.Info("Configuration loaded",
		"providers", len(cfg.Providers),
		"scenarios", len(cfg.Scenarios),
		"personas", len(cfg.Personas),
		"persona_dir", cfg.PersonaDir)

	templateCtx := CreateStaticTemplateContext(testPath, cfg.Variables)

	providers, err := InitProviders(ctx, cfg.Providers, templateCtx)
	if err != nil {
		logger.Logger.Error("Failed to initialize providers", "error", err)
		os.Exit(1)
	}

	st := store.NewMemoryStore()
	run, err := ExecuteRun(ctx, cfg, providers, st, templateCtx)
	if err != nil {
		logger.Logger.Error("Run failed", "error", err)
		os.Exit(1)
	}

	logger.Logger.Info("Generating reports")
	if reportFileName == "" {
		reportFileName = defaultReportBase(testPath)
	}
	for _, rt := range reportTypes {
		if err := report.Generate(run, rt, reportFileName+"."+rt, testPath); err != nil {
			logger.Logger.Error("Failed to generate report", "type", rt, "error", err)
			os.Exit(1)
		}
	}
	report.NewGenerator().GenerateConsoleReport(run)

	os.Exit(exitCode(run, cfg.Criteria))
}

// ExecuteRun creates a TestRun covering enabled scenarios × personas and
// drives every pair through the dialogue engine. A failing pair never
// aborts its siblings; the run always reaches completed status.
func ExecuteRun(ctx context.Context, cfg *model.TestConfiguration, providers map[string]llms.Model, st store.Store, templateCtx map[string]string) (*model.TestRun, error) {
	driverLLM, err := resolveProvider(providers, cfg.Settings.DriverProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve driver provider: %w", err)
	}
	judgeLLM := driverLLM
	if jp := cfg.Settings.JudgeProvider; jp != "" && jp != "$self" {
		judgeLLM, err = resolveProvider(providers, jp)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve judge provider: %w", err)
		}
	}

	personas, err := collectPersonas(cfg, templateCtx)
	if err != nil {
		return nil, err
	}
	scenarios := cfg.EnabledScenarios()
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no enabled scenarios")
	}

	agent := renderAgent(cfg.Agent, templateCtx)

	run := &model.TestRun{
		ID:     templateCtx["RUN_ID"],
		Status: model.RunRunning,
		Metrics: model.RunMetrics{
			// Fixed up front, never recomputed from conversation rows
			Total: len(scenarios) * len(personas),
		},
		StartTime: time.Now(),
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if err := st.CreateRun(run); err != nil {
		return nil, err
	}

	logger.Logger.Info("Starting test run",
		"run", run.ID,
		"scenarios", len(scenarios),
		"personas", len(personas),
		"total", run.Metrics.Total)

	client := target.NewClient(agent.EndpointURL, agent.Headers, ParseTimeout(cfg.Settings.TargetTimeout))
	classifier := judge.NewClassifier(judgeLLM)
	validator := judge.NewValidator(judgeLLM, cfg.MetricSet())
	executor := target.NewExecutor(client, agent, classifier, st, templateCtx)
	dlg := dialogue.NewEngine(driverLLM, executor, validator, st, cfg.Settings.MaxTurns, agent.UserDescription)

	type pair struct {
		scenario model.Scenario
		persona  model.Persona
	}
	pairs := make([]pair, 0, run.Metrics.Total)
	for _, s := range scenarios {
		for _, p := range personas {
			pairs = append(pairs, pair{scenario: s, persona: p})
		}
	}

	pairDelay := ParseDelay(cfg.Settings.PairDelay)
	concurrency := cfg.Settings.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 1 && pairDelay > 0 {
		logger.Logger.Warn("pair_delay ignored when concurrency > 1")
		pairDelay = 0
	}

	var mu sync.Mutex
	record := func(status model.ConversationStatus) {
		mu.Lock()
		defer mu.Unlock()
		if status == model.ConversationPassed {
			run.Metrics.Passed++
		} else {
			run.Metrics.Failed++
		}
	}

	work := make(chan pair)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pr := range work {
				record(runPair(ctx, dlg, st, run.ID, pr.scenario, pr.persona))
			}
		}()
	}
	for i, pr := range pairs {
		work <- pr
		if pairDelay > 0 && i < len(pairs)-1 {
			time.Sleep(pairDelay)
		}
	}
	close(work)
	wg.Wait()

	run.Status = model.RunCompleted
	run.EndTime = time.Now()
	if err := st.UpdateRun(run); err != nil {
		return nil, err
	}

	logger.Logger.Info("Test run completed",
		"run", run.ID,
		"passed", run.Metrics.Passed,
		"failed", run.Metrics.Failed,
		"total", run.Metrics.Total)
	return run, nil
}

// runPair executes one scenario×persona conversation, isolating any fault
// (including panics) to this pair.
func runPair(ctx context.Context, dlg *dialogue.Engine, st store.Store, runID string, scenario model.Scenario, personaCfg model.Persona) (status model.ConversationStatus) {
	status = model.ConversationFailed

	convID, err := st.CreateConversation(runID, scenario.ID, personaCfg.ID)
	if err != nil {
		logger.Logger.Error("Failed to create conversation",
			"scenario", scenario.ID,
			"persona", personaCfg.ID,
			"error", err)
		return status
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Logger.Error("Conversation panicked",
				"conversation", convID,
				"panic", r)
			_ = st.UpdateConversationStatus(convID, model.ConversationFailed, fmt.Sprintf("panic: %v", r), nil)
			status = model.ConversationFailed
		}
	}()

	status, err = dlg.Run(ctx, convID, scenario, personaCfg)
	if err != nil {
		logger.Logger.Error("Conversation errored", "conversation", convID, "error", err)
		_ = st.UpdateConversationStatus(convID, model.ConversationFailed, err.Error(), nil)
		return model.ConversationFailed
	}
	return status
}

func resolveProvider(providers map[string]llms.Model, name string) (llms.Model, error) {
	if name == "" {
		if len(providers) == 1 {
			for _, p := range providers {
				return p, nil
			}
		}
		return nil, fmt.Errorf("multiple providers configured, set settings.driver_provider")
	}
	p, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", name)
	}
	return p, nil
}

func collectPersonas(cfg *model.TestConfiguration, templateCtx map[string]string) ([]model.Persona, error) {
	personas := make([]model.Persona, 0, len(cfg.Personas))
	seen := make(map[string]bool)
	for _, p := range cfg.Personas {
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate persona id: %s", p.ID)
		}
		seen[p.ID] = true
		personas = append(personas, p)
	}

	if cfg.PersonaDir != "" {
		dir := model.RenderTemplate(cfg.PersonaDir, templateCtx)
		loaded, err := persona.LoadDirectory(dir)
		if err != nil {
			return nil, err
		}
		for _, p := range loaded {
			if seen[p.ID] {
				return nil, fmt.Errorf("duplicate persona id: %s", p.ID)
			}
			seen[p.ID] = true
			personas = append(personas, p)
		}
	}

	if len(personas) == 0 {
		return nil, fmt.Errorf("no personas configured")
	}
	return personas, nil
}

func renderAgent(agent model.AgentUnderTest, templateCtx map[string]string) model.AgentUnderTest {
	agent.EndpointURL = model.RenderTemplate(agent.EndpointURL, templateCtx)
	agent.AgentDescription = model.RenderTemplate(agent.AgentDescription, templateCtx)
	agent.UserDescription = model.RenderTemplate(agent.UserDescription, templateCtx)
	if agent.Headers != nil {
		rendered := make(map[string]string, len(agent.Headers))
		for k, v := range agent.Headers {
			rendered[k] = model.RenderTemplate(v, templateCtx)
		}
		agent.Headers = rendered
	}
	return agent
}

func ValidateTestInputFile(path string) error {
	if path == "" {
		return fmt.Errorf("input file path is empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file does not exist: %s", path)
		}
		return fmt.Errorf("cannot access file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty: %s", path)
	}

	ext := filepath.Ext(path)
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unexpected file extension: %s", ext)
	}
	return nil
}

// CreateStaticTemplateContext builds the template variables available
// before execution starts: environment variables, RUN_ID, TEMP_DIR,
// TEST_DIR and the user-defined variables from the config. User variables
// may themselves contain templates referencing the earlier entries.
func CreateStaticTemplateContext(sourceFile string, variables map[string]string) map[string]string {
	templateCtx := model.GetAllEnv()

	templateCtx["RUN_ID"] = uuid.New().String()
	templateCtx["TEMP_DIR"] = os.TempDir()

	if sourceFile != "" {
		if absPath, err := filepath.Abs(sourceFile); err == nil {
			templateCtx["TEST_DIR"] = filepath.Dir(absPath)
		}
	}

	for k, v := range variables {
		templateCtx[k] = model.RenderTemplate(v, templateCtx)
	}
	return templateCtx
}

func ParseTimeout(timeoutStr string) time.Duration {
	if timeoutStr == "" {
		return target.DefaultTimeout
	}
	dur, err := time.ParseDuration(timeoutStr)
	if err != nil || dur <= 0 {
		logger.Logger.Warn("Invalid target timeout, using default",
			"timeout", timeoutStr,
			"default", target.DefaultTimeout)
		return target.DefaultTimeout
	}
	return dur
}

func ParseDelay(delayStr string) time.Duration {
	if delayStr == "" {
		return DefaultPairDelay
	}
	dur, err := time.ParseDuration(delayStr)
	if err != nil || dur < 0 {
		logger.Logger.Warn("Invalid delay, using default",
			"delay", delayStr,
			"default", DefaultPairDelay)
		return DefaultPairDelay
	}
	return dur
}

func defaultReportBase(testPath string) string {
	absPath, err := filepath.Abs(testPath)
	if err != nil {
		return "report"
	}
	reportDir := filepath.Join(filepath.Dir(absPath), "test_results")
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		logger.Logger.Error("Failed to create test_results directory", "error", err)
		return "report"
	}
	return filepath.Join(reportDir, "report")
}

func exitCode(run *model.TestRun, criteria model.Criteria) int {
	if criteria.SuccessRate == "" {
		if run.Metrics.Failed > 0 {
			logger.Logger.Warn("Run completed with failures",
				"failed", run.Metrics.Failed,
				"total", run.Metrics.Total)
			return 1
		}
		logger.Logger.Info("All conversations passed")
		return 0
	}

	required, err := strconv.ParseFloat(criteria.SuccessRate, 64)
	if err != nil {
		logger.Logger.Error("Failed to parse criteria success rate", "error", err)
		if run.Metrics.Failed > 0 {
			return 1
		}
		return 0
	}

	actual := run.PassRate()
	if actual >= required {
		logger.Logger.Info("Success rate criteria met", "criteria", required, "actual", actual)
		return 0
	}
	logger.Logger.Warn("Success rate criteria not met", "criteria", required, "actual", actual)
	return 1
}
