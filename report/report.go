package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/life4/genesis/slices"
	"github.com/personabench/personabench/logger"
	"github.com/personabench/personabench/model"
	"github.com/personabench/personabench/version"
)

// Generator renders a finished test run as console output, JSON or Markdown.
type Generator struct {
	TestFile string // source config path, embedded in JSON metadata
}

func NewGenerator() *Generator {
	return &Generator{}
}

// jsonReport is the envelope written to disk for the json report type.
type jsonReport struct {
	Version     string         `json:"version"`
	GeneratedAt string         `json:"generatedAt"`
	TestFile    string         `json:"testFile,omitempty"`
	Run         *model.TestRun `json:"run"`
}

func ValidateReportType(reportType string) error {
	if reportType != "json" && reportType != "md" {
		return fmt.Errorf("unknown type %s, supported types are: json, md", reportType)
	}
	return nil
}

// GenerateConsoleReport prints per-conversation results and a summary line.
func (g *Generator) GenerateConsoleReport(run *model.TestRun) {
	fmt.Println("\n" + "═══════════════════════════════════════════════════════════════")
	fmt.Println("                   CONVERSATION TEST RESULTS")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()

	for _, conv := range run.Conversations {
		duration := conv.EndTime.Sub(conv.StartTime)

		symbol := "\033[32m✓\033[0m"
		if conv.Status != model.ConversationPassed {
			symbol = "\033[31m✗\033[0m"
		}
		fmt.Printf("%s %s × %s (%d turns, %.2fs)\n",
			symbol, conv.ScenarioID, conv.PersonaID, len(conv.Messages)/2, duration.Seconds())

		if conv.Error != "" {
			fmt.Printf("    \033[31mError:\033[0m %s\n", conv.Error)
		}
		if conv.Validation != nil {
			for _, m := range conv.Validation.Metrics {
				fmt.Printf("    • %s: %.2f (%s)\n", m.ID, m.Score, m.Reason)
			}
		}
		if hallucinations := countHallucinations(conv); hallucinations > 0 {
			fmt.Printf("    \033[33m⚠ hallucinated turns: %d\033[0m\n", hallucinations)
		}
		fmt.Println()
	}

	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("Total: %d | \033[32mPassed: %d\033[0m | \033[31mFailed: %d\033[0m | Pass rate: %.1f%%\n",
		run.Metrics.Total, run.Metrics.Passed, run.Metrics.Failed, run.PassRate()*100)
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()
}

func (g *Generator) GenerateJSONReport(run *model.TestRun) (string, error) {
	report := jsonReport{
		Version:     version.Version,
		GeneratedAt: time.Now().Format(time.RFC3339),
		TestFile:    g.TestFile,
		Run:         run,
	}
	out, err := sonic.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode JSON report: %w", err)
	}
	return string(out), nil
}

func (g *Generator) GenerateMarkdownReport(run *model.TestRun) string {
	var md strings.Builder

	md.WriteString("# Conversation Test Results\n\n")
	fmt.Fprintf(&md, "**Version:** %s\n", version.Version)
	fmt.Fprintf(&md, "**Generated:** %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&md, "**Run:** %s\n\n", run.ID)

	md.WriteString("## Summary\n\n")
	md.WriteString("| Total | Passed | Failed | Pass rate |\n")
	md.WriteString("|-------|--------|--------|-----------|\n")
	fmt.Fprintf(&md, "| %d | %d | %d | %.1f%% |\n\n",
		run.Metrics.Total, run.Metrics.Passed, run.Metrics.Failed, run.PassRate()*100)

	md.WriteString("## Conversations\n\n")
	for _, conv := range run.Conversations {
		status := "PASSED ✓"
		if conv.Status != model.ConversationPassed {
			status = "FAILED ✗"
		}
		fmt.Fprintf(&md, "### %s × %s: %s\n\n", conv.ScenarioID, conv.PersonaID, status)

		if conv.Error != "" {
			fmt.Fprintf(&md, "**Error:** %s\n\n", conv.Error)
		}

		if conv.Validation != nil {
			fmt.Fprintf(&md, "**Verdict:** %v\n\n", conv.Validation.IsCorrect)
			fmt.Fprintf(&md, "%s\n\n", conv.Validation.Explanation)

			if len(conv.Validation.Metrics) > 0 {
				md.WriteString("| Metric | Score | Reason |\n")
				md.WriteString("|--------|-------|--------|\n")
				for _, m := range conv.Validation.Metrics {
					fmt.Fprintf(&md, "| %s | %.2f | %s |\n", m.ID, m.Score, m.Reason)
				}
				md.WriteString("\n")
			}
		}

		if len(conv.Messages) > 0 {
			md.WriteString("<details>\n<summary>Transcript</summary>\n\n")
			for _, msg := range conv.Messages {
				marker := ""
				if msg.Metrics.IsHallucination != nil && *msg.Metrics.IsHallucination {
					marker = " ⚠ hallucination"
				}
				fmt.Fprintf(&md, "**%s**%s: %s\n\n", msg.Role, marker, msg.Content)
			}
			md.WriteString("</details>\n\n")
		}
	}

	return md.String()
}

// Generate renders the run in the given format and writes it to outputPath,
// creating the parent directory when needed.
func Generate(run *model.TestRun, reportType, outputPath, testFilePath string) error {
	if run == nil {
		return fmt.Errorf("no test run to generate report")
	}

	g := NewGenerator()
	g.TestFile = testFilePath

	var content string
	var err error
	switch reportType {
	case "json":
		content, err = g.GenerateJSONReport(run)
		if err != nil {
			return err
		}
	case "md":
		content = g.GenerateMarkdownReport(run)
	default:
		return fmt.Errorf("unknown report type: %s", reportType)
	}

	if content == "" {
		return fmt.Errorf("generated report is empty")
	}

	outputDir := filepath.Dir(outputPath)
	if outputDir != "." && outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	if err := os.WriteFile(outputPath, []byte(content), logger.FilePermission); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}

	logger.Logger.Info("Report generated", "type", reportType, "path", outputPath)
	return nil
}

func countHallucinations(conv *model.Conversation) int {
	return slices.CountBy(conv.Messages, func(msg model.Message) bool {
		return msg.Metrics.IsHallucination != nil && *msg.Metrics.IsHallucination
	})
}
