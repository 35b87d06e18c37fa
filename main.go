package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/personabench/personabench/engine"
	"github.com/personabench/personabench/generator"
	"github.com/personabench/personabench/logger"
	"github.com/personabench/personabench/report"
	"github.com/personabench/personabench/templates"
	"github.com/personabench/personabench/version"
)

const (
	AppName = "personabench"
)

func main() {
	testPath := flag.String("f", "", "Path to the test configuration file (YAML)")
	genPath := flag.String("g", "", "Path to a generator configuration file (generates scenarios/personas instead of running tests)")
	genOutputDir := flag.String("gen-out", "", "Directory for the generated test file (defaults to the generator config's directory)")
	genDryRun := flag.Bool("gen-dry-run", false, "Print the generated test file to stdout instead of writing it")
	outputPath := flag.String("o", "", "Base path for report files (extension is added per report type)")
	logPath := flag.String("l", "", "Path to the log file (if not set, logs to stdout)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	showVersion := flag.Bool("v", false, "Show version and exit")
	reportType := flag.String("reportType", "json", "Comma-separated report types (json, md)")

	flag.Parse()

	fmt.Printf("Version: %s\nCommit: %s\nBuildDate: %s\n",
		version.Version, version.Commit, version.BuildDate)
	if *showVersion {
		return
	}

	// Initialize Logger
	logWriter, logFile, err := logger.SetupLogWriter(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to setup logging: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.SetupLogger(logWriter, *verbose)
	templates.RegisterHelpers()

	if *genPath != "" {
		outputDir := *genOutputDir
		if outputDir == "" {
			outputDir = filepath.Dir(*genPath)
		}
		generator.Run(context.Background(), *genPath, outputDir, *genDryRun)
		return
	}

	// Validate input
	if *testPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -f <test-file> or -g <generator-file> is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// Validate report types
	reportTypes := strings.Split(*reportType, ",")
	for i, rt := range reportTypes {
		reportTypes[i] = strings.TrimSpace(rt)
		if err := report.ValidateReportType(reportTypes[i]); err != nil {
			logger.Logger.Error("Invalid report type", "error", err)
			os.Exit(1)
		}
	}

	logger.Logger.Info("Starting application",
		"app", AppName,
		"config", *testPath,
		"output", *outputPath,
		"logfile", *logPath,
		"verbose", *verbose)

	engine.Run(*testPath, *verbose, *outputPath, reportTypes)
}
