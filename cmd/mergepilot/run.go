package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mergepilot-dev/mergepilot/internal/deliverables"
	"github.com/mergepilot-dev/mergepilot/internal/orchestrator"
	"github.com/mergepilot-dev/mergepilot/internal/telemetry"
)

// exitValidation, exitRuntimeOrFailed, and exitOK implement §6's exit
// conventions: 0 = no failures/blocks, 1 = runtime failure or one or
// more nodes failed/blocked, 2 = validation error.
const (
	exitOK              = 0
	exitRuntimeOrFailed = 1
	exitValidation      = 2
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <plan.json>",
		Short: "Validate and execute a plan, then report the merge-eligibility summary",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	flags := cmd.Flags()
	flags.String("artifact-dir", "", "Directory gate artifacts are collected into")
	flags.Int("default-timeout-ms", 30000, "Fallback gate timeout when a gate doesn't set its own")
	flags.String("deliverables-dir", "", "Directory a reproducible run directory is written under (empty = skip)")
	flags.String("log-level", "info", "debug|info|warn|error")
	flags.Bool("log-json", false, "Emit structured logs as JSON instead of text")
	flags.String("log-file", "", "Write logs to this path instead of stderr, rotated via lumberjack")
	flags.String("stop-file", "", "Watch this path; its creation cancels the run (abstract cancellation signal)")
	flags.String("actor", "", "Identity recorded in the manifest's executionContext")
	flags.String("environment", "local", "ci|local, recorded in the manifest's executionContext")
	flags.String("profile-path", "", "Opaque profile path recorded in the manifest")

	_ = viper.BindPFlags(flags)

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("mergepilot: read plan file: %w", err)
	}

	level := telemetry.ParseLevel(viper.GetString("log-level"))
	jsonFormat := viper.GetBool("log-json")

	var logger telemetry.Logger
	if logPath := viper.GetString("log-file"); logPath != "" {
		closer, fileLogger := telemetry.NewFileLogger(telemetry.FileConfig{Path: logPath}, jsonFormat, level)
		defer closer.Close()
		logger = fileLogger
	} else {
		logger = telemetry.NewWriterLogger(os.Stderr, jsonFormat, level)
	}
	metrics := telemetry.NoopMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt, cancelling run")
		cancel()
	}()

	if stopFile := viper.GetString("stop-file"); stopFile != "" {
		stopWatch, err := watchStopFile(ctx, stopFile, cancel)
		if err != nil {
			logger.Warn("could not watch stop file, continuing without it", "path", stopFile, "error", err)
		} else if stopWatch != nil {
			defer stopWatch.Close()
		}
	}

	environment := deliverables.EnvironmentLocal
	if viper.GetString("environment") == "ci" {
		environment = deliverables.EnvironmentCI
	}

	summary, err := orchestrator.Run(ctx, raw, orchestrator.Options{
		ArtifactDir:      viper.GetString("artifact-dir"),
		DefaultTimeoutMs: viper.GetInt("default-timeout-ms"),
		Logger:           logger,
		Metrics:          metrics,
		DeliverablesDir:  viper.GetString("deliverables-dir"),
		RunnerVersion:    Version,
		ProfilePath:      viper.GetString("profile-path"),
		Actor:            viper.GetString("actor"),
		Environment:      environment,
	})
	if err != nil {
		if isValidationError(err) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitValidation)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRuntimeOrFailed)
	}

	printSummary(summary)

	if summary.HasFailuresOrBlocks() {
		os.Exit(exitRuntimeOrFailed)
	}
	os.Exit(exitOK)
	return nil
}

func printSummary(s orchestrator.Summary) {
	fmt.Printf("target: %s\n", s.Target)
	fmt.Printf("eligible: %v\n", s.Eligibility.Eligible)
	fmt.Printf("pending: %v\n", s.Eligibility.Pending)
	fmt.Printf("blocked: %v\n", s.Eligibility.Blocked)
	fmt.Printf("failed: %v\n", s.Eligibility.Failed)
	fmt.Printf("readyForMerge: %v\n", s.ReadyForMerge)
	if s.RunDir != "" {
		fmt.Printf("runDir: %s\n", s.RunDir)
	}
}
