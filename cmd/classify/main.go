package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/timmy/themescope/internal/app"
	"github.com/timmy/themescope/internal/config"
	"github.com/timmy/themescope/internal/dataset/jsonl"
	"github.com/timmy/themescope/internal/domain"
	"github.com/timmy/themescope/internal/logger"
	"github.com/timmy/themescope/internal/metrics"
	"github.com/timmy/themescope/internal/service"
)

func main() {
	// Initialize logger first (LOG_* environment variables)
	logCfg := logger.LoadFromEnv()
	if os.Getenv("SERVICE_NAME") == "" {
		logCfg.ServiceName = "themescope-classify"
	}
	appLogger := logger.NewFromEnv(logCfg)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	datasetPath := flag.String("dataset", "", "Path to the JSONL dataset")
	idColumn := flag.String("id-column", "id", "Column holding the row identifier")
	columns := flag.String("columns", "", "Comma-separated columns to classify, in order")
	resume := flag.Bool("resume", false, "Resume from the dataset's checkpoint when it matches")
	parallel := flag.Bool("parallel", false, "Use one worker per credential (overrides run.parallel)")
	output := flag.String("output", "", "Write the run report as JSON to this file")
	flag.Parse()

	if *datasetPath == "" || *columns == "" {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if *parallel {
		cfg.Run.Parallel = true
	}
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := app.Build(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize components")
	}
	defer components.Close()

	selected := splitColumns(*columns)
	appLogger.WithFields(logger.Fields{
		"dataset":  *datasetPath,
		"columns":  selected,
		"resume":   *resume,
		"parallel": cfg.Run.Parallel,
	}).Info("Starting classification")

	ds, err := jsonl.NewAdapter(*datasetPath, *idColumn).Load(ctx)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load dataset")
	}

	orchestrator := components.Orchestrator(cfg).WithProgress(func(p service.Progress) {
		logger.With(logger.Fields{
			logger.FieldRunID:  p.RunID,
			logger.FieldColumn: p.Column,
		}).Info(ctx, "Progress: column %d/%d, batch %d/%d, failed_rows=%d",
			p.ColumnIndex, p.ColumnCount, p.BatchesDone, p.BatchesTotal, p.FailedRows)
	})

	// First signal stops cooperatively, the second abandons the run.
	ctrl := service.NewController()
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, stopping after in-flight batches...")
		if err := ctrl.Stop(); err != nil {
			appLogger.WithError(err).Warn("Stop ignored")
		}
		<-sigChan
		appLogger.Warn("Received second signal, canceling...")
		cancel()
	}()

	report, err := orchestrator.Run(ctx, ctrl, service.RunRequest{
		Dataset: ds,
		Columns: selected,
		Resume:  *resume,
	})
	if report == nil {
		appLogger.WithError(err).Fatal("Run failed")
	}

	if *output != "" {
		if werr := writeReport(*output, report); werr != nil {
			appLogger.WithError(werr).Error("Failed to write report")
		}
	}

	appLogger.WithFields(logger.Fields{
		logger.FieldRunID: report.RunID,
		"outcome":         report.Outcome,
		"completed":       report.CompletedColumns,
		"failed_rows":     len(report.FailedRows),
	}).Info("Classification finished")

	if err != nil || report.Outcome == domain.RunOutcomeFailed {
		appLogger.WithError(err).Error("Run abandoned")
		os.Exit(1)
	}
}

func splitColumns(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func writeReport(path string, report *service.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
