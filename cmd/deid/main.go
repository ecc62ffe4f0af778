package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/scribe-sentinel/internal/config"
	"github.com/raaihank/scribe-sentinel/internal/etl"
	"github.com/raaihank/scribe-sentinel/internal/logger"
	"github.com/raaihank/scribe-sentinel/internal/privacy"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Configuration file path")
		inputFile    = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSON lines)")
		outputFile   = flag.String("output", "", "Output file (default: <input>.redacted.<ext>)")
		outputFormat = flag.String("format", "", "Output format: csv, json or parquet (default: from output extension)")
		batchSize    = flag.Int("batch-size", 500, "Records per batch")
		workers      = flag.Int("workers", 4, "Number of worker goroutines")
		detectors    = flag.String("detectors", "", "Comma separated categories to apply (default: from config)")
		noContext    = flag.Bool("no-context", false, "Disable the Patient/Dr. context rules")
		keepEmpty    = flag.Bool("keep-empty", false, "Write records with empty text instead of skipping them")
		showStats    = flag.Bool("stats", false, "Print per-category totals when done")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input transcripts.csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input transcripts.parquet --workers 8 --stats\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input notes.jsonl --output notes.parquet\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling...")
		cancel()
	}()

	privacyCfg := cfg.Privacy
	privacyCfg.Enabled = true
	if *detectors != "" {
		privacyCfg.Detectors = strings.Split(*detectors, ",")
	}
	if *noContext {
		privacyCfg.ContextRules = false
	}

	detector, err := privacy.New(privacyCfg, log.WithComponent("privacy"))
	if err != nil {
		log.Fatal("Failed to create privacy detector", zap.Error(err))
	}

	output := *outputFile
	if output == "" {
		output = defaultOutputPath(*inputFile)
	}

	if _, err := os.Stat(*inputFile); os.IsNotExist(err) {
		log.Fatal("Input file does not exist", zap.String("file", *inputFile))
	}

	etlConfig := etl.DefaultConfig()
	etlConfig.BatchSize = *batchSize
	etlConfig.WorkerCount = *workers
	etlConfig.SkipEmpty = !*keepEmpty
	etlConfig.OutputFormat = etl.FileFormat(*outputFormat)

	pipeline := etl.NewPipeline(detector, etlConfig, log.WithComponent("etl").Logger)
	result, err := pipeline.ProcessFile(ctx, *inputFile, output)
	if err != nil {
		log.Fatal("De-identification failed", zap.Error(err))
	}

	log.Info("Dataset de-identified",
		zap.String("input", *inputFile),
		zap.String("output", output),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	if len(result.Errors) > 0 {
		log.Warn("Completed with unreadable records", zap.Strings("errors", result.Errors))
	}

	if *showStats {
		printStats(result)
	}
}

func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".redacted" + ext
}

func printStats(result *etl.ProcessingResult) {
	names := make([]string, 0, len(result.Counts))
	for name := range result.Counts {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("\n=== De-identification Summary ===\n")
	fmt.Printf("Records read:       %d\n", result.TotalRecords)
	fmt.Printf("Records written:    %d\n", result.ProcessedOK)
	fmt.Printf("Skipped:            %d\n", result.Skipped)
	fmt.Printf("Unreadable:         %d\n", result.Failed)
	fmt.Printf("Total replacements: %d\n", result.TotalFindings)
	for _, name := range names {
		fmt.Printf("  %-16s  %d\n", name, result.Counts[name])
	}
	fmt.Printf("\n%s\n", privacy.Advisory)
}
