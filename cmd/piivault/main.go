package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/pii-vault/internal/anonymizer"
	"github.com/raaihank/pii-vault/internal/config"
	"github.com/raaihank/pii-vault/internal/detector"
	"github.com/raaihank/pii-vault/internal/logger"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "anonymize":
		runAnonymize(os.Args[2:])
	case "restore":
		runRestore(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Printf("pii-vault %s (commit: %s, built: %s)\n", version, commit, date)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  piivault anonymize -in <dir> -out <dir> [-config <file>] [-mapping <prior-manifest>]")
	fmt.Fprintln(os.Stderr, "  piivault restore -in <dir> -out <dir> -mapping <manifest> [-keep-filenames]")
	fmt.Fprintln(os.Stderr, "  piivault version")
}

func runAnonymize(args []string) {
	fs := flag.NewFlagSet("anonymize", flag.ExitOnError)
	var (
		configPath  = fs.String("config", "", "Path to configuration file")
		inputDir    = fs.String("in", "", "Input directory to anonymize")
		outputDir   = fs.String("out", "", "Output directory for the anonymized tree")
		mappingPath = fs.String("mapping", "", "Prior manifest to preload for a multi-pass run")
	)
	fs.Parse(args)

	if *inputDir == "" || *outputDir == "" {
		fmt.Fprintln(os.Stderr, "anonymize requires -in and -out")
		os.Exit(2)
	}

	cfg, log := mustSetup(*configPath)
	defer log.Sync()

	log.Info("Starting pii-vault",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
	)

	factory := detector.NewFactory(log)
	det, err := factory.CreateDetector(cfg.Detector)
	if err != nil {
		log.Fatal("Failed to create detector", zap.Error(err))
	}

	anon, err := anonymizer.New(cfg, det, log)
	if err != nil {
		log.Fatal("Failed to create anonymizer", zap.Error(err))
	}

	if *mappingPath != "" {
		if err := anon.PreloadManifest(*mappingPath); err != nil {
			log.Fatal("Failed to preload manifest", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := anon.Run(ctx, *inputDir, *outputDir)
	if err != nil {
		log.Fatal("Anonymization run failed", zap.Error(err))
	}

	fmt.Printf("anonymized %d files (%d skipped, %d failed) into %s\n",
		result.Statistics.ProcessedFiles,
		result.Statistics.SkippedFiles,
		result.Statistics.FailedFiles,
		result.OutputDir,
	)
	fmt.Printf("mapping written to %s\n", result.ManifestPath)
}

func runRestore(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	var (
		configPath    = fs.String("config", "", "Path to configuration file")
		inputDir      = fs.String("in", "", "Anonymized directory to restore")
		outputDir     = fs.String("out", "", "Output directory for the restored tree")
		mappingPath   = fs.String("mapping", "", "Manifest written by the anonymization run")
		keepFilenames = fs.Bool("keep-filenames", false, "Do not restore tokens inside file and directory names")
	)
	fs.Parse(args)

	if *inputDir == "" || *outputDir == "" || *mappingPath == "" {
		fmt.Fprintln(os.Stderr, "restore requires -in, -out and -mapping")
		os.Exit(2)
	}

	_, log := mustSetup(*configPath)
	defer log.Sync()

	dean, err := anonymizer.NewDeanonymizer(*mappingPath, log)
	if err != nil {
		log.Fatal("Failed to load manifest", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := dean.Run(ctx, *inputDir, *outputDir, !*keepFilenames)
	if err != nil {
		log.Fatal("Restoration run failed", zap.Error(err))
	}

	fmt.Printf("restored %d of %d files into %s\n",
		result.RestoredFiles, result.TotalFiles, result.OutputDir)
}

func mustSetup(configPath string) (*config.Config, *logger.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	return cfg, log
}
