// Package main implements the bookinglake binary.
// It runs the REST API, the Redis queue consumer and the compaction
// daemon together or one at a time based on the --mode flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/bookinglake/bookinglake/internal/app"
	"github.com/bookinglake/bookinglake/internal/config"
	"github.com/bookinglake/bookinglake/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		envFile     string
		dataDir     string
		mode        string
		httpAddr    string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&envFile, "env-file", ".env", "Path to a .env file; ignored when missing")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for local data files")
	flag.StringVar(&mode, "mode", "", "Service mode: all, http, queue, compact")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "bookinglake - booking events into daily Parquet partitions\n\n")
		fmt.Fprintf(os.Stderr, "Usage: bookinglake [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  bookinglake --mode http --data-dir /data/bookinglake\n")
		fmt.Fprintf(os.Stderr, "  bookinglake --mode all --config /etc/bookinglake/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  BOOKINGLAKE_MODE          Service mode (all, http, queue, compact)\n")
		fmt.Fprintf(os.Stderr, "  BOOKINGLAKE_STORAGE_TYPE  Storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  BOOKINGLAKE_S3_BUCKET     Bucket holding the partitions\n")
		fmt.Fprintf(os.Stderr, "  BOOKINGLAKE_REDIS_ADDR    Redis address for queue mode\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("bookinglake version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(configFile, envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// Command line flags have the highest priority.
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to create application", zap.Error(err))
	}

	logger.Info("starting bookinglake",
		zap.String("version", version),
		zap.String("mode", string(cfg.Mode)),
		zap.String("storage", cfg.Storage.Type),
		zap.String("http_addr", cfg.HTTP.Addr))

	if err := application.Run(ctx); err != nil {
		logger.Error("bookinglake stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
