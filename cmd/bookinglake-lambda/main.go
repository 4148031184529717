// Package main implements the bookinglake AWS Lambda entrypoint.
// One function serves SQS batches and booking envelopes (direct invoke,
// API Gateway proxy or function URL); the payload shape decides which
// handler runs.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/bookinglake/bookinglake/internal/app"
	"github.com/bookinglake/bookinglake/internal/config"
	"github.com/bookinglake/bookinglake/internal/logging"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// Lambda only grants write access under /tmp.
	if cfg.DataDir == config.DefaultConfig().DataDir {
		cfg.DataDir = "/tmp/bookinglake"
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	components, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize components", zap.Error(err))
	}

	d := newDispatcher(components.Ingestor, components.Events, components.BatchPolicy, logger)
	lambda.Start(d.Handle)
}
