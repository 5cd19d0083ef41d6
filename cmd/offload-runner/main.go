package main

import (
	"context"
	"flag"
	"log"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/halverson/offload/internal/config"
	"github.com/halverson/offload/internal/remote"
	"github.com/halverson/offload/internal/result"
	"github.com/halverson/offload/internal/task"
)

// offload-runner is the in-container entrypoint. It fetches the payload from
// the shared store, invokes the named handler, and writes the result envelope
// back. A non-zero exit marks the run failed; the orchestrator reads the
// container logs for diagnostics.
func main() {
	bucket := flag.String("bucket", "", "shared store bucket")
	payloadKey := flag.String("payload-key", "", "payload object key")
	resultKey := flag.String("result-key", "", "result object key")
	flag.Parse()

	if *bucket == "" || *payloadKey == "" || *resultKey == "" {
		log.Fatal("usage: offload-runner -bucket <name> -payload-key <key> -result-key <key>")
	}

	logger := config.NewLogger(os.Stderr, config.Load().LogLevel)
	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("failed to load AWS configuration: %v", err)
	}

	registry := task.NewRegistry()
	registerTasks(registry)

	runner := remote.NewRunner(result.NewS3Store(awsCfg, *bucket), registry, logger)
	if err := runner.Run(ctx, *payloadKey, *resultKey); err != nil {
		logger.Error("task run failed", "payload_key", *payloadKey, "error", err)
		os.Exit(1)
	}
}
