// Package main is the local replay harness (SPEC_FULL §6): it reads an
// event.json fixture from disk, shaped like the Lambda event batches both
// workers consume, and invokes the chosen worker's handler in-process. This
// mirrors the original Python workers' own `if __name__ == "__main__":
// open("event.json")` local test entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/vixroll/controlplane/internal/config"
	"github.com/vixroll/controlplane/internal/entrypoint"
	"github.com/vixroll/controlplane/internal/events"
)

func main() {
	os.Exit(run())
}

func run() int {
	worker := flag.String("worker", "", "strategy or executor")
	eventPath := flag.String("event", "event.json", "path to a Lambda-shaped event fixture")
	flag.Parse()

	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)

	data, err := os.ReadFile(*eventPath) // #nosec G304 - operator-supplied local fixture
	if err != nil {
		logger.Printf("reading event fixture %q: %v", *eventPath, err)
		return 1
	}

	var batch events.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		logger.Printf("decoding event fixture %q: %v", *eventPath, err)
		return 1
	}

	var resp entrypoint.Response
	switch *worker {
	case "strategy":
		cfg, cfgErr := config.LoadStrategyConfig()
		if cfgErr != nil {
			logger.Printf("config: %v", cfgErr)
			return 1
		}
		resp, err = entrypoint.RunStrategy(context.Background(), cfg, batch, logger)
	case "executor":
		cfg, cfgErr := config.LoadExecutorConfig()
		if cfgErr != nil {
			logger.Printf("config: %v", cfgErr)
			return 1
		}
		resp, err = entrypoint.RunExecutor(context.Background(), cfg, batch, logger)
	default:
		logger.Printf("-worker must be %q or %q, got %q", "strategy", "executor", *worker)
		return 1
	}

	fmt.Printf(`{"State":%q}`+"\n", resp.State)
	if err != nil {
		logger.Printf("handle: %v", err)
		return 1
	}
	return 0
}
