// Package main is the Strategy Evaluator's Lambda-shaped entry point
// (SPEC_FULL §4.G, §6): one batch of inserted quotes in, one
// {"State": "OK"|"ERROR"} response out.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/vixroll/controlplane/internal/config"
	"github.com/vixroll/controlplane/internal/entrypoint"
	"github.com/vixroll/controlplane/internal/events"
)

func main() {
	os.Exit(run(os.Stdin, os.Stdout))
}

func run(in *os.File, out *os.File) int {
	logger := log.New(os.Stderr, "[strategy] ", log.LstdFlags)

	cfg, err := config.LoadStrategyConfig()
	if err != nil {
		logger.Printf("config: %v", err)
		writeResponse(out, entrypoint.Response{State: "ERROR"})
		return 1
	}

	var batch events.Batch
	if err := json.NewDecoder(in).Decode(&batch); err != nil {
		logger.Printf("decode event: %v", err)
		writeResponse(out, entrypoint.Response{State: "ERROR"})
		return 1
	}

	resp, err := entrypoint.RunStrategy(context.Background(), cfg, batch, logger)
	writeResponse(out, resp)
	if err != nil {
		logger.Printf("handle: %v", err)
		return 1
	}
	return 0
}

func writeResponse(out *os.File, resp entrypoint.Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		fmt.Fprintln(out, `{"State":"ERROR"}`)
		return
	}
	fmt.Fprintln(out, string(body))
}
