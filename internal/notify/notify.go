// Package notify reports batch outcomes to an operator-facing channel. The
// wire format of that channel (HTML email, in the original system) is out
// of scope; what matters is that every batch produces exactly one Report.
package notify

import (
	"context"
	"encoding/json"
	"log"
)

// Report summarizes one executor or strategy batch invocation.
type Report struct {
	Worker    string   `json:"worker"`
	Submitted []string `json:"submitted"`
	Rejected  []string `json:"rejected"`
	Invalid   []string `json:"invalid"`
	Errors    []string `json:"errors"`
}

// Notifier is the one-method collaborator both workers report through.
type Notifier interface {
	Notify(ctx context.Context, report Report) error
}

// LogNotifier renders the report as a structured log line through the
// worker's own logger. This is the default Notifier: it has no external
// dependency to fail, so a notification never becomes the reason a batch
// reports an error.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier creates a LogNotifier writing through logger (or
// log.Default() if nil).
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, report Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}
	n.logger.Printf("batch report: %s", body)
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
