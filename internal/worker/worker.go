package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// taskEnvelope is the wire format shared by all pipeline tasks.
type taskEnvelope struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

func decodeTask(t *asynq.Task, payload interface{}) (string, error) {
	var envelope taskEnvelope
	if err := json.Unmarshal(t.Payload(), &envelope); err != nil {
		return "", fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return "", fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	return envelope.JobID, nil
}

// watchCancel derives a context that is cancelled when the session's cancel
// channel closes (discard/retake), so suspension points unwind promptly.
func watchCancel(ctx context.Context, ch <-chan struct{}) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-cctx.Done():
		}
	}()
	return cctx, cancel
}

func pct(frac float64) int {
	p := int(frac * 100)
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p
}
