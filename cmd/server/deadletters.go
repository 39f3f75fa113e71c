package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/phrazzld/parley/internal/queue"
)

type deadLetterView struct {
	ID         string          `json:"id"`
	Attempts   int             `json:"attempts"`
	Reason     string          `json:"reason"`
	EnqueuedAt string          `json:"enqueued_at"`
	FailedAt   string          `json:"failed_at"`
	Job        json.RawMessage `json:"job"`
}

// writeDeadLetters prints one JSON document per line.
func writeDeadLetters(w io.Writer, letters []queue.DeadLetter) error {
	enc := json.NewEncoder(w)
	for _, dl := range letters {
		view := deadLetterView{
			ID:         dl.ID,
			Attempts:   dl.Attempts,
			Reason:     dl.Reason,
			EnqueuedAt: dl.EnqueuedAt.UTC().Format(time.RFC3339Nano),
			FailedAt:   dl.FailedAt.UTC().Format(time.RFC3339Nano),
			Job:        json.RawMessage(dl.Payload),
		}
		if !json.Valid(dl.Payload) {
			quoted, err := json.Marshal(string(dl.Payload))
			if err != nil {
				return err
			}
			view.Job = quoted
		}
		if err := enc.Encode(view); err != nil {
			return fmt.Errorf("failed to write dead letter %s: %w", dl.ID, err)
		}
	}
	return nil
}
