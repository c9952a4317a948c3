package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskhub/internal/runtime"
)

type sleepPayload struct {
	Seconds  float64 `json:"seconds"`
	Duration string  `json:"duration"` // alternative to seconds, e.g. "250ms"
}

// SleepBuilder returns a job that simulates a long-running operation by
// waiting for the requested duration. Cancelling the context ends the wait.
func SleepBuilder() Builder {
	return func(payload json.RawMessage) (runtime.UnitOfWork, error) {
		var p sleepPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("invalid sleep payload: %w", err)
		}
		d := time.Duration(p.Seconds * float64(time.Second))
		if p.Duration != "" {
			var err error
			if d, err = time.ParseDuration(p.Duration); err != nil {
				return nil, fmt.Errorf("invalid sleep duration: %w", err)
			}
		}
		if d <= 0 {
			return nil, fmt.Errorf("sleep duration must be positive")
		}

		return func(ctx context.Context) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}, nil
	}
}
