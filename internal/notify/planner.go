// Package notify plans, renders, dispatches and reconciles the notification
// batches sent to an offer source about offers missing from inventory.
package notify

import (
	"fmt"

	"offerwall/reconciler-service/internal/model"
)

// StaggerHours spaces batches apart when the interval is zero ("send all at
// once") so downstream submissions never share a timestamp. 30 seconds.
const StaggerHours = 30.0 / 3600.0

// Plan slices n missing offers into contiguous batches of batchSize and
// assigns each a send offset relative to submission time. Batch i is sent
// i*intervalHours after batch 0, or i*StaggerHours when intervalHours is 0.
func Plan(n, batchSize int, intervalHours float64) ([]model.Batch, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", batchSize)
	}
	if n < 0 {
		return nil, fmt.Errorf("offer count must not be negative, got %d", n)
	}
	if intervalHours < 0 {
		return nil, fmt.Errorf("interval must not be negative, got %v hours", intervalHours)
	}

	step := intervalHours
	if step == 0 {
		step = StaggerHours
	}

	count := (n + batchSize - 1) / batchSize
	batches := make([]model.Batch, 0, count)
	for i := 0; i < count; i++ {
		end := (i + 1) * batchSize
		if end > n {
			end = n
		}
		batches = append(batches, model.Batch{
			Index:                i,
			Start:                i * batchSize,
			End:                  end,
			ScheduledOffsetHours: float64(i) * step,
		})
	}
	return batches, nil
}
