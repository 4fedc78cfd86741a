// Package jobstore is the durable system of record for notification jobs.
//
// Valid status graph:
//
//	pending ──► sent
//	   │ │
//	   │ └────► cancelled
//	   ▼
//	 failed ──► pending   (retry)
//
// sent and cancelled are terminal states.
package jobstore

import (
	"fmt"

	"offerwall/reconciler-service/internal/model"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[model.JobStatus][]model.JobStatus{
	model.JobPending: {model.JobSent, model.JobFailed, model.JobCancelled},
	model.JobFailed:  {model.JobPending},
	// sent and cancelled are terminal
}

// ParseStatus converts a raw string to a JobStatus, returning an error for
// unknown values.
func ParseStatus(s string) (model.JobStatus, error) {
	st := model.JobStatus(s)
	switch st {
	case model.JobPending, model.JobSent, model.JobFailed, model.JobCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// IsTransitionAllowed reports whether a job may move from → to.
func IsTransitionAllowed(from, to model.JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal is true for statuses with no outgoing transition.
func IsTerminal(s model.JobStatus) bool {
	return len(validTransitions[s]) == 0
}
