// Package delivery moves due notification jobs from the job store to the
// mail transport.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"offerwall/reconciler-service/internal/model"
)

// JobQueue is the slice of the job store the worker needs.
type JobQueue interface {
	ClaimDue(ctx context.Context, limit int) ([]model.NotificationJob, error)
	Claim(ctx context.Context, id string) (*model.NotificationJob, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// Summary counts what one delivery cycle did.
type Summary struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Worker claims due jobs and sends them one by one.
type Worker struct {
	jobs   JobQueue
	sender Sender
	limit  int
	now    func() time.Time
}

// NewWorker constructs a Worker claiming at most limit jobs per cycle.
func NewWorker(jobs JobQueue, sender Sender, limit int) *Worker {
	if limit < 1 {
		limit = 50
	}
	return &Worker{jobs: jobs, sender: sender, limit: limit, now: time.Now}
}

// RunOnce executes one delivery cycle. A job that fails to send is marked
// failed and the cycle moves on; only a failure to claim aborts it.
func (w *Worker) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary

	jobs, err := w.jobs.ClaimDue(ctx, w.limit)
	if err != nil {
		return sum, fmt.Errorf("claim due jobs: %w", err)
	}
	sum.Claimed = len(jobs)
	if len(jobs) == 0 {
		return sum, nil
	}

	for _, job := range jobs {
		if w.deliver(ctx, job) == model.JobSent {
			sum.Sent++
		} else {
			sum.Failed++
		}
	}

	slog.Info("delivery cycle complete", "claimed", sum.Claimed, "sent", sum.Sent, "failed", sum.Failed)
	return sum, nil
}

// DeliverNow sends a single pending job immediately, regardless of its
// schedule, and returns its resulting status.
func (w *Worker) DeliverNow(ctx context.Context, id string) (model.JobStatus, error) {
	job, err := w.jobs.Claim(ctx, id)
	if err != nil {
		return "", err
	}
	return w.deliver(ctx, *job), nil
}

// deliver sends job and records the outcome. Bookkeeping errors are logged;
// the claim lease expires and the job is picked up again.
func (w *Worker) deliver(ctx context.Context, job model.NotificationJob) model.JobStatus {
	if err := w.sender.Send(ctx, job); err != nil {
		slog.Warn("delivery failed", "jobId", job.ID, "attempt", job.Attempts, "err", err)
		if err := w.jobs.MarkFailed(ctx, job.ID, err.Error()); err != nil {
			slog.Error("mark job failed", "jobId", job.ID, "err", err)
		}
		return model.JobFailed
	}

	if err := w.jobs.MarkSent(ctx, job.ID, w.now().UTC()); err != nil {
		slog.Error("mark job sent", "jobId", job.ID, "err", err)
		return model.JobPending
	}
	return model.JobSent
}
