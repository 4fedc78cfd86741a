package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"offerwall/reconciler-service/internal/model"
)

// JobSpec is everything the job store needs to create one notification.
type JobSpec struct {
	Batch       model.Batch
	Subject     string
	Body        string
	Recipients  []string
	ScheduledAt time.Time
	Delay       time.Duration // ScheduledAt minus submission time
}

// ScheduledInDays expresses Delay as fractional days for the job store.
func (s JobSpec) ScheduledInDays() float64 {
	return s.Delay.Hours() / 24
}

// Submitter hands a job to the job store and returns its ID.
type Submitter interface {
	Submit(ctx context.Context, spec JobSpec) (string, error)
}

// SubmitFunc adapts a function to Submitter.
type SubmitFunc func(ctx context.Context, spec JobSpec) (string, error)

// Submit calls f.
func (f SubmitFunc) Submit(ctx context.Context, spec JobSpec) (string, error) { return f(ctx, spec) }

// BatchError reports one batch that could not be submitted. Start and End
// identify the offer range so the operator can retry just that batch.
type BatchError struct {
	Index   int    `json:"index"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Message string `json:"message"`
}

func (e BatchError) Error() string {
	return fmt.Sprintf("batch %d (offers %d-%d): %s", e.Index, e.Start, e.End, e.Message)
}

// DispatchedJob links a submitted batch to the job created for it.
type DispatchedJob struct {
	Batch       model.Batch `json:"batch"`
	JobID       string      `json:"jobId"`
	ScheduledAt time.Time   `json:"scheduledAt"`
}

// DispatchResult collects the outcome of every batch. Scheduled holds the
// offsets into the missing list covered by successfully submitted batches.
type DispatchResult struct {
	Scheduled []int           `json:"scheduled"`
	Jobs      []DispatchedJob `json:"jobs"`
	Errors    []BatchError    `json:"errors"`
}

// Dispatcher submits one job per batch.
type Dispatcher struct {
	submit Submitter
	render RenderFunc
	now    func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRenderer replaces RenderItem for body lines.
func WithRenderer(r RenderFunc) Option { return func(d *Dispatcher) { d.render = r } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// NewDispatcher returns a Dispatcher submitting through s.
func NewDispatcher(s Submitter, opts ...Option) *Dispatcher {
	d := &Dispatcher{submit: s, render: RenderItem, now: time.Now}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch submits batches in index order, one at a time. A failed batch is
// recorded and the loop moves on; every batch appears either in Jobs or in
// Errors when Dispatch returns. Once ctx is done the remaining batches are
// reported as errors without being submitted.
func (d *Dispatcher) Dispatch(ctx context.Context, batches []model.Batch, missing []model.CandidateOffer, recipient string) DispatchResult {
	res := DispatchResult{
		Scheduled: make([]int, 0),
		Jobs:      make([]DispatchedJob, 0, len(batches)),
		Errors:    make([]BatchError, 0),
	}
	now := d.now()

	for _, b := range batches {
		fail := func(msg string) {
			res.Errors = append(res.Errors, BatchError{Index: b.Index, Start: b.Start, End: b.End, Message: msg})
			slog.Warn("batch submission failed", "batch", b.Index, "start", b.Start, "end", b.End, "err", msg)
		}

		if err := ctx.Err(); err != nil {
			fail(err.Error())
			continue
		}
		if b.Start < 0 || b.End > len(missing) || b.Start >= b.End {
			fail(fmt.Sprintf("range [%d,%d) outside %d missing offers", b.Start, b.End, len(missing)))
			continue
		}

		spec := JobSpec{
			Batch:       b,
			Subject:     Subject(b, len(batches)),
			Body:        RenderBody(missing[b.Start:b.End], b, len(batches), d.render),
			Recipients:  []string{recipient},
			ScheduledAt: now.Add(b.Offset()),
			Delay:       b.Offset(),
		}

		id, err := d.submit.Submit(ctx, spec)
		if err != nil {
			fail(err.Error())
			continue
		}

		for i := b.Start; i < b.End; i++ {
			res.Scheduled = append(res.Scheduled, i)
		}
		res.Jobs = append(res.Jobs, DispatchedJob{Batch: b, JobID: id, ScheduledAt: spec.ScheduledAt})
		slog.Info("batch scheduled", "batch", b.Index, "jobId", id, "offers", b.Len(), "scheduledAt", spec.ScheduledAt)
	}
	return res
}
