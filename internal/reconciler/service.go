// Package reconciler orchestrates a check session: classify a candidate list
// against inventory, schedule notifications for the missing offers, and keep
// the session's view of what has been scheduled and delivered current.
//
// The service is transport-agnostic; httpapi, grpcserver and the CLI all
// call into it.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"offerwall/reconciler-service/internal/candidates"
	"offerwall/reconciler-service/internal/jobstore"
	"offerwall/reconciler-service/internal/model"
	"offerwall/reconciler-service/internal/notify"
	"offerwall/reconciler-service/internal/statecache"
)

// ErrNoCheck is returned when a session has no current check.
var ErrNoCheck = errors.New("no check for this session")

// Classifier decides inventory membership for a candidate list.
type Classifier interface {
	Classify(ctx context.Context, candidates []model.CandidateOffer) (model.ClassificationResult, error)
}

// JobStore is the durable record of notification jobs.
type JobStore interface {
	List(ctx context.Context, perPage int) ([]model.NotificationJob, error)
	ListActive(ctx context.Context) ([]model.NotificationJob, error)
	Create(ctx context.Context, in jobstore.NewJob) (string, error)
	Cancel(ctx context.Context, id string) (*model.NotificationJob, error)
	SendNow(ctx context.Context, id string) (*model.NotificationJob, error)
	Retry(ctx context.Context, id string) (*model.NotificationJob, error)
}

// Cache holds one snapshot per session. Save replaces the snapshot
// unconditionally; SaveIfCurrent only writes while the stored snapshot has
// the same CheckID and reports whether it did.
type Cache interface {
	Save(ctx context.Context, session string, snap statecache.Snapshot) error
	SaveIfCurrent(ctx context.Context, session string, snap statecache.Snapshot) (bool, error)
	Load(ctx context.Context, session string) (statecache.Snapshot, bool, error)
	Clear(ctx context.Context, session string) error
	Sessions(ctx context.Context) ([]string, error)
}

// Deliverer sends a single job immediately.
type Deliverer interface {
	DeliverNow(ctx context.Context, id string) (model.JobStatus, error)
}

// Defaults fill in ScheduleRequest fields left empty.
type Defaults struct {
	Recipient     string
	BatchSize     int
	IntervalHours float64
	JobsPerPage   int
}

// Service is the orchestrator. Build it with New.
type Service struct {
	classifier Classifier
	jobs       JobStore
	cache      Cache
	deliverer  Deliverer // optional
	defaults   Defaults
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithDeliverer makes SendJobNow deliver synchronously instead of leaving the
// job to the next delivery cycle.
func WithDeliverer(d Deliverer) Option { return func(s *Service) { s.deliverer = d } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New returns a configured Service.
func New(c Classifier, jobs JobStore, cache Cache, defaults Defaults, opts ...Option) *Service {
	if defaults.BatchSize < 1 {
		defaults.BatchSize = 25
	}
	if defaults.IntervalHours <= 0 {
		defaults.IntervalHours = 24
	}
	if defaults.JobsPerPage < 1 {
		defaults.JobsPerPage = 500
	}
	s := &Service{classifier: c, jobs: jobs, cache: cache, defaults: defaults, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ─── Check ───────────────────────────────────────────────────────────────────

// Check classifies list and replaces the session's snapshot with the result.
// A classification failure leaves the previous snapshot untouched.
func (s *Service) Check(ctx context.Context, session, source string, list []model.CandidateOffer) (statecache.Snapshot, error) {
	if err := validateSession(session); err != nil {
		return statecache.Snapshot{}, err
	}
	if len(list) == 0 {
		return statecache.Snapshot{}, candidates.ErrNoCandidates
	}
	for _, c := range list {
		if strings.TrimSpace(c.Name) == "" {
			return statecache.Snapshot{}, &candidates.InputError{Msg: fmt.Sprintf("row %d has no offer name", c.Row)}
		}
	}

	res, err := s.classifier.Classify(ctx, list)
	if err != nil {
		return statecache.Snapshot{}, fmt.Errorf("classify %d offers: %w", len(list), err)
	}

	snap := statecache.Snapshot{
		CheckID:   uuid.NewString(),
		Source:    source,
		Result:    res,
		Scheduled: make([]int, 0),
		Delivered: make([]int, 0),
		CheckedAt: s.now().UTC(),
	}
	if err := s.cache.Save(ctx, session, snap); err != nil {
		return statecache.Snapshot{}, err
	}
	slog.Info("check complete",
		"session", session, "checkId", snap.CheckID, "source", source,
		"total", res.Stats.Total, "have", res.Stats.Have, "dontHave", res.Stats.DontHave)

	// Offers requested by an earlier check show up as scheduled/delivered.
	return s.reconcile(ctx, session, snap), nil
}

// ─── Schedule ────────────────────────────────────────────────────────────────

// ScheduleRequest controls how the missing list is split and paced.
// Empty fields take the service defaults. An explicit IntervalHours of 0
// sends every batch at once, staggered by notify.StaggerHours.
type ScheduleRequest struct {
	Recipient     string   `json:"recipient"`
	BatchSize     int      `json:"batchSize"`
	IntervalHours *float64 `json:"intervalHours,omitempty"`
}

// ScheduleReport is the outcome of Schedule. Errors lists batches that could
// not be submitted; the rest were.
type ScheduleReport struct {
	Batches   []model.Batch          `json:"batches"`
	Jobs      []notify.DispatchedJob `json:"jobs"`
	Scheduled []int                  `json:"scheduled"`
	Errors    []notify.BatchError    `json:"errors"`
	Snapshot  statecache.Snapshot    `json:"snapshot"`
}

// Schedule plans batches over the session's missing offers and submits one
// notification job per batch.
func (s *Service) Schedule(ctx context.Context, session string, req ScheduleRequest) (ScheduleReport, error) {
	snap, err := s.load(ctx, session)
	if err != nil {
		return ScheduleReport{}, err
	}

	if req.Recipient == "" {
		req.Recipient = s.defaults.Recipient
	}
	if req.BatchSize == 0 {
		req.BatchSize = s.defaults.BatchSize
	}
	interval := s.defaults.IntervalHours
	if req.IntervalHours != nil {
		interval = *req.IntervalHours
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return ScheduleReport{}, &candidates.InputError{Msg: "recipient is required"}
	}

	missing := snap.Result.NotInInventory
	batches, err := notify.Plan(len(missing), req.BatchSize, interval)
	if err != nil {
		return ScheduleReport{}, &candidates.InputError{Msg: err.Error()}
	}

	submit := notify.SubmitFunc(func(ctx context.Context, spec notify.JobSpec) (string, error) {
		return s.jobs.Create(ctx, jobstore.NewJob{
			Subject:         spec.Subject,
			Body:            spec.Body,
			Recipients:      spec.Recipients,
			ScheduledInDays: spec.ScheduledInDays(),
		})
	})
	res := notify.NewDispatcher(submit, notify.WithClock(s.now)).Dispatch(ctx, batches, missing, req.Recipient)

	slog.Info("schedule complete",
		"session", session, "checkId", snap.CheckID,
		"batches", len(batches), "submitted", len(res.Jobs), "failed", len(res.Errors))

	// Freshly created jobs are merged in even if the listing misses them.
	snap = s.reconcile(ctx, session, snap, res.Scheduled...)

	return ScheduleReport{
		Batches:   batches,
		Jobs:      res.Jobs,
		Scheduled: res.Scheduled,
		Errors:    res.Errors,
		Snapshot:  snap,
	}, nil
}

// ─── State ───────────────────────────────────────────────────────────────────

// Refresh rebuilds the session's scheduled/delivered sets from the job
// store. If the job store cannot be read, the cached sets are returned
// marked Stale.
func (s *Service) Refresh(ctx context.Context, session string) (statecache.Snapshot, error) {
	snap, err := s.load(ctx, session)
	if err != nil {
		return statecache.Snapshot{}, err
	}
	return s.reconcile(ctx, session, snap), nil
}

// State returns the session's current view. It always reconciles first.
func (s *Service) State(ctx context.Context, session string) (statecache.Snapshot, error) {
	return s.Refresh(ctx, session)
}

// Clear forgets the session's check. Jobs already scheduled are unaffected.
func (s *Service) Clear(ctx context.Context, session string) error {
	if err := validateSession(session); err != nil {
		return err
	}
	return s.cache.Clear(ctx, session)
}

// RefreshAll reconciles every cached session and returns how many were
// refreshed. A failing session is logged and skipped.
func (s *Service) RefreshAll(ctx context.Context) (int, error) {
	sessions, err := s.cache.Sessions(ctx)
	if err != nil {
		return 0, err
	}
	if len(sessions) == 0 {
		return 0, nil
	}

	jobs, err := s.jobs.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}

	refreshed := 0
	for _, session := range sessions {
		snap, ok, err := s.cache.Load(ctx, session)
		if err != nil {
			slog.Warn("refresh session failed", "session", session, "err", err)
			continue
		}
		if !ok {
			continue
		}
		_, saved, err := s.apply(ctx, session, snap, jobs)
		if err != nil {
			slog.Warn("refresh session failed", "session", session, "err", err)
			continue
		}
		if saved {
			refreshed++
		}
	}
	return refreshed, nil
}

// ─── Jobs ────────────────────────────────────────────────────────────────────

// ListJobs returns up to perPage jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, perPage int) ([]model.NotificationJob, error) {
	if perPage < 1 {
		perPage = s.defaults.JobsPerPage
	}
	return s.jobs.List(ctx, perPage)
}

// CancelJob cancels a pending job.
func (s *Service) CancelJob(ctx context.Context, id string) (*model.NotificationJob, error) {
	return s.jobs.Cancel(ctx, id)
}

// SendJobNow makes a pending job due immediately and, with a Deliverer
// configured, sends it before returning.
func (s *Service) SendJobNow(ctx context.Context, id string) (*model.NotificationJob, error) {
	job, err := s.jobs.SendNow(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.deliverer == nil {
		return job, nil
	}

	status, err := s.deliverer.DeliverNow(ctx, id)
	if err != nil {
		// Another worker holds the lease; it will send the job.
		slog.Warn("immediate delivery skipped", "jobId", id, "err", err)
		return job, nil
	}
	job.Status = status
	return job, nil
}

// RetryJob re-queues a failed job.
func (s *Service) RetryJob(ctx context.Context, id string) (*model.NotificationJob, error) {
	return s.jobs.Retry(ctx, id)
}

// ─── Internals ───────────────────────────────────────────────────────────────

func validateSession(session string) error {
	if strings.TrimSpace(session) == "" {
		return &candidates.InputError{Msg: "session id is required"}
	}
	return nil
}

func (s *Service) load(ctx context.Context, session string) (statecache.Snapshot, error) {
	if err := validateSession(session); err != nil {
		return statecache.Snapshot{}, err
	}
	snap, ok, err := s.cache.Load(ctx, session)
	if err != nil {
		return statecache.Snapshot{}, err
	}
	if !ok {
		return statecache.Snapshot{}, ErrNoCheck
	}
	return snap, nil
}

// reconcile rebuilds snap's sets from every pending and sent job, merging in
// fresh offsets that were just dispatched. On a job-store error snap is
// returned as cached, marked Stale.
func (s *Service) reconcile(ctx context.Context, session string, snap statecache.Snapshot, fresh ...int) statecache.Snapshot {
	jobs, err := s.jobs.ListActive(ctx)
	if err != nil {
		slog.Warn("job store unavailable, serving cached state", "session", session, "err", err)
		if len(fresh) > 0 {
			snap = snap.WithSets(notify.MergeScheduled(snap.Sets(), fresh), s.now().UTC())
			if _, err := s.cache.SaveIfCurrent(ctx, session, snap); err != nil {
				slog.Warn("save snapshot failed", "session", session, "err", err)
			}
		}
		snap.Stale = true
		return snap
	}

	out, _, err := s.apply(ctx, session, snap, jobs, fresh...)
	if err != nil {
		slog.Warn("save snapshot failed", "session", session, "err", err)
	}
	return out
}

// apply derives sets from jobs and writes the result back, unless the
// session was cleared or re-checked since snap was loaded.
func (s *Service) apply(ctx context.Context, session string, snap statecache.Snapshot, jobs []model.NotificationJob, fresh ...int) (statecache.Snapshot, bool, error) {
	sets := notify.Reconcile(snap.Result.NotInInventory, jobs)
	if len(fresh) > 0 {
		sets = notify.MergeScheduled(sets, fresh)
	}
	snap = snap.WithSets(sets, s.now().UTC())
	saved, err := s.cache.SaveIfCurrent(ctx, session, snap)
	if err == nil && !saved {
		slog.Debug("snapshot superseded, not saved", "session", session, "checkId", snap.CheckID)
	}
	return snap, saved, err
}
