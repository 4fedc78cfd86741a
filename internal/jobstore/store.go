package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"offerwall/reconciler-service/internal/model"
)

// EventChannel is the Redis channel job status changes are published on.
const EventChannel = "EVENT_JOB_STATUS"

// claimLease is how long a delivery worker owns a claimed job before another
// worker may pick it up again.
const claimLease = 5 * time.Minute

const jobColumns = `id::text, subject, body, recipients, scheduled_at, status,
	sent_at, last_error, attempts, created_at, updated_at`

// ─── Store ───────────────────────────────────────────────────────────────────

// Store persists notification jobs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	rdb  *redis.Client // optional; nil disables status events
}

// NewStore returns a configured Store.
func NewStore(pool *pgxpool.Pool, rdb *redis.Client) *Store {
	return &Store{pool: pool, rdb: rdb}
}

// NewJob is the input to Create. ScheduledInDays may be fractional.
type NewJob struct {
	Subject         string
	Body            string
	Recipients      []string
	ScheduledInDays float64
}

// List returns up to perPage jobs, most recently scheduled first.
func (s *Store) List(ctx context.Context, perPage int) ([]model.NotificationJob, error) {
	if perPage < 1 {
		perPage = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM notification_jobs
		 ORDER BY scheduled_at DESC, created_at DESC
		 LIMIT $1`,
		perPage,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs query: %w", err)
	}
	return collectJobs(rows)
}

// ListActive returns every pending or sent job, oldest schedule first.
// Unpaged: reconciliation must see every job that still counts as requested.
func (s *Store) ListActive(ctx context.Context) ([]model.NotificationJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM notification_jobs
		 WHERE status IN ('pending', 'sent')
		 ORDER BY scheduled_at, created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active jobs query: %w", err)
	}
	return collectJobs(rows)
}

// Get returns a single job.
func (s *Store) Get(ctx context.Context, id string) (*model.NotificationJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM notification_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// Create inserts a pending job due ScheduledInDays from now.
func (s *Store) Create(ctx context.Context, in NewJob) (string, error) {
	if in.Subject == "" || in.Body == "" {
		return "", &ValidationError{Msg: "subject and body are required"}
	}
	if len(in.Recipients) == 0 {
		return "", &ValidationError{Msg: "at least one recipient is required"}
	}
	if in.ScheduledInDays < 0 || math.IsNaN(in.ScheduledInDays) || math.IsInf(in.ScheduledInDays, 0) {
		return "", &ValidationError{Msg: fmt.Sprintf("invalid scheduledInDays %v", in.ScheduledInDays)}
	}

	id := uuid.NewString()
	delay := time.Duration(math.Round(in.ScheduledInDays * 24 * float64(time.Hour)))
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notification_jobs (id, subject, body, recipients, scheduled_at, status)
		 VALUES ($1, $2, $3, $4, NOW() + $5::double precision * INTERVAL '1 second', 'pending')`,
		id, in.Subject, in.Body, in.Recipients, delay.Seconds(),
	)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	s.publish(ctx, id, "", model.JobPending)
	return id, nil
}

// Cancel moves a pending job to cancelled. A job leased by a delivery worker
// may already be on the wire and cannot be cancelled: ErrNotClaimable.
func (s *Store) Cancel(ctx context.Context, id string) (*model.NotificationJob, error) {
	return s.transition(ctx, id, model.JobCancelled, `UPDATE notification_jobs
		SET status = 'cancelled', claimed_until = NULL, updated_at = NOW()
		WHERE id = $1`)
}

// SendNow makes a pending job due immediately. The delivery worker sends it.
func (s *Store) SendNow(ctx context.Context, id string) (*model.NotificationJob, error) {
	var out *model.NotificationJob
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		cur, _, err := lockJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur != model.JobPending {
			return &TransitionError{From: cur, To: model.JobSent}
		}
		row := tx.QueryRow(ctx,
			`UPDATE notification_jobs
			 SET scheduled_at = LEAST(scheduled_at, NOW()), updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+jobColumns, id)
		j, err := scanJob(row)
		if err != nil {
			return fmt.Errorf("send now update: %w", err)
		}
		out = &j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Retry re-queues a failed job to be sent now.
func (s *Store) Retry(ctx context.Context, id string) (*model.NotificationJob, error) {
	return s.transition(ctx, id, model.JobPending, `UPDATE notification_jobs
		SET status = 'pending', scheduled_at = NOW(), last_error = NULL,
		    claimed_until = NULL, updated_at = NOW()
		WHERE id = $1`)
}

// ClaimDue leases up to limit pending jobs whose time has come. Rows locked
// by another worker are skipped, so concurrent workers never share a job.
func (s *Store) ClaimDue(ctx context.Context, limit int) ([]model.NotificationJob, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE notification_jobs
		 SET claimed_until = NOW() + $2::double precision * INTERVAL '1 second', attempts = attempts + 1, updated_at = NOW()
		 WHERE id IN (
		   SELECT id FROM notification_jobs
		   WHERE status = 'pending'
		     AND scheduled_at <= NOW()
		     AND (claimed_until IS NULL OR claimed_until < NOW())
		   ORDER BY scheduled_at
		   LIMIT $1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		limit, claimLease.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	return collectJobs(rows)
}

// Claim leases a single job regardless of its schedule. Used by send-now.
func (s *Store) Claim(ctx context.Context, id string) (*model.NotificationJob, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE notification_jobs
		 SET claimed_until = NOW() + $2::double precision * INTERVAL '1 second', attempts = attempts + 1, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'
		   AND (claimed_until IS NULL OR claimed_until < NOW())
		 RETURNING `+jobColumns,
		id, claimLease.Seconds(),
	)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotClaimable
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &j, nil
}

// MarkSent records a successful delivery.
func (s *Store) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := s.transition(ctx, id, model.JobSent, `UPDATE notification_jobs
		SET status = 'sent', sent_at = $2, last_error = NULL, claimed_until = NULL, updated_at = NOW()
		WHERE id = $1`, sentAt)
	return err
}

// MarkFailed records a failed delivery attempt.
func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	_, err := s.transition(ctx, id, model.JobFailed, `UPDATE notification_jobs
		SET status = 'failed', last_error = $2, claimed_until = NULL, updated_at = NOW()
		WHERE id = $1`, reason)
	return err
}

// ─── Internals ───────────────────────────────────────────────────────────────

// transition locks the row, checks the status graph, applies update
// (whose $1 is the job id, followed by args) and publishes the change.
func (s *Store) transition(ctx context.Context, id string, to model.JobStatus, update string, args ...any) (*model.NotificationJob, error) {
	var (
		from model.JobStatus
		out  model.NotificationJob
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		cur, leased, err := lockJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if !IsTransitionAllowed(cur, to) {
			return &TransitionError{From: cur, To: to}
		}
		if to == model.JobCancelled && leased {
			return ErrNotClaimable
		}
		from = cur

		if _, err := tx.Exec(ctx, update, append([]any{id}, args...)...); err != nil {
			return fmt.Errorf("update job %s: %w", id, err)
		}
		out, err = scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM notification_jobs WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, id, from, to)
	return &out, nil
}

// lockJob row-locks the job and reports its status and whether a delivery
// worker currently holds its lease.
func lockJob(ctx context.Context, tx pgx.Tx, id string) (model.JobStatus, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", false, ErrNotFound
	}
	var (
		raw    string
		leased bool
	)
	err := tx.QueryRow(ctx,
		`SELECT status, COALESCE(claimed_until > NOW(), false)
		 FROM notification_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&raw, &leased)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, ErrNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("lock job %s: %w", id, err)
	}
	st, err := ParseStatus(raw)
	return st, leased, err
}

// publish emits a status event for listeners (non-fatal).
func (s *Store) publish(ctx context.Context, id string, from, to model.JobStatus) {
	if s.rdb == nil {
		return
	}
	event, _ := json.Marshal(map[string]string{
		"type":  EventChannel,
		"jobId": id,
		"from":  string(from),
		"to":    string(to),
		"at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err := s.rdb.Publish(ctx, EventChannel, event).Err(); err != nil {
		slog.Warn("publish EVENT_JOB_STATUS failed", "jobId", id, "err", err)
	}
}

func collectJobs(rows pgx.Rows) ([]model.NotificationJob, error) {
	defer rows.Close()
	jobs := make([]model.NotificationJob, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (model.NotificationJob, error) {
	var (
		j      model.NotificationJob
		status string
	)
	if err := row.Scan(
		&j.ID, &j.Subject, &j.RenderedBody, &j.Recipients, &j.ScheduledAt, &status,
		&j.SentAt, &j.LastError, &j.Attempts, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return j, err
	}
	j.Status = model.JobStatus(status)
	return j, nil
}

// ─── Errors ──────────────────────────────────────────────────────────────────

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job not found")

// ErrNotClaimable is returned by Claim when the job is not pending or is
// leased by another worker, and by Cancel while a worker holds the lease.
var ErrNotClaimable = errors.New("job is not claimable")

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// TransitionError is returned when the status graph forbids a change.
type TransitionError struct {
	From, To model.JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s → %s is not allowed", e.From, e.To)
}
