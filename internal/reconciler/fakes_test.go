package reconciler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"offerwall/reconciler-service/internal/inventory"
	"offerwall/reconciler-service/internal/jobstore"
	"offerwall/reconciler-service/internal/model"
	"offerwall/reconciler-service/internal/statecache"
)

// fakeInventory classifies against a fixed name set.
type fakeInventory struct {
	names []string
	err   error
}

func (f fakeInventory) Classify(_ context.Context, c []model.CandidateOffer) (model.ClassificationResult, error) {
	if f.err != nil {
		return model.ClassificationResult{}, f.err
	}
	return inventory.Classify(c, inventory.KeySet(f.names)), nil
}

// memJobs is an in-memory job store.
type memJobs struct {
	mu      sync.Mutex
	jobs    []model.NotificationJob
	failOn  map[int]bool // 1-based Create call numbers that fail
	calls   int
	listErr error
	created []jobstore.NewJob
}

// List mirrors the store: newest first, at most perPage.
func (m *memJobs) List(_ context.Context, perPage int) ([]model.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]model.NotificationJob, 0, len(m.jobs))
	for i := len(m.jobs) - 1; i >= 0 && len(out) < perPage; i-- {
		out = append(out, m.jobs[i])
	}
	return out, nil
}

func (m *memJobs) ListActive(_ context.Context) ([]model.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]model.NotificationJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Status == model.JobPending || j.Status == model.JobSent {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memJobs) Create(_ context.Context, in jobstore.NewJob) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failOn[m.calls] {
		return "", errors.New("job store rejected request")
	}
	id := fmt.Sprintf("job-%d", m.calls)
	m.created = append(m.created, in)
	m.jobs = append(m.jobs, model.NotificationJob{
		ID: id, Subject: in.Subject, RenderedBody: in.Body,
		Recipients: in.Recipients, Status: model.JobPending,
	})
	return id, nil
}

func (m *memJobs) setStatus(id string, to model.JobStatus) (*model.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.jobs {
		if m.jobs[i].ID != id {
			continue
		}
		if !jobstore.IsTransitionAllowed(m.jobs[i].Status, to) {
			return nil, &jobstore.TransitionError{From: m.jobs[i].Status, To: to}
		}
		m.jobs[i].Status = to
		j := m.jobs[i]
		return &j, nil
	}
	return nil, jobstore.ErrNotFound
}

func (m *memJobs) Cancel(_ context.Context, id string) (*model.NotificationJob, error) {
	return m.setStatus(id, model.JobCancelled)
}

func (m *memJobs) SendNow(_ context.Context, id string) (*model.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ID == id {
			if j.Status != model.JobPending {
				return nil, &jobstore.TransitionError{From: j.Status, To: model.JobSent}
			}
			return &j, nil
		}
	}
	return nil, jobstore.ErrNotFound
}

func (m *memJobs) Retry(_ context.Context, id string) (*model.NotificationJob, error) {
	return m.setStatus(id, model.JobPending)
}

// memCache is an in-memory statecache.
type memCache struct {
	mu    sync.Mutex
	snaps map[string]statecache.Snapshot
	saves int
}

func newMemCache() *memCache { return &memCache{snaps: map[string]statecache.Snapshot{}} }

func (c *memCache) Save(_ context.Context, session string, snap statecache.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap.Stale = false
	c.snaps[session] = snap
	c.saves++
	return nil
}

func (c *memCache) SaveIfCurrent(_ context.Context, session string, snap statecache.Snapshot) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.snaps[session]
	if !ok || cur.CheckID != snap.CheckID {
		return false, nil
	}
	snap.Stale = false
	c.snaps[session] = snap
	c.saves++
	return true, nil
}

func (c *memCache) Load(_ context.Context, session string) (statecache.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[session]
	return s, ok, nil
}

func (c *memCache) Clear(_ context.Context, session string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, session)
	return nil
}

func (c *memCache) Sessions(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.snaps))
	for s := range c.snaps {
		out = append(out, s)
	}
	return out, nil
}

// instantDeliverer marks jobs sent in the backing memJobs.
type instantDeliverer struct{ jobs *memJobs }

func (d instantDeliverer) DeliverNow(_ context.Context, id string) (model.JobStatus, error) {
	if _, err := d.jobs.setStatus(id, model.JobSent); err != nil {
		return "", err
	}
	return model.JobSent, nil
}
