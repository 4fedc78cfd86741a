package reconciler_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerwall/reconciler-service/internal/candidates"
	"offerwall/reconciler-service/internal/jobstore"
	"offerwall/reconciler-service/internal/model"
	"offerwall/reconciler-service/internal/notify"
	"offerwall/reconciler-service/internal/reconciler"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func hours(h float64) *float64 { return &h }

// exampleList is 12 candidates, the first 7 of which are in inventory.
func exampleList() ([]model.CandidateOffer, []string) {
	list := make([]model.CandidateOffer, 12)
	var have []string
	for i := range list {
		name := fmt.Sprintf("Offer %02d", i+1)
		list[i] = model.NewCandidate(i+1, name, "US", "iOS", "CPI", "", nil)
		if i < 7 {
			have = append(have, name)
		}
	}
	return list, have
}

func newService(t *testing.T, have []string, opts ...reconciler.Option) (*reconciler.Service, *memJobs, *memCache) {
	t.Helper()
	jobs := &memJobs{failOn: map[int]bool{}}
	cache := newMemCache()
	opts = append([]reconciler.Option{reconciler.WithClock(func() time.Time { return fixedNow })}, opts...)
	svc := reconciler.New(fakeInventory{names: have}, jobs, cache,
		reconciler.Defaults{Recipient: "partners@example.com", BatchSize: 25, IntervalHours: 24}, opts...)
	return svc, jobs, cache
}

// ── Check ──────────────────────────────────────────────────────────────────

func TestCheck_ExampleScenario(t *testing.T) {
	list, have := exampleList()
	svc, _, cache := newService(t, have)

	snap, err := svc.Check(context.Background(), "s1", "offers.csv", list)
	require.NoError(t, err)

	assert.NotEmpty(t, snap.CheckID)
	assert.Equal(t, model.Stats{Total: 12, Have: 7, DontHave: 5, HavePercent: 58, DontHavePercent: 42}, snap.Result.Stats)
	assert.Empty(t, snap.Scheduled)
	assert.Empty(t, snap.Delivered)
	assert.False(t, snap.Stale)

	cached, ok, _ := cache.Load(context.Background(), "s1")
	require.True(t, ok)
	assert.Equal(t, snap.CheckID, cached.CheckID)
}

func TestCheck_InputErrors(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.Check(ctx, "s1", "x", nil)
	assert.ErrorIs(t, err, candidates.ErrNoCandidates)

	var ie *candidates.InputError
	_, err = svc.Check(ctx, "", "x", []model.CandidateOffer{model.NewCandidate(1, "A", "", "", "", "", nil)})
	assert.ErrorAs(t, err, &ie)

	_, err = svc.Check(ctx, "s1", "x", []model.CandidateOffer{{Row: 4, Name: "  "}})
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, ie.Msg, "row 4")
}

func TestCheck_ClassifierFailureKeepsPreviousState(t *testing.T) {
	list, have := exampleList()
	jobs := &memJobs{failOn: map[int]bool{}}
	cache := newMemCache()
	ctx := context.Background()

	good := reconciler.New(fakeInventory{names: have}, jobs, cache, reconciler.Defaults{})
	first, err := good.Check(ctx, "s1", "first.csv", list)
	require.NoError(t, err)

	bad := reconciler.New(fakeInventory{err: errors.New("inventory backend down")}, jobs, cache, reconciler.Defaults{})
	_, err = bad.Check(ctx, "s1", "second.csv", list)
	require.ErrorContains(t, err, "inventory backend down")

	cached, ok, _ := cache.Load(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, first.CheckID, cached.CheckID)
	assert.Equal(t, "first.csv", cached.Source)
}

func TestCheck_ReplacesResultWholesale(t *testing.T) {
	list, have := exampleList()
	svc, _, _ := newService(t, have)
	ctx := context.Background()

	first, err := svc.Check(ctx, "s1", "a", list)
	require.NoError(t, err)
	second, err := svc.Check(ctx, "s1", "b", list[:3])
	require.NoError(t, err)

	assert.NotEqual(t, first.CheckID, second.CheckID)
	assert.Equal(t, 3, second.Result.Stats.Total)
	assert.Empty(t, second.Result.NotInInventory)
}

// ── Schedule & reconcile ──────────────────────────────────────────────────

func TestSchedule_ExampleScenario(t *testing.T) {
	list, have := exampleList()
	svc, jobs, _ := newService(t, have)
	ctx := context.Background()

	_, err := svc.Check(ctx, "s1", "offers.csv", list)
	require.NoError(t, err)

	rep, err := svc.Schedule(ctx, "s1", reconciler.ScheduleRequest{BatchSize: 2, IntervalHours: hours(24)})
	require.NoError(t, err)

	require.Len(t, rep.Batches, 3)
	for i, want := range []float64{0, 24, 48} {
		assert.Equal(t, want, rep.Batches[i].ScheduledOffsetHours)
	}
	assert.Equal(t, [][2]int{{0, 2}, {2, 4}, {4, 5}}, [][2]int{
		{rep.Batches[0].Start, rep.Batches[0].End},
		{rep.Batches[1].Start, rep.Batches[1].End},
		{rep.Batches[2].Start, rep.Batches[2].End},
	})
	assert.Empty(t, rep.Errors)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, rep.Scheduled)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, rep.Snapshot.Scheduled)

	require.Len(t, jobs.created, 3)
	assert.Equal(t, []string{"partners@example.com"}, jobs.created[0].Recipients)
	assert.InDelta(t, 1.0, jobs.created[1].ScheduledInDays, 1e-9)
	assert.InDelta(t, 2.0, jobs.created[2].ScheduledInDays, 1e-9)

	// The first batch goes out.
	_, err = jobs.setStatus("job-1", model.JobSent)
	require.NoError(t, err)

	snap, err := svc.State(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, snap.Delivered)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, snap.Scheduled)

	view := reconciler.NewView(snap)
	assert.Equal(t, notify.Counts{Unscheduled: 0, Scheduled: 3, Delivered: 2}, view.Counts)
	assert.Equal(t, notify.ItemDelivered, view.Missing[0].Status)
	assert.Equal(t, notify.ItemScheduled, view.Missing[4].Status)
}

func TestSchedule_ZeroIntervalStaggers(t *testing.T) {
	list, have := exampleList()
	svc, jobs, _ := newService(t, have)
	ctx := context.Background()

	_, err := svc.Check(ctx, "s1", "x", list)
	require.NoError(t, err)
	rep, err := svc.Schedule(ctx, "s1", reconciler.ScheduleRequest{BatchSize: 2, IntervalHours: hours(0)})
	require.NoError(t, err)

	require.Len(t, rep.Jobs, 3)
	assert.Equal(t, fixedNow, rep.Jobs[0].ScheduledAt)
	assert.Equal(t, fixedNow.Add(30*time.Second), rep.Jobs[1].ScheduledAt)
	assert.Equal(t, fixedNow.Add(time.Minute), rep.Jobs[2].ScheduledAt)
	assert.InDelta(t, 30.0/86400, jobs.created[1].ScheduledInDays, 1e-9)
}

func TestSchedule_PartialFailure(t *testing.T) {
	list, have := exampleList()
	svc, jobs, _ := newService(t, have)
	jobs.failOn[2] = true
	ctx := context.Background()

	_, err := svc.Check(ctx, "s1", "offers.csv", list)
	require.NoError(t, err)

	rep, err := svc.Schedule(ctx, "s1", reconciler.ScheduleRequest{BatchSize: 2})
	require.NoError(t, err)

	require.Len(t, rep.Errors, 1)
	assert.Equal(t, 1, rep.Errors[0].Index)
	assert.Equal(t, 2, rep.Errors[0].Start)
	assert.Equal(t, 4, rep.Errors[0].End)
	assert.Len(t, rep.Jobs, 2)
	assert.Equal(t, []int{0, 1, 4}, rep.Snapshot.Scheduled)
}

func TestSchedule_Errors(t *testing.T) {
	list, have := exampleList()
	ctx := context.Background()

	svc, _, _ := newService(t, have)
	_, err := svc.Schedule(ctx, "nobody", reconciler.ScheduleRequest{})
	assert.ErrorIs(t, err, reconciler.ErrNoCheck)

	_, err = svc.Check(ctx, "s1", "x", list)
	require.NoError(t, err)

	var ie *candidates.InputError
	_, err = svc.Schedule(ctx, "s1", reconciler.ScheduleRequest{BatchSize: -1})
	assert.ErrorAs(t, err, &ie)

	noRecipient := reconciler.New(fakeInventory{names: have}, &memJobs{}, newMemCache(), reconciler.Defaults{})
	_, err = noRecipient.Check(ctx, "s1", "x", list)
	require.NoError(t, err)
	_, err = noRecipient.Schedule(ctx, "s1", reconciler.ScheduleRequest{})
	assert.ErrorAs(t, err, &ie)
}

func TestSchedule_NothingMissing(t *testing.T) {
	list, _ := exampleList()
	var all []string
	for _, c := range list {
		all = append(all, c.Name)
	}
	svc, jobs, _ := newService(t, all)
	ctx := context.Background()

	_, err := svc.Check(ctx, "s1", "x", list)
	require.NoError(t, err)
	rep, err := svc.Schedule(ctx, "s1", reconciler.ScheduleRequest{})
	require.NoError(t, err)

	assert.Empty(t, rep.Batches)
	assert.Empty(t, jobs.created)
}

func TestRefresh_StaleWhenJobStoreDown(t *testing.T) {
	list, have := exampleList()
	svc, jobs, _ := newService(t, have)
	ctx := context.Background()

	_, err := svc.Check(ctx, "s1", "x", list)
	require.NoError(t, err)
	_, err = svc.Schedule(ctx, "s1", reconciler.ScheduleRequest{BatchSize: 2})
	require.NoError(t, err)

	jobs.listErr = errors.New("timeout")
	snap, err := svc.Refresh(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, snap.Stale)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, snap.Scheduled)
}

func TestRefresh_CancelledBatchBecomesUnscheduled(t *testing.T) {
	list, have := exampleList()
	svc, _, _ := newService(t, have)
	ctx := context.Background()

	_, err := svc.Check(ctx, "s1", "x", list)
	require.NoError(t, err)
	_, err = svc.Schedule(ctx, "s1", reconciler.ScheduleRequest{BatchSize: 2})
	require.NoError(t, err)

	_, err = svc.CancelJob(ctx, "job-2")
	require.NoError(t, err)

	snap, err := svc.Refresh(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 4}, snap.Scheduled)
}

func TestRefreshAll(t *testing.T) {
	list, have := exampleList()
	svc, jobs, _ := newService(t, have)
	ctx := context.Background()

	for _, s := range []string{"s1", "s2"} {
		_, err := svc.Check(ctx, s, "x", list)
		require.NoError(t, err)
	}
	_, err := svc.Schedule(ctx, "s1", reconciler.ScheduleRequest{BatchSize: 5})
	require.NoError(t, err)
	_, err = jobs.setStatus("job-1", model.JobSent)
	require.NoError(t, err)

	n, err := svc.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Both sessions check the same list, so both see the delivery.
	for _, s := range []string{"s1", "s2"} {
		snap, err := svc.State(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3, 4}, snap.Delivered, s)
	}

	jobs.listErr = errors.New("down")
	_, err = svc.RefreshAll(ctx)
	assert.Error(t, err)
}

func TestRefresh_DeliveredSurvivesBeyondListPage(t *testing.T) {
	list, have := exampleList()
	jobs := &memJobs{failOn: map[int]bool{}}
	svc := reconciler.New(fakeInventory{names: have}, jobs, newMemCache(),
		reconciler.Defaults{Recipient: "p@example.com", BatchSize: 1, JobsPerPage: 2},
		reconciler.WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	_, err := svc.Check(ctx, "s1", "x", list)
	require.NoError(t, err)
	_, err = svc.Schedule(ctx, "s1", reconciler.ScheduleRequest{})
	require.NoError(t, err)
	_, err = jobs.setStatus("job-1", model.JobSent)
	require.NoError(t, err)

	// Newer unrelated jobs push job-1 out of the first page.
	for i := 0; i < 3; i++ {
		_, err := jobs.Create(ctx, jobstore.NewJob{Subject: "other", Body: "- Unrelated | US | Web | CPA\n", Recipients: []string{"p@example.com"}})
		require.NoError(t, err)
	}
	page, err := svc.ListJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)

	snap, err := svc.Refresh(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, snap.Delivered)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, snap.Scheduled)

	n, err := svc.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	snap, err = svc.State(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, snap.Delivered)
}

func TestClear(t *testing.T) {
	list, have := exampleList()
	svc, _, _ := newService(t, have)
	ctx := context.Background()

	_, err := svc.Check(ctx, "s1", "x", list)
	require.NoError(t, err)
	require.NoError(t, svc.Clear(ctx, "s1"))

	_, err = svc.State(ctx, "s1")
	assert.ErrorIs(t, err, reconciler.ErrNoCheck)
}

// ── Job operations ─────────────────────────────────────────────────────────

func TestJobOperations(t *testing.T) {
	list, have := exampleList()
	svc, jobs, _ := newService(t, have)
	ctx := context.Background()

	_, err := svc.Check(ctx, "s1", "x", list)
	require.NoError(t, err)
	_, err = svc.Schedule(ctx, "s1", reconciler.ScheduleRequest{BatchSize: 2})
	require.NoError(t, err)

	j, err := svc.CancelJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, j.Status)

	_, err = svc.SendJobNow(ctx, "job-1")
	var te *jobstore.TransitionError
	assert.ErrorAs(t, err, &te)

	_, err = svc.RetryJob(ctx, "job-2")
	assert.ErrorAs(t, err, &te, "pending job cannot be retried")

	_, err = svc.CancelJob(ctx, "job-99")
	assert.ErrorIs(t, err, jobstore.ErrNotFound)

	listed, err := svc.ListJobs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, listed, len(jobs.jobs))
}

func TestSendJobNow_WithDeliverer(t *testing.T) {
	list, have := exampleList()
	jobs := &memJobs{failOn: map[int]bool{}}
	cache := newMemCache()
	svc := reconciler.New(fakeInventory{names: have}, jobs, cache,
		reconciler.Defaults{Recipient: "p@example.com", BatchSize: 2},
		reconciler.WithDeliverer(instantDeliverer{jobs: jobs}))
	ctx := context.Background()

	_, err := svc.Check(ctx, "s1", "x", list)
	require.NoError(t, err)
	_, err = svc.Schedule(ctx, "s1", reconciler.ScheduleRequest{})
	require.NoError(t, err)

	j, err := svc.SendJobNow(ctx, "job-3")
	require.NoError(t, err)
	assert.Equal(t, model.JobSent, j.Status)

	snap, err := svc.State(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []int{4}, snap.Delivered)
}
