package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"offerwall/reconciler-service/internal/candidates"
	"offerwall/reconciler-service/internal/db"
	"offerwall/reconciler-service/internal/model"
	"offerwall/reconciler-service/internal/reconciler"
	"offerwall/reconciler-service/internal/statecache"
)

// migrateAction applies the embedded schema.
func migrateAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()

	if err := db.Migrate(ctx, a.pool); err != nil {
		return err
	}
	fmt.Println("✓ schema applied")
	return nil
}

// checkAction classifies a local file or a shared sheet for a session.
func checkAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		list   []model.CandidateOffer
		source string
	)
	switch file, sheet := cmd.String("file"), cmd.String("sheet"); {
	case file != "" && sheet != "":
		return fmt.Errorf("--file and --sheet are mutually exclusive")
	case file != "":
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("open %s: %w", file, err)
		}
		defer f.Close()
		source = filepath.Base(file)
		list, err = candidates.Read(source, f)
		if err != nil {
			return err
		}
	case sheet != "":
		if a.sheets == nil {
			return fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS is required for --sheet")
		}
		source = sheet
		list, err = a.sheets.Read(ctx, sheet, cmd.String("range"))
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("one of --file or --sheet is required")
	}

	snap, err := a.svc.Check(ctx, cmd.String("session"), source, list)
	if err != nil {
		return err
	}
	renderStats(snap)
	renderMissing(reconciler.NewView(snap))
	return nil
}

// scheduleAction schedules notifications for the session's missing offers.
func scheduleAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()

	req := reconciler.ScheduleRequest{
		Recipient: cmd.String("recipient"),
		BatchSize: int(cmd.Int("batch-size")),
	}
	if cmd.IsSet("interval-hours") {
		h := cmd.Float("interval-hours")
		req.IntervalHours = &h
	}

	rep, err := a.svc.Schedule(ctx, cmd.String("session"), req)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Batch", "Offers", "Job ID", "Scheduled At")
	for _, j := range rep.Jobs {
		table.Append(
			strconv.Itoa(j.Batch.Index+1),
			fmt.Sprintf("%d-%d", j.Batch.Start+1, j.Batch.End),
			j.JobID,
			j.ScheduledAt.Local().Format("2006-01-02 15:04"),
		)
	}
	table.Render()

	for _, e := range rep.Errors {
		fmt.Printf("✗ %s\n", e.Error())
	}
	fmt.Printf("✓ %d of %d batches scheduled\n", len(rep.Jobs), len(rep.Batches))
	if len(rep.Errors) > 0 {
		return fmt.Errorf("%d batches failed", len(rep.Errors))
	}
	return nil
}

// statusAction prints the session's reconciled state.
func statusAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.svc.State(ctx, cmd.String("session"))
	if err != nil {
		return err
	}
	if snap.Stale {
		fmt.Println("! job store unavailable, showing cached state")
	}
	renderStats(snap)
	renderMissing(reconciler.NewView(snap))
	return nil
}

// reconcileAction refreshes every cached session once.
func reconcileAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.svc.RefreshAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✓ %d sessions reconciled\n", n)
	return nil
}

// deliverAction runs one delivery cycle.
func deliverAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.worker.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✓ claimed=%d sent=%d failed=%d\n", sum.Claimed, sum.Sent, sum.Failed)
	return nil
}

// jobsListAction lists notification jobs.
func jobsListAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.svc.ListJobs(ctx, int(cmd.Int("per-page")))
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("no jobs")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job ID", "Status", "Subject", "Scheduled At", "Attempts")
	for _, j := range jobs {
		table.Append(
			j.ID,
			string(j.Status),
			truncate(j.Subject, 50),
			j.ScheduledAt.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(j.Attempts),
		)
	}
	table.Render()
	return nil
}

// jobAction builds the action for cancel, send-now and retry.
func jobAction(verb string, call func(*reconciler.Service, context.Context, string) (*model.NotificationJob, error)) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		a, err := newApp(ctx, cmd.String("env"))
		if err != nil {
			return err
		}
		defer a.Close()

		id := cmd.String("id")
		job, err := call(a.svc, ctx, id)
		if err != nil {
			return fmt.Errorf("%s %s: %w", verb, id, err)
		}
		fmt.Printf("✓ job %s is now %s\n", job.ID, job.Status)
		slog.Info("job updated", "action", verb, "jobId", job.ID, "status", job.Status)
		return nil
	}
}

// ─── Rendering ───────────────────────────────────────────────────────────────

func renderStats(snap statecache.Snapshot) {
	st := snap.Result.Stats
	fmt.Printf("\n=== Check %s (%s) ===\n\n", snap.CheckID, snap.Source)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	table.Append("Total", strconv.Itoa(st.Total))
	table.Append("In inventory", fmt.Sprintf("%d (%d%%)", st.Have, st.HavePercent))
	table.Append("Missing", fmt.Sprintf("%d (%d%%)", st.DontHave, st.DontHavePercent))
	table.Render()
}

func renderMissing(v reconciler.View) {
	if len(v.Missing) == 0 {
		return
	}
	fmt.Printf("\n=== Missing offers: %d unscheduled, %d scheduled, %d delivered ===\n\n",
		v.Counts.Unscheduled, v.Counts.Scheduled, v.Counts.Delivered)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Row", "Name", "Country", "Platform", "Payout Model", "Status")
	for _, m := range v.Missing {
		table.Append(
			strconv.Itoa(m.Offer.Row),
			truncate(m.Offer.Name, 50),
			m.Offer.Country,
			m.Offer.Platform,
			m.Offer.PayoutModel,
			string(m.Status),
		)
	}
	table.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
