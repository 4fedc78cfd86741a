// reconciler-service
//
// Reconciles operator-supplied offer lists against the offerwall inventory
// and schedules batched notifications to the offer source about the offers
// that are missing:
//   - check     classify a list (CSV, JSON or shared sheet) against inventory
//   - schedule  split the missing offers into paced notification jobs
//   - status    show which missing offers are scheduled or delivered
//
// `serve` exposes the same operations over HTTP and gRPC and runs the
// periodic refresh and delivery loops.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"offerwall/reconciler-service/internal/reconciler"
)

const version = "1.0.0"

func envFlag() cli.Flag {
	return &cli.StringFlag{Name: "env", Usage: "path to a .env file", Value: ".env"}
}

func sessionFlag() cli.Flag {
	return &cli.StringFlag{Name: "session", Usage: "operator session id", Value: "cli", Sources: cli.EnvVars("RECONCILER_SESSION")}
}

func jobIDFlag() cli.Flag {
	return &cli.StringFlag{Name: "id", Usage: "notification job id", Required: true}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:    "reconciler",
		Usage:   "offer inventory reconciliation and notification scheduling",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP and gRPC APIs with the refresh and delivery loops",
				Flags: []cli.Flag{
					envFlag(),
					&cli.BoolFlag{Name: "no-delivery", Usage: "do not send due jobs from this instance"},
				},
				Action: serveAction,
			},
			{
				Name:   "migrate",
				Usage:  "apply the database schema",
				Flags:  []cli.Flag{envFlag()},
				Action: migrateAction,
			},
			{
				Name:  "check",
				Usage: "classify a candidate list against inventory",
				Flags: []cli.Flag{
					envFlag(),
					sessionFlag(),
					&cli.StringFlag{Name: "file", Usage: "CSV or JSON file"},
					&cli.StringFlag{Name: "sheet", Usage: "Google Sheets URL"},
					&cli.StringFlag{Name: "range", Usage: "A1 range within the sheet (default: first tab)"},
				},
				Action: checkAction,
			},
			{
				Name:  "schedule",
				Usage: "schedule notifications for the missing offers of the current check",
				Flags: []cli.Flag{
					envFlag(),
					sessionFlag(),
					&cli.StringFlag{Name: "recipient", Usage: "notification recipient (default: NOTIFY_RECIPIENT)"},
					&cli.IntFlag{Name: "batch-size", Usage: "offers per notification (default: DEFAULT_BATCH_SIZE)"},
					&cli.FloatFlag{Name: "interval-hours", Usage: "hours between batches, 0 sends all at once"},
				},
				Action: scheduleAction,
			},
			{
				Name:   "status",
				Usage:  "show the reconciled state of the current check",
				Flags:  []cli.Flag{envFlag(), sessionFlag()},
				Action: statusAction,
			},
			{
				Name:   "reconcile",
				Usage:  "refresh every cached session against the job store",
				Flags:  []cli.Flag{envFlag()},
				Action: reconcileAction,
			},
			{
				Name:   "deliver",
				Usage:  "send due notification jobs once",
				Flags:  []cli.Flag{envFlag()},
				Action: deliverAction,
			},
			{
				Name:  "jobs",
				Usage: "inspect and manage notification jobs",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list jobs, newest first",
						Flags:  []cli.Flag{envFlag(), &cli.IntFlag{Name: "per-page", Usage: "maximum jobs to show"}},
						Action: jobsListAction,
					},
					{
						Name:   "cancel",
						Usage:  "cancel a pending job",
						Flags:  []cli.Flag{envFlag(), jobIDFlag()},
						Action: jobAction("cancel", (*reconciler.Service).CancelJob),
					},
					{
						Name:   "send-now",
						Usage:  "send a pending job immediately",
						Flags:  []cli.Flag{envFlag(), jobIDFlag()},
						Action: jobAction("send-now", (*reconciler.Service).SendJobNow),
					},
					{
						Name:   "retry",
						Usage:  "re-queue a failed job",
						Flags:  []cli.Flag{envFlag(), jobIDFlag()},
						Action: jobAction("retry", (*reconciler.Service).RetryJob),
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}
