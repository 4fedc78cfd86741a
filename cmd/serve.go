package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"

	"offerwall/reconciler-service/internal/grpcserver"
	"offerwall/reconciler-service/internal/httpapi"
	"offerwall/reconciler-service/internal/scheduler"
)

// serveAction runs the HTTP and gRPC servers plus the refresh and delivery
// loops until the process is signalled.
func serveAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	// ── Scheduler ────────────────────────────────────────────────────────────
	var deliverer scheduler.Deliverer
	if !cmd.Bool("no-delivery") {
		deliverer = a.worker
	}
	sched := scheduler.New(a.svc, deliverer, cfg.ReconcileInterval, cfg.DeliveryInterval)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	defer sched.Stop()

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(sched.Running))
	httpapi.NewHandler(a.svc, a.sheetReader()).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	// ── gRPC server ──────────────────────────────────────────────────────────
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	gs := grpc.NewServer()
	hs := grpcserver.Register(gs, grpcserver.NewServer(a.svc))
	go grpcserver.WatchHealth(ctx, hs, sched.Running, 5*time.Second)

	errCh := make(chan error, 2)
	go func() {
		slog.Info("http listening", "version", version, "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		slog.Info("grpc listening", "port", cfg.GRPCPort)
		if err := gs.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("server failed", "err", err)
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	gs.GracefulStop()
	slog.Info("stopped")
	return nil
}

func healthHandler(schedulerRunning func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"service":   "reconciler-service",
			"version":   version,
			"scheduler": schedulerRunning(),
		})
	}
}
