// Package httpapi exposes the reconciler over HTTP.
//
// Check routes expect an x-session-id header forwarded by the Gateway; each
// session owns one current check.
//
// Routes:
//
//	POST   /checks                      → upload a list (multipart file, CSV body or JSON)
//	GET    /checks/current              → current check with per-offer status
//	DELETE /checks/current              → forget the current check
//	POST   /checks/current/schedule     → batch and schedule the missing offers
//	POST   /checks/current/refresh      → reconcile against the job store now
//	GET    /jobs?perPage=N              → list notification jobs
//	POST   /jobs/{id}/cancel|send-now|retry
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"offerwall/reconciler-service/internal/candidates"
	"offerwall/reconciler-service/internal/jobstore"
	"offerwall/reconciler-service/internal/model"
	"offerwall/reconciler-service/internal/reconciler"
)

const (
	sessionHeader = "x-session-id"
	maxUpload     = 10 << 20
)

// SheetReader imports a candidate list from a shared spreadsheet.
type SheetReader interface {
	Read(ctx context.Context, sheetURL, readRange string) ([]model.CandidateOffer, error)
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler holds shared dependencies.
type Handler struct {
	svc    *reconciler.Service
	sheets SheetReader // optional
}

// NewHandler returns a configured Handler. sheets may be nil, in which case
// sheet imports are rejected.
func NewHandler(svc *reconciler.Service, sheets SheetReader) *Handler {
	return &Handler{svc: svc, sheets: sheets}
}

// RegisterRoutes mounts all reconciler routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/checks", h.handleChecks)
	mux.HandleFunc("/checks/current", h.handleCurrent)
	mux.HandleFunc("/checks/current/", h.handleCurrentAction)
	mux.HandleFunc("/jobs", h.handleJobs)
	mux.HandleFunc("/jobs/", h.handleJobAction)
}

// ─── Route dispatch ──────────────────────────────────────────────────────────

// handleChecks handles POST /checks
func (h *Handler) handleChecks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.createCheck(w, r)
}

// handleCurrent handles GET|DELETE /checks/current
func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.currentState(w, r)
	case http.MethodDelete:
		h.clearCheck(w, r)
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCurrentAction handles POST /checks/current/schedule|refresh
func (h *Handler) handleCurrentAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch action := strings.TrimPrefix(r.URL.Path, "/checks/current/"); action {
	case "schedule":
		h.schedule(w, r)
	case "refresh":
		h.refresh(w, r)
	default:
		jsonError(w, fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
	}
}

// handleJobs handles GET /jobs
func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.listJobs(w, r)
}

// handleJobAction handles POST /jobs/{id}/cancel|send-now|retry
func (h *Handler) handleJobAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse /jobs/{id}/{action}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}

	jobID := parts[1]
	var (
		job *model.NotificationJob
		err error
	)
	switch action := parts[2]; action {
	case "cancel":
		job, err = h.svc.CancelJob(r.Context(), jobID)
	case "send-now":
		job, err = h.svc.SendJobNow(r.Context(), jobID)
	case "retry":
		job, err = h.svc.RetryJob(r.Context(), jobID)
	default:
		jsonError(w, fmt.Sprintf("unknown action %q", action), http.StatusNotFound)
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonOK(w, job)
}

// ─── Individual handlers ─────────────────────────────────────────────────────

func (h *Handler) createCheck(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionID(w, r)
	if !ok {
		return
	}

	list, source, err := h.readCandidates(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	snap, err := h.svc.Check(r.Context(), session, source, list)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonOK(w, reconciler.NewView(snap))
}

func (h *Handler) currentState(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionID(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.State(r.Context(), session)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonOK(w, reconciler.NewView(snap))
}

func (h *Handler) clearCheck(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Clear(r.Context(), session); err != nil {
		writeErr(w, err)
		return
	}
	jsonOK(w, map[string]bool{"cleared": true})
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req reconciler.ScheduleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	rep, err := h.svc.Schedule(r.Context(), session, req)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonOK(w, rep)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionID(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.Refresh(r.Context(), session)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonOK(w, reconciler.NewView(snap))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	perPage := 0
	if raw := r.URL.Query().Get("perPage"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			jsonError(w, "perPage must be a positive integer", http.StatusBadRequest)
			return
		}
		perPage = n
	}

	jobs, err := h.svc.ListJobs(r.Context(), perPage)
	if err != nil {
		writeErr(w, err)
		return
	}
	jsonOK(w, jobs)
}

// readCandidates accepts a multipart upload (field "file"), a raw CSV body,
// or JSON: {"sheetUrl": "...", "range": "..."}, {"candidates": [...]} or a
// bare array.
func (h *Handler) readCandidates(r *http.Request) ([]model.CandidateOffer, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			return nil, "", &candidates.InputError{Msg: "invalid multipart body"}
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return nil, "", &candidates.InputError{Msg: "multipart body must contain a file field"}
		}
		defer f.Close()
		list, err := candidates.Read(hdr.Filename, f)
		return list, hdr.Filename, err

	case "text/csv":
		list, err := candidates.ReadCSV(io.LimitReader(r.Body, maxUpload))
		return list, "upload.csv", err
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpload))
	if err != nil {
		return nil, "", &candidates.InputError{Msg: "could not read request body"}
	}
	if !gjson.ValidBytes(body) {
		return nil, "", &candidates.InputError{Msg: "invalid JSON body"}
	}

	if sheetURL := gjson.GetBytes(body, "sheetUrl").String(); sheetURL != "" {
		if h.sheets == nil {
			return nil, "", &candidates.InputError{Msg: "Google Sheets import is not configured"}
		}
		list, err := h.sheets.Read(r.Context(), sheetURL, gjson.GetBytes(body, "range").String())
		return list, sheetURL, err
	}

	list, err := candidates.ReadJSON(body)
	return list, "inline", err
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		jsonError(w, "missing x-session-id header", http.StatusUnauthorized)
		return "", false
	}
	return id, true
}

// writeErr maps domain errors to HTTP status codes.
func writeErr(w http.ResponseWriter, err error) {
	var (
		ie *candidates.InputError
		te *jobstore.TransitionError
		ve *jobstore.ValidationError
	)
	switch {
	case errors.As(err, &ie):
		jsonError(w, ie.Msg, http.StatusBadRequest)
	case errors.As(err, &ve):
		jsonError(w, ve.Msg, http.StatusBadRequest)
	case errors.As(err, &te):
		jsonError(w, te.Error(), http.StatusBadRequest)
	case errors.Is(err, candidates.ErrNoCandidates):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, jobstore.ErrNotFound), errors.Is(err, reconciler.ErrNoCheck):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, jobstore.ErrNotClaimable):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("request failed", "err", err)
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
