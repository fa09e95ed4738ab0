package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/dispatch"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/normalize"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/registration"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/reminder"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/sheets"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/store"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/webhook"
)

// Server exposes the retreat coordinator's HTTP surface: spreadsheet edit
// callbacks, the daily cron trigger, sheet sync requests, form intake and
// dispatch inspection.
type Server struct {
	store     *store.Store
	mapper    *webhook.Mapper
	scheduler *reminder.Scheduler
	labels    *normalize.Labels
	queues    map[string]dispatch.Queue
	sheetName string
	logger    *slog.Logger
	now       func() time.Time
}

// Options wires the collaborators. SyncQueue may be nil when spreadsheet
// sync is not configured.
type Options struct {
	Store     *store.Store
	Mapper    *webhook.Mapper
	Scheduler *reminder.Scheduler
	Labels    *normalize.Labels
	SMSQueue  dispatch.Queue
	SyncQueue dispatch.Queue
	SheetName string
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewServer creates a server with the required collaborators wired in.
func NewServer(opts Options) *Server {
	s := &Server{
		store:     opts.Store,
		mapper:    opts.Mapper,
		scheduler: opts.Scheduler,
		labels:    opts.Labels,
		queues:    map[string]dispatch.Queue{},
		sheetName: opts.SheetName,
		logger:    opts.Logger.With("component", "http"),
		now:       opts.Now,
	}
	if s.labels == nil {
		s.labels = normalize.DefaultLabels()
	}
	if s.now == nil {
		s.now = time.Now
	}
	for _, q := range []dispatch.Queue{opts.SMSQueue, opts.SyncQueue} {
		if q != nil {
			s.queues[q.Name()] = q
		}
	}
	return s
}

// Router configures all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Post("/webhooks/spreadsheet", s.handleSpreadsheetWebhook)

	// Cron and sync triggers are fire-and-forget: they answer once jobs are
	// queued, never after delivery.
	r.Post("/cron/reminders", s.handleRunReminders)
	r.Post("/sync/spreadsheet", s.handleSyncSpreadsheet)

	r.Route("/registrations", func(r chi.Router) {
		r.Post("/", s.handleUpsertRegistration)
		r.Get("/{id}", s.handleGetRegistration)
	})

	r.Route("/dispatch", func(r chi.Router) {
		r.Get("/outcomes", s.handleListOutcomes)
		r.Get("/jobs/{id}", s.handleJobStatus)
		r.Delete("/jobs/{id}", s.handleCancelJob)
	})

	return r
}

func (s *Server) handleSpreadsheetWebhook(w http.ResponseWriter, r *http.Request) {
	var ev webhook.ChangeEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "InvalidPayload",
			"message": fmt.Sprintf("invalid json: %v", err),
		})
		return
	}

	change, err := s.mapper.Process(ev)
	if err != nil {
		kind, ok := webhook.KindOf(err)
		if !ok {
			writeError(w, http.StatusInternalServerError, "process change event: %v", err)
			return
		}
		s.logger.Warn("spreadsheet edit rejected", "kind", kind, "row", ev.Row, "header", ev.Header, "error", err)
		writeJSON(w, validationStatus(kind), map[string]any{
			"error":   kind,
			"message": err.Error(),
		})
		return
	}

	payload := map[string]any{
		"key":             change.Key,
		"normalizedValue": change.NormalizedValue,
		"applied":         false,
	}
	switch {
	case !change.Mapped:
		payload["reason"] = "unmapped"
	case !registration.IsEditable(change.Key):
		payload["reason"] = "read-only"
	default:
		err := s.store.UpdateField(r.Context(), change.RecordID, change.Key, change.NormalizedValue)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			payload["reason"] = "unknown-record"
		case err != nil:
			writeError(w, http.StatusInternalServerError, "apply change: %v", err)
			return
		default:
			payload["applied"] = true
		}
	}

	s.logger.Info("spreadsheet edit processed",
		"record_id", change.RecordID,
		"key", change.Key,
		"applied", payload["applied"],
	)
	writeJSON(w, http.StatusOK, payload)
}

func validationStatus(kind webhook.Kind) int {
	switch kind {
	case webhook.KindInvalidSource, webhook.KindForbiddenFieldSync:
		return http.StatusForbidden
	case webhook.KindUnmappedValue:
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

func (s *Server) handleRunReminders(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "reminder scheduler not configured")
		return
	}
	summary, err := s.scheduler.Run(r.Context(), s.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "run reminders: %v", err)
		return
	}
	writeJSON(w, http.StatusAccepted, summary)
}

func (s *Server) handleSyncSpreadsheet(w http.ResponseWriter, r *http.Request) {
	q, ok := s.queues[string(dispatch.KindSpreadsheetSync)]
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "spreadsheet sync not configured")
		return
	}
	tracked, err := s.store.ListRegistrations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list registrations: %v", err)
		return
	}
	records := make([]registration.Record, 0, len(tracked))
	for _, t := range tracked {
		records = append(records, t.Record)
	}

	jobID, err := sheets.EnqueueSync(r.Context(), q, s.sheetName, "api-sync", records)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "enqueue sync: %v", err)
		return
	}
	s.logger.Info("spreadsheet sync enqueued", "job_id", jobID, "records", len(records))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
		"sheet":  s.sheetName,
	})
}

func (s *Server) handleUpsertRegistration(w http.ResponseWriter, r *http.Request) {
	var rec registration.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	rec, unmapped := registration.Normalize(rec, s.labels)
	if rec.ID == "" || rec.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required")
		return
	}
	if err := s.store.UpsertRegistration(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "store registration: %v", err)
		return
	}
	stored, err := s.store.GetRegistration(r.Context(), rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load registration: %v", err)
		return
	}
	if len(unmapped) > 0 {
		s.logger.Warn("registration has unrecognized labels", "record_id", rec.ID, "fields", unmapped)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"registration": stored,
		"unmapped":     unmapped,
	})
}

func (s *Server) handleGetRegistration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.store.GetRegistration(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "registration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "load registration: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	pool := strings.TrimSpace(r.URL.Query().Get("pool"))
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	outcomes, err := s.store.ListOutcomes(r.Context(), pool, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list outcomes: %v", err)
		return
	}
	if outcomes == nil {
		outcomes = []store.Outcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

// findJob asks every queue for id; job ids are unique across pools.
func (s *Server) findJob(ctx context.Context, id string) (dispatch.Queue, dispatch.State, error) {
	for _, q := range s.queues {
		state, err := q.Status(ctx, id)
		if errors.Is(err, dispatch.ErrUnknownJob) {
			continue
		}
		return q, state, err
	}
	return nil, "", dispatch.ErrUnknownJob
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q, state, err := s.findJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownJob) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusBadGateway, "job status: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": id,
		"pool":   q.Name(),
		"state":  state,
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q, _, err := s.findJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownJob) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusBadGateway, "job status: %v", err)
		return
	}
	accepted, err := q.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadGateway, "cancel job: %v", err)
		return
	}
	s.logger.Info("dispatch cancel requested", "job_id", id, "pool", q.Name(), "accepted", accepted)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   id,
		"pool":     q.Name(),
		"accepted": accepted,
	})
}

func parseIntDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": strings.TrimSpace(fmt.Sprintf(format, args...)),
			"status":  status,
		},
	})
}
