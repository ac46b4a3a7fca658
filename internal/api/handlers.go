package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/lead-relay/internal/cache"
	"github.com/LeventeLantos/lead-relay/internal/client"
	"github.com/LeventeLantos/lead-relay/internal/model"
	"github.com/LeventeLantos/lead-relay/internal/pipeline"
	"github.com/LeventeLantos/lead-relay/internal/repo"
	"github.com/LeventeLantos/lead-relay/internal/scheduler"
	"github.com/LeventeLantos/lead-relay/internal/service"
	"github.com/LeventeLantos/lead-relay/internal/worker"
)

const (
	defaultSchedulePriority = 5
	maxLeadBody             = 1 << 20
)

type Queue interface {
	QueueStatus(ctx context.Context) service.QueueStatus
	ProcessQueue(ctx context.Context, maxMessages int) (service.DrainResult, error)
	ScheduleMessage(ctx context.Context, recipient, body string, when time.Time, priority int) (int64, error)
}

type LeadProcessor interface {
	Process(ctx context.Context, resp model.FormResponse) pipeline.Report
}

type Submitter interface {
	Submit(job worker.Job) error
}

// Deps holds everything the HTTP surface talks to. Deliveries may be nil
// when no Redis is configured.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Store      repo.QueueStore
	Queue      Queue
	Leads      LeadProcessor
	Pool       Submitter
	Deliveries cache.DeliveryCache

	// CountryCode normalizes recipients the same way deliveries are keyed.
	CountryCode    string
	DrainBatch     int
	PurgeAfterDays int
}

type Handler struct {
	d Deps
}

func NewHandler(d Deps) *Handler {
	if d.DrainBatch <= 0 {
		d.DrainBatch = 10
	}
	if d.PurgeAfterDays < 0 {
		d.PurgeAfterDays = 0
	}
	return &Handler{d: d}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SubmitLead(w http.ResponseWriter, r *http.Request) {
	var resp model.FormResponse
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLeadBody))
	if err := dec.Decode(&resp); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if len(resp.Answers) == 0 {
		writeError(w, http.StatusBadRequest, "answers must not be empty")
		return
	}

	trackingID := uuid.NewString()
	if resp.ResponseID == "" {
		resp.ResponseID = trackingID
	}

	err := h.d.Pool.Submit(func(ctx context.Context) {
		rep := h.d.Leads.Process(ctx, resp)
		slog.Info("lead finished", "tracking_id", trackingID, "ok", rep.OK())
	})
	switch {
	case errors.Is(err, worker.ErrPoolFull), errors.Is(err, worker.ErrPoolClosed):
		slog.Warn("lead refused", "tracking_id", trackingID, "err", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":    true,
		"tracking_id": trackingID,
		"response_id": resp.ResponseID,
	})
}

func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.d.Queue.QueueStatus(r.Context()))
}

func (h *Handler) ListQueueMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := model.Status(strings.ToLower(q.Get("status")))
	switch status {
	case "", model.Pending, model.Sent, model.Failed:
	default:
		writeError(w, http.StatusBadRequest, "status must be one of pending, sent, failed")
		return
	}

	limit := parseInt(q.Get("limit"), 50)
	offset := parseInt(q.Get("offset"), 0)

	items, err := h.d.Store.List(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []model.QueuedMessage{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	n := parseInt(r.URL.Query().Get("max"), h.d.DrainBatch)
	if n <= 0 {
		n = h.d.DrainBatch
	}

	res, err := h.d.Queue.ProcessQueue(r.Context(), n)
	switch {
	case errors.Is(err, service.ErrDrainInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "result": res})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type scheduleRequest struct {
	Recipient    string    `json:"recipient"`
	Body         string    `json:"body"`
	ScheduledFor time.Time `json:"scheduled_for"`
	Priority     int       `json:"priority"`
}

func (h *Handler) ScheduleMessage(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	var problems []string
	if strings.TrimSpace(req.Recipient) == "" {
		problems = append(problems, "recipient is required")
	}
	if strings.TrimSpace(req.Body) == "" {
		problems = append(problems, "body is required")
	}
	if req.ScheduledFor.IsZero() {
		problems = append(problems, "scheduled_for is required")
	}
	if len(problems) > 0 {
		writeError(w, http.StatusBadRequest, strings.Join(problems, "; "))
		return
	}
	if req.Priority == 0 {
		req.Priority = defaultSchedulePriority
	}

	id, err := h.d.Queue.ScheduleMessage(r.Context(), req.Recipient, req.Body, req.ScheduledFor, req.Priority)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) PurgeQueue(w http.ResponseWriter, r *http.Request) {
	days := parseInt(r.URL.Query().Get("days"), h.d.PurgeAfterDays)
	if days < 0 {
		writeError(w, http.StatusBadRequest, "days must be >= 0")
		return
	}

	n, err := h.d.Store.PurgeSent(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (h *Handler) LastDelivery(w http.ResponseWriter, r *http.Request) {
	if h.d.Deliveries == nil {
		writeError(w, http.StatusNotImplemented, "delivery cache not configured")
		return
	}

	recipient := client.NormalizePhone(r.PathValue("recipient"), h.d.CountryCode)
	if recipient == "" {
		writeError(w, http.StatusBadRequest, "recipient must contain a phone number or group id")
		return
	}

	d, ok, err := h.d.Deliveries.LastSent(r.Context(), recipient)
	switch {
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
		return
	case !ok:
		writeError(w, http.StatusNotFound, "no delivery recorded for "+recipient)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"recipient":  recipient,
		"message_id": d.MessageID,
		"sent_at":    d.SentAt,
	})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.d.Scheduler.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.d.Scheduler.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.d.Scheduler.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.d.Scheduler.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.d.Scheduler.IsRunning()})
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
