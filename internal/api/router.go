package api

import (
	"net/http"

	"github.com/LeventeLantos/lead-relay/internal/metrics"
)

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("POST /v1/leads", h.SubmitLead)

	mux.HandleFunc("GET /v1/queue/stats", h.QueueStats)
	mux.HandleFunc("GET /v1/queue/messages", h.ListQueueMessages)
	mux.HandleFunc("POST /v1/queue/process", h.ProcessQueue)
	mux.HandleFunc("POST /v1/queue/schedule", h.ScheduleMessage)
	mux.HandleFunc("POST /v1/queue/purge", h.PurgeQueue)

	mux.HandleFunc("GET /v1/deliveries/{recipient}", h.LastDelivery)

	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("POST /v1/scheduler/start", h.SchedulerStart)
	mux.HandleFunc("POST /v1/scheduler/stop", h.SchedulerStop)

	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("lead-relay"))
	})

	return mux
}
