package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("POST /v1/broadcasts", h.CreateBroadcast)
	mux.HandleFunc("GET /v1/broadcasts/{id}", h.GetBroadcast)

	mux.HandleFunc("POST /v1/messages", h.SendMessage)
	mux.HandleFunc("GET /v1/messages/sent", h.ListSentMessages)

	mux.HandleFunc("POST /v1/callbacks/status", h.StatusCallback)

	mux.HandleFunc("GET /v1/retry/status", h.RetrySchedulerStatus)
	mux.HandleFunc("POST /v1/retry/start", h.RetrySchedulerStart)
	mux.HandleFunc("POST /v1/retry/stop", h.RetrySchedulerStop)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("sendbridge-delivery"))
	})

	return mux
}
