package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
)

var (
	initiateBadRequestCounter = metrics.GetOrCreateCounter(`payment_initiate_total{result="bad_request"}`)
	initiateErrorCounter      = metrics.GetOrCreateCounter(`payment_initiate_total{result="error"}`)
	initiateSuccessCounter    = metrics.GetOrCreateCounter(`payment_initiate_total{result="success"}`)
)

// NewInitiateHandler handles POST requests from the donation form.
func NewInitiateHandler(initiator *Initiator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req InitiationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.ErrorContext(ctx, "Error decoding initiation request", "error", err)
			initiateBadRequestCounter.Inc()
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		if err := req.Validate(); err != nil {
			logger.ErrorContext(ctx, "Invalid initiation request", "error", err)
			initiateBadRequestCounter.Inc()
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		initiation, err := initiator.Initiate(ctx, req)
		if err != nil {
			logger.ErrorContext(ctx, "Error initiating payment", "error", err)
			initiateErrorCounter.Inc()
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "initiation failed"})
			return
		}

		initiateSuccessCounter.Inc()
		writeJSON(w, http.StatusCreated, initiation)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
