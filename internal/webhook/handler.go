package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/jackc/pgx/v5"

	"payment-service/internal/db"
	"payment-service/internal/logging"
	"payment-service/internal/payment"
)

const maxBodyBytes = 1 << 20

const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

var (
	webhookInvalidSignatureCounter = metrics.GetOrCreateCounter(`webhook_total{result="invalid_signature"}`)
	webhookBadRequestCounter       = metrics.GetOrCreateCounter(`webhook_total{result="bad_request"}`)
	webhookIgnoredCounter          = metrics.GetOrCreateCounter(`webhook_total{result="ignored"}`)
	webhookUnknownRefCounter       = metrics.GetOrCreateCounter(`webhook_total{result="unknown_reference"}`)
	webhookErrorCounter            = metrics.GetOrCreateCounter(`webhook_total{result="error"}`)
	webhookDuplicateCounter        = metrics.GetOrCreateCounter(`webhook_total{result="duplicate"}`)
	webhookProcessedCounter        = metrics.GetOrCreateCounter(`webhook_total{result="processed"}`)
)

type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

type EventData struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type TransactionReader interface {
	GetByReference(ctx context.Context, reference string) (*db.TransactionEntity, error)
}

type TransitionApplier interface {
	Apply(ctx context.Context, txn *db.TransactionEntity, status payment.Status, raw string, source payment.TransitionSource) (bool, error)
}

// Handler ingests charge webhooks from the gateway. It is the fast path to
// consistency; the reconciliation sweeper covers for everything it misses.
type Handler struct {
	transactions TransactionReader
	transitioner TransitionApplier
	secret       string
	logger       *slog.Logger
}

func NewHandler(transactions TransactionReader, transitioner TransitionApplier, secret string, logger *slog.Logger) *Handler {
	return &Handler{
		transactions: transactions,
		transitioner: transitioner,
		secret:       secret,
		logger:       logger,
	}
}

// ServeHTTP applies the response contract the gateway's retry policy relies
// on: 4xx/404 for input it should not redeliver, 5xx only after the payload
// was valid, 200 once the transaction write landed. Nothing here may panic
// on a bad body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.ErrorContext(ctx, "Error reading webhook body", "error", err)
		webhookBadRequestCounter.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	if h.secret != "" && !h.validSignature(body, r.Header.Get("X-Gateway-Signature")) {
		h.logger.WarnContext(ctx, "Webhook signature mismatch")
		webhookInvalidSignatureCounter.Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.ErrorContext(ctx, "Error unmarshalling webhook body", "error", err)
		webhookBadRequestCounter.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	var outcome payment.Status
	switch event.Event {
	case EventChargeSuccess:
		outcome = payment.StatusSuccess
	case EventChargeFailed:
		outcome = payment.StatusFailed
	default:
		// acknowledged so the gateway stops redelivering it
		h.logger.InfoContext(ctx, "Ignoring unrecognized webhook event", "event", event.Event)
		webhookIgnoredCounter.Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if event.Data.Reference == "" {
		h.logger.ErrorContext(ctx, "Webhook event without reference", "event", event.Event)
		webhookBadRequestCounter.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing reference"})
		return
	}

	ctx = logging.AppendCtx(ctx, slog.String("reference", event.Data.Reference))

	txn, err := h.transactions.GetByReference(ctx, event.Data.Reference)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			h.logger.WarnContext(ctx, "Webhook for unknown reference")
			webhookUnknownRefCounter.Inc()
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown reference"})
			return
		}
		h.logger.ErrorContext(ctx, "Error loading transaction", "error", err)
		webhookErrorCounter.Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	transitioned, err := h.transitioner.Apply(ctx, txn, outcome, string(body), payment.SourceWebhook)
	if err != nil {
		h.logger.ErrorContext(ctx, "Error applying webhook transition", "error", err)
		webhookErrorCounter.Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	if transitioned {
		webhookProcessedCounter.Inc()
	} else {
		webhookDuplicateCounter.Inc()
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) validSignature(body []byte, header string) bool {
	mac := hmac.New(sha512.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
