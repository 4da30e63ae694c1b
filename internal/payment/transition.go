package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"payment-service/internal/db"
)

// TransitionSource tells the store which audit fields a terminal update
// should refresh.
type TransitionSource int

const (
	SourceWebhook TransitionSource = iota
	SourceVerification
)

const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
)

type TransactionStore interface {
	CompleteFromWebhook(ctx context.Context, reference, status, payload string) (bool, error)
	CompleteFromVerification(ctx context.Context, reference, status, response string) (bool, error)
}

type DonationStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

type EventOutbox interface {
	Create(ctx context.Context, entity *db.PaymentEventEntity) (*db.PaymentEventEntity, error)
}

type Notifier interface {
	PaymentSucceeded(donationID uuid.UUID, reference string)
}

// Transitioner applies a terminal status to a transaction and drives the
// secondary effects. Both the webhook path and the sweeper go through here,
// so the idempotency and notify-once rules live in exactly one place.
type Transitioner struct {
	transactions TransactionStore
	donations    DonationStore
	outbox       EventOutbox
	notifier     Notifier
	logger       *slog.Logger
}

func NewTransitioner(transactions TransactionStore, donations DonationStore, outbox EventOutbox, notifier Notifier, logger *slog.Logger) *Transitioner {
	return &Transitioner{
		transactions: transactions,
		donations:    donations,
		outbox:       outbox,
		notifier:     notifier,
		logger:       logger,
	}
}

// Apply moves txn to status and reports whether this call performed the
// transition. A non-terminal status is a no-op. The conditional write in the
// store is the single idempotency gate: every side effect below runs only
// when the write flipped the row out of pending, so duplicate webhooks and
// overlapping sweeps cannot notify twice. Only the transaction write itself
// can fail the call; donation sync, outbox append and notification are
// best-effort and never roll the transition back.
func (t *Transitioner) Apply(ctx context.Context, txn *db.TransactionEntity, status Status, raw string, source TransitionSource) (bool, error) {
	if !status.Terminal() {
		return false, nil
	}

	var (
		transitioned bool
		err          error
	)
	switch source {
	case SourceWebhook:
		transitioned, err = t.transactions.CompleteFromWebhook(ctx, txn.Reference, string(status), raw)
	case SourceVerification:
		transitioned, err = t.transactions.CompleteFromVerification(ctx, txn.Reference, string(status), raw)
	}
	if err != nil {
		return false, err
	}

	if !transitioned {
		t.logger.InfoContext(ctx, "Transaction already terminal, skipping side effects", "reference", txn.Reference)
		return false, nil
	}

	t.logger.InfoContext(ctx, "Transaction resolved", "reference", txn.Reference, "status", status)

	if txn.DonationID != nil {
		if err := t.donations.UpdateStatus(ctx, *txn.DonationID, DonationStatusFor(status)); err != nil {
			t.logger.ErrorContext(ctx, "Error syncing donation status", "reference", txn.Reference, "error", err)
		}
	}

	t.appendEvent(ctx, txn, status)

	if status == StatusSuccess && txn.DonationID != nil {
		t.notifier.PaymentSucceeded(*txn.DonationID, txn.Reference)
	}

	return true, nil
}

func (t *Transitioner) appendEvent(ctx context.Context, txn *db.TransactionEntity, status Status) {
	eventType := EventPaymentCompleted
	if status == StatusFailed {
		eventType = EventPaymentFailed
	}

	payload, err := json.Marshal(map[string]any{
		"reference":  txn.Reference,
		"donationId": txn.DonationID,
		"amount":     txn.Amount,
		"currency":   txn.Currency,
		"status":     status,
		"resolvedAt": time.Now().UTC(),
	})
	if err != nil {
		t.logger.ErrorContext(ctx, "Error marshalling payment event payload", "reference", txn.Reference, "error", err)
		return
	}

	entity := &db.PaymentEventEntity{
		ID:         uuid.New(),
		Reference:  txn.Reference,
		DonationID: txn.DonationID,
		EventType:  eventType,
		Payload:    string(payload),
	}

	if _, err := t.outbox.Create(ctx, entity); err != nil {
		t.logger.ErrorContext(ctx, "Error appending payment event", "reference", txn.Reference, "error", err)
	}
}
