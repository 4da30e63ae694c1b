package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"

	"payment-service/internal/db"
)

var (
	notifySentCounter  = metrics.GetOrCreateCounter(`notifier_emails_total{result="sent"}`)
	notifyErrorCounter = metrics.GetOrCreateCounter(`notifier_emails_total{result="error"}`)
)

type DonationReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*db.DonationEntity, error)
}

// EmailNotifier sends the donor thank-you and admin alert for a successful
// payment. It is fire-and-forget: callers are never blocked and never see a
// send failure. It has no idempotency memory of its own; invoking it at most
// once per transaction is the caller's job.
type EmailNotifier struct {
	donations  DonationReader
	mailer     MailSender
	adminEmail string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewEmailNotifier(donations DonationReader, mailer MailSender, adminEmail string, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		donations:  donations,
		mailer:     mailer,
		adminEmail: adminEmail,
		timeout:    30 * time.Second,
		logger:     logger,
	}
}

// PaymentSucceeded dispatches the notifications on a detached context, so a
// finished webhook request cannot cancel a send mid-flight.
func (n *EmailNotifier) PaymentSucceeded(donationID uuid.UUID, reference string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		n.sendAll(ctx, donationID, reference)
	}()
}

func (n *EmailNotifier) sendAll(ctx context.Context, donationID uuid.UUID, reference string) {
	donation, err := n.donations.GetByID(ctx, donationID)
	if err != nil {
		n.logger.ErrorContext(ctx, "Error loading donation for notification", "donationId", donationID, "error", err)
		notifyErrorCounter.Inc()
		return
	}

	amount := formatAmount(donation.Amount, donation.Currency)

	donorSubject := "Thank you for your donation"
	donorBody := fmt.Sprintf("Dear %s,\n\nYour donation of %s has been received. Reference: %s.\n\nThank you!",
		donation.DonorName, amount, reference)

	if err := n.mailer.Send(ctx, donation.DonorEmail, donorSubject, donorBody); err != nil {
		n.logger.ErrorContext(ctx, "Error sending donor email", "donationId", donationID, "error", err)
		notifyErrorCounter.Inc()
	} else {
		notifySentCounter.Inc()
	}

	if n.adminEmail == "" {
		return
	}

	adminSubject := "New donation received"
	adminBody := fmt.Sprintf("Donation %s from %s <%s> for %s completed. Reference: %s.",
		donation.ID, donation.DonorName, donation.DonorEmail, amount, reference)

	if err := n.mailer.Send(ctx, n.adminEmail, adminSubject, adminBody); err != nil {
		n.logger.ErrorContext(ctx, "Error sending admin email", "donationId", donationID, "error", err)
		notifyErrorCounter.Inc()
	} else {
		notifySentCounter.Inc()
	}
}

func formatAmount(subunits int64, currency string) string {
	return fmt.Sprintf("%s %.2f", currency, float64(subunits)/100)
}
