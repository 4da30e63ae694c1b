package db

import (
	"time"

	"github.com/google/uuid"
)

// TransactionEntity is one row of payment_transaction: the ground truth for
// whether money moved. Status is one of pending, success, failed and never
// leaves a terminal value.
type TransactionEntity struct {
	ID                   uuid.UUID
	Reference            string
	DonationID           *uuid.UUID
	Amount               int64
	Currency             string
	Status               string
	VerificationAttempts int
	LastVerificationAt   *time.Time
	WebhookReceivedAt    *time.Time
	WebhookPayload       *string
	GatewayResponse      *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type DonationEntity struct {
	ID         uuid.UUID
	DonorName  string
	DonorEmail string
	Amount     int64
	Currency   string
	Message    *string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PaymentEventEntity is one row of the payment_event outbox table.
type PaymentEventEntity struct {
	ID              uuid.UUID
	Reference       string
	DonationID      *uuid.UUID
	EventType       string
	Payload         string
	CreatedAt       time.Time
	ScheduledAt     *time.Time
	PublishedAt     *time.Time
	PublishAttempts int
	Error           *string
}
