package payment

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"payment-service/internal/db"
)

type InitiationRequest struct {
	DonorName  string `json:"donorName"`
	DonorEmail string `json:"donorEmail"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Message    string `json:"message,omitempty"`
}

func (r InitiationRequest) Validate() error {
	if r.DonorEmail == "" {
		return errors.New("donorEmail is required")
	}
	if r.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if r.Currency == "" {
		return errors.New("currency is required")
	}
	return nil
}

// Initiation is what the caller needs to open the checkout widget: the
// reference embedded into the widget is the one all webhooks and
// verification calls will be correlated by.
type Initiation struct {
	Reference  string    `json:"reference"`
	DonationID uuid.UUID `json:"donationId"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	PublicKey  string    `json:"publicKey"`
}

// Initiator creates the donation and transaction rows a checkout session
// starts from.
type Initiator struct {
	transactions *db.TransactionRepository
	donations    *db.DonationRepository
	newReference func() string
	publicKey    string
	logger       *slog.Logger
}

func NewInitiator(transactions *db.TransactionRepository, donations *db.DonationRepository, newReference func() string, publicKey string, logger *slog.Logger) *Initiator {
	return &Initiator{
		transactions: transactions,
		donations:    donations,
		newReference: newReference,
		publicKey:    publicKey,
		logger:       logger,
	}
}

// Initiate creates a pending donation and a pending transaction in a single
// database transaction, so the caller either gets a usable reference or a
// clean failure, never a half-created pair.
func (i *Initiator) Initiate(ctx context.Context, req InitiationRequest) (*Initiation, error) {
	tx, err := i.transactions.BeginTx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "starting initiation transaction")
	}
	defer tx.Rollback(ctx)

	var message *string
	if req.Message != "" {
		message = &req.Message
	}

	donation := &db.DonationEntity{
		ID:         uuid.New(),
		DonorName:  req.DonorName,
		DonorEmail: req.DonorEmail,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Message:    message,
	}
	if _, err := i.donations.Create(ctx, tx, donation); err != nil {
		return nil, err
	}

	reference := i.newReference()
	txn := &db.TransactionEntity{
		ID:         uuid.New(),
		Reference:  reference,
		DonationID: &donation.ID,
		Amount:     req.Amount,
		Currency:   req.Currency,
	}
	if _, err := i.transactions.Create(ctx, tx, txn); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "committing initiation")
	}

	i.logger.InfoContext(ctx, "Payment initiated", "reference", reference, "donationId", donation.ID)

	return &Initiation{
		Reference:  reference,
		DonationID: donation.ID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		PublicKey:  i.publicKey,
	}, nil
}
