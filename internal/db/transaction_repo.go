package db

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const transactionColumns = `id, reference, donation_id, amount, currency, status, verification_attempts,
	last_verification_at, webhook_received_at, webhook_payload, gateway_response, created_at, updated_at`

type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func (r *TransactionRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *TransactionRepository) Create(ctx context.Context, tx pgx.Tx, entity *TransactionEntity) (*TransactionEntity, error) {
	query := `INSERT INTO payment_transaction (id, reference, donation_id, amount, currency, status)
	          VALUES ($1, $2, $3, $4, $5, 'pending') RETURNING id, created_at, updated_at`
	err := tx.QueryRow(ctx, query, entity.ID, entity.Reference, entity.DonationID, entity.Amount, entity.Currency).
		Scan(&entity.ID, &entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "inserting payment transaction")
	}
	entity.Status = "pending"
	return entity, nil
}

func (r *TransactionRepository) GetByReference(ctx context.Context, reference string) (*TransactionEntity, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transaction WHERE reference = $1`
	row := r.pool.QueryRow(ctx, query, reference)

	var entity TransactionEntity
	err := row.Scan(&entity.ID, &entity.Reference, &entity.DonationID, &entity.Amount, &entity.Currency,
		&entity.Status, &entity.VerificationAttempts, &entity.LastVerificationAt, &entity.WebhookReceivedAt,
		&entity.WebhookPayload, &entity.GatewayResponse, &entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// CompleteFromWebhook moves a transaction to the given terminal status if it
// is still pending and reports whether this call performed the transition.
// When the row is already terminal only the audit fields are refreshed, so a
// late duplicate webhook can never flip a resolved status.
func (r *TransactionRepository) CompleteFromWebhook(ctx context.Context, reference, status, payload string) (bool, error) {
	query := `UPDATE payment_transaction
	          SET status = $2, webhook_payload = $3, webhook_received_at = now(), updated_at = now()
	          WHERE reference = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, query, reference, status, payload)
	if err != nil {
		return false, errors.Wrap(err, "updating transaction from webhook")
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	auditQuery := `UPDATE payment_transaction
	               SET webhook_payload = $2, webhook_received_at = now(), updated_at = now()
	               WHERE reference = $1`
	_, err = r.pool.Exec(ctx, auditQuery, reference, payload)
	if err != nil {
		return false, errors.Wrap(err, "recording webhook payload")
	}
	return false, nil
}

// CompleteFromVerification is the sweeper-side twin of CompleteFromWebhook;
// it stores the gateway response instead of the webhook payload.
func (r *TransactionRepository) CompleteFromVerification(ctx context.Context, reference, status, response string) (bool, error) {
	query := `UPDATE payment_transaction
	          SET status = $2, gateway_response = $3, updated_at = now()
	          WHERE reference = $1 AND status = 'pending'`
	tag, err := r.pool.Exec(ctx, query, reference, status, response)
	if err != nil {
		return false, errors.Wrap(err, "updating transaction from verification")
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	auditQuery := `UPDATE payment_transaction SET gateway_response = $2, updated_at = now() WHERE reference = $1`
	_, err = r.pool.Exec(ctx, auditQuery, reference, response)
	if err != nil {
		return false, errors.Wrap(err, "recording gateway response")
	}
	return false, nil
}

// RecordVerificationResponse keeps the latest gateway response for a
// transaction that came back still pending.
func (r *TransactionRepository) RecordVerificationResponse(ctx context.Context, reference, response string) error {
	query := `UPDATE payment_transaction SET gateway_response = $2, updated_at = now() WHERE reference = $1`
	_, err := r.pool.Exec(ctx, query, reference, response)
	return errors.Wrap(err, "recording gateway response")
}

// ClaimPendingBatch selects the oldest pending transactions past the grace
// period and below the attempt cap, incrementing verification_attempts and
// stamping last_verification_at in the same statement. The counter advances
// before any gateway call is made, so a crash mid-sweep cannot retry-storm
// the same rows with the counter standing still.
func (r *TransactionRepository) ClaimPendingBatch(ctx context.Context, olderThan time.Duration, maxAttempts, limit int) ([]*TransactionEntity, error) {
	query := `UPDATE payment_transaction
	          SET verification_attempts = verification_attempts + 1, last_verification_at = now(), updated_at = now()
	          WHERE id IN (
	              SELECT id FROM payment_transaction
	              WHERE status = 'pending'
	                AND created_at < now() - make_interval(secs => $1)
	                AND verification_attempts < $2
	              ORDER BY created_at ASC
	              LIMIT $3
	              FOR UPDATE SKIP LOCKED)
	          RETURNING ` + transactionColumns
	rows, err := r.pool.Query(ctx, query, olderThan.Seconds(), maxAttempts, limit)
	if err != nil {
		return nil, errors.Wrap(err, "claiming pending transactions")
	}
	defer rows.Close()

	var claimed []*TransactionEntity
	for rows.Next() {
		var entity TransactionEntity
		err := rows.Scan(&entity.ID, &entity.Reference, &entity.DonationID, &entity.Amount, &entity.Currency,
			&entity.Status, &entity.VerificationAttempts, &entity.LastVerificationAt, &entity.WebhookReceivedAt,
			&entity.WebhookPayload, &entity.GatewayResponse, &entity.CreatedAt, &entity.UpdatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "scanning claimed transaction")
		}
		claimed = append(claimed, &entity)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading claimed transactions")
	}

	// RETURNING does not honor the subquery ordering
	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
	})

	return claimed, nil
}
