package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PaymentEventRepository is the outbox store: terminal transitions append a
// row here and the producer drains it into Kafka.
type PaymentEventRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentEventRepository(pool *pgxpool.Pool) *PaymentEventRepository {
	return &PaymentEventRepository{pool: pool}
}

func (r *PaymentEventRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *PaymentEventRepository) Create(ctx context.Context, entity *PaymentEventEntity) (*PaymentEventEntity, error) {
	query := `INSERT INTO payment_event (id, reference, donation_id, event_type, payload, scheduled_at)
	          VALUES ($1, $2, $3, $4, $5, now()) RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query, entity.ID, entity.Reference, entity.DonationID, entity.EventType, entity.Payload).
		Scan(&entity.ID, &entity.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "inserting payment event")
	}
	return entity, nil
}

func (r *PaymentEventRepository) SelectByID(ctx context.Context, id uuid.UUID) (*PaymentEventEntity, error) {
	query := `SELECT id, reference, donation_id, event_type, payload, created_at, scheduled_at, published_at, publish_attempts, error
	          FROM payment_event WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)

	var entity PaymentEventEntity
	err := row.Scan(&entity.ID, &entity.Reference, &entity.DonationID, &entity.EventType, &entity.Payload,
		&entity.CreatedAt, &entity.ScheduledAt, &entity.PublishedAt, &entity.PublishAttempts, &entity.Error)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// GetUnpublishedEvents locks due outbox rows for the calling transaction so
// concurrent producer runs never pick up the same event.
func (r *PaymentEventRepository) GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*PaymentEventEntity, error) {
	query := `SELECT id, reference, donation_id, event_type, payload, created_at, scheduled_at, published_at, publish_attempts, error
	          FROM payment_event
	          WHERE published_at IS NULL AND scheduled_at IS NOT NULL AND scheduled_at <= now()
	          ORDER BY created_at ASC
	          LIMIT $1
	          FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "fetching unpublished payment events")
	}
	defer rows.Close()

	var events []*PaymentEventEntity
	for rows.Next() {
		var entity PaymentEventEntity
		err := rows.Scan(&entity.ID, &entity.Reference, &entity.DonationID, &entity.EventType, &entity.Payload,
			&entity.CreatedAt, &entity.ScheduledAt, &entity.PublishedAt, &entity.PublishAttempts, &entity.Error)
		if err != nil {
			return nil, errors.Wrap(err, "scanning payment event")
		}
		events = append(events, &entity)
	}
	return events, rows.Err()
}

func (r *PaymentEventRepository) Update(ctx context.Context, tx pgx.Tx, entity *PaymentEventEntity) error {
	query := `UPDATE payment_event
	          SET scheduled_at = $2, published_at = $3, publish_attempts = $4, error = $5
	          WHERE id = $1`
	_, err := tx.Exec(ctx, query, entity.ID, entity.ScheduledAt, entity.PublishedAt, entity.PublishAttempts, entity.Error)
	return errors.Wrap(err, "updating payment event")
}
