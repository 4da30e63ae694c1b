package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type DonationRepository struct {
	pool *pgxpool.Pool
}

func NewDonationRepository(pool *pgxpool.Pool) *DonationRepository {
	return &DonationRepository{pool: pool}
}

func (r *DonationRepository) Create(ctx context.Context, tx pgx.Tx, entity *DonationEntity) (*DonationEntity, error) {
	query := `INSERT INTO donation (id, donor_name, donor_email, amount, currency, message, status)
	          VALUES ($1, $2, $3, $4, $5, $6, 'pending') RETURNING id, created_at, updated_at`
	err := tx.QueryRow(ctx, query, entity.ID, entity.DonorName, entity.DonorEmail, entity.Amount,
		entity.Currency, entity.Message).Scan(&entity.ID, &entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "inserting donation")
	}
	entity.Status = "pending"
	return entity, nil
}

func (r *DonationRepository) GetByID(ctx context.Context, id uuid.UUID) (*DonationEntity, error) {
	query := `SELECT id, donor_name, donor_email, amount, currency, message, status, created_at, updated_at
	          FROM donation WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)

	var entity DonationEntity
	err := row.Scan(&entity.ID, &entity.DonorName, &entity.DonorEmail, &entity.Amount, &entity.Currency,
		&entity.Message, &entity.Status, &entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (r *DonationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE donation SET status = $2, updated_at = now() WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, status)
	return errors.Wrap(err, "updating donation status")
}
