package delivery

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const deliveryCols = `id, prescription_id, status, payment_intent_id, amount, version,
	created_at, updated_at`

func scanDelivery(row pgx.Row) (*Delivery, error) {
	var d Delivery
	err := row.Scan(
		&d.ID,
		&d.PrescriptionID,
		&d.Status,
		&d.PaymentIntentID,
		&d.Amount,
		&d.Version,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+deliveryCols+`
		FROM deliveries
		WHERE id = $1
	`, id)
	return scanDelivery(row)
}

func (r *PgRepository) GetActiveByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Delivery, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+deliveryCols+`
		FROM deliveries
		WHERE prescription_id = $1
		  AND status <> 'CANCELLED'
	`, prescriptionID)
	return scanDelivery(row)
}

func (r *PgRepository) Create(ctx context.Context, d *Delivery) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deliveries (id, prescription_id, status, payment_intent_id, amount,
			version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, now(), now())
	`, d.ID, d.PrescriptionID, d.Status, d.PaymentIntentID, d.Amount)
	return err
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, version int64) (*Delivery, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE deliveries
		SET status = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		  AND version = $4
		RETURNING `+deliveryCols+`
	`, id, to, from, version)

	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, ErrDeliveryNotFound) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, err
	}
	return d, nil
}

func (r *PgRepository) SetPaymentIntent(ctx context.Context, id uuid.UUID, intentID string, version int64) (*Delivery, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE deliveries
		SET payment_intent_id = $2,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $3
		RETURNING `+deliveryCols+`
	`, id, intentID, version)

	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, ErrDeliveryNotFound) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, err
	}
	return d, nil
}

func (r *PgRepository) classifyMiss(ctx context.Context, id uuid.UUID) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrConcurrentModification
}
