package postgres

import (
	"context"
	"fmt"

	"github.com/hdevtech/ticket/internal/domain/payment"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ChargeRepository keeps a log of charge requests sent to the gateway,
// accepted or not.
type ChargeRepository struct {
	pool *pgxpool.Pool
}

func NewChargeRepository(pool *pgxpool.Pool) *ChargeRepository {
	return &ChargeRepository{pool: pool}
}

func (r *ChargeRepository) Create(ctx context.Context, a *payment.Attempt) error {
	const sql = `
		INSERT INTO charges (tx_ref, tel, amount, accepted, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := conn(ctx, r.pool).Exec(ctx, sql, a.TxRef, a.Tel, a.Amount, a.Accepted, nullIfEmpty(a.Message), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert charge: %w", err)
	}

	return nil
}

func (r *ChargeRepository) ListByTxRef(ctx context.Context, txRef string) ([]*payment.Attempt, error) {
	const sql = `
		SELECT tx_ref, tel, amount, accepted, COALESCE(message, ''), created_at
		FROM charges
		WHERE tx_ref = $1
		ORDER BY created_at ASC
	`

	rows, err := conn(ctx, r.pool).Query(ctx, sql, txRef)
	if err != nil {
		return nil, fmt.Errorf("query charges: %w", err)
	}
	defer rows.Close()

	var attempts []*payment.Attempt
	for rows.Next() {
		a := &payment.Attempt{}
		if err := rows.Scan(&a.TxRef, &a.Tel, &a.Amount, &a.Accepted, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan charge: %w", err)
		}
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}
