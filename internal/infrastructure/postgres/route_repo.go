package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/hdevtech/ticket/internal/domain/ticket"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RouteRepository struct {
	pool *pgxpool.Pool
}

func NewRouteRepository(pool *pgxpool.Pool) *RouteRepository {
	return &RouteRepository{pool: pool}
}

func (r *RouteRepository) GetByID(ctx context.Context, routeID int64) (*ticket.Route, error) {
	const sql = `
		SELECT route_id, from_city, destination, car, price, seats, leave_date
		FROM routes
		WHERE route_id = $1
	`

	var rt ticket.Route
	err := conn(ctx, r.pool).QueryRow(ctx, sql, routeID).Scan(
		&rt.ID, &rt.From, &rt.Destination, &rt.Car, &rt.Price, &rt.Seats, &rt.LeaveDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ticket.ErrRouteNotFound
		}
		return nil, fmt.Errorf("get route: %w", err)
	}
	return &rt, nil
}

// Create inserts rt and fills in its route_id.
func (r *RouteRepository) Create(ctx context.Context, rt *ticket.Route) error {
	const sql = `
		INSERT INTO routes (from_city, destination, car, price, seats, leave_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING route_id
	`

	err := conn(ctx, r.pool).QueryRow(ctx, sql,
		rt.From, rt.Destination, rt.Car, rt.Price, rt.Seats, rt.LeaveDate,
	).Scan(&rt.ID)
	if err != nil {
		return fmt.Errorf("insert route: %w", err)
	}
	return nil
}
