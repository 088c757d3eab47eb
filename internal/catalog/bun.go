package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

const queryTimeout = 3 * time.Second

type routeModel struct {
	bun.BaseModel `bun:"table:routes,alias:r"`
	Route
}

// BunSource reads the catalog tables through bun.
type BunSource struct {
	db *bun.DB
}

// NewBunSource wraps an open pgx-backed *sql.DB.
func NewBunSource(sqldb *sql.DB) *BunSource {
	return &BunSource{db: bun.NewDB(sqldb, pgdialect.New())}
}

func (s *BunSource) ListRoutes(ctx context.Context) ([]Route, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows []routeModel
	if err := s.db.NewSelect().
		Model(&rows).
		OrderExpr("r.from_city ASC, r.to_city ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	routes := make([]Route, len(rows))
	for i, row := range rows {
		routes[i] = row.Route
	}
	return routes, nil
}

func (s *BunSource) ListVehicles(ctx context.Context, routeID int64) ([]Vehicle, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var vehicles []Vehicle
	if err := s.db.NewSelect().
		TableExpr("vehicles AS v").
		ColumnExpr("v.id, v.route_id, v.vehicle_name, v.type, v.price").
		ColumnExpr("d.name AS driver_name, d.phone AS driver_phone").
		Join("LEFT JOIN drivers AS d ON d.id = v.driver_id").
		Where("v.route_id = ?", routeID).
		OrderExpr("v.vehicle_name ASC").
		Scan(ctx, &vehicles); err != nil {
		return nil, fmt.Errorf("list vehicles for route %d: %w", routeID, err)
	}
	if vehicles == nil {
		vehicles = []Vehicle{}
	}
	return vehicles, nil
}
