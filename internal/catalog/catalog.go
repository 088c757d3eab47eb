// Package catalog serves the read-only reference data the mini app browses:
// routes between cities and the vehicles working each route.
package catalog

import "context"

type Route struct {
	ID       int64  `json:"id" bun:"id,pk,autoincrement"`
	FromCity string `json:"from_city" bun:"from_city"`
	ToCity   string `json:"to_city" bun:"to_city"`
}

type Vehicle struct {
	ID          int64   `json:"id" bun:"id"`
	RouteID     int64   `json:"route_id" bun:"route_id"`
	Name        string  `json:"vehicle_name" bun:"vehicle_name"`
	Type        string  `json:"type" bun:"type"`
	Price       int     `json:"price" bun:"price"`
	DriverName  *string `json:"driver_name,omitempty" bun:"driver_name"`
	DriverPhone *string `json:"driver_phone,omitempty" bun:"driver_phone"`
}

// Source lists reference data. Routes are ordered by origin city, vehicles
// by name.
type Source interface {
	ListRoutes(ctx context.Context) ([]Route, error)
	ListVehicles(ctx context.Context, routeID int64) ([]Vehicle, error)
}
