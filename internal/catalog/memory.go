package catalog

import (
	"context"
	"sort"
	"sync"
)

// MemorySource serves a fixed catalog, used when no database is configured.
type MemorySource struct {
	mu       sync.RWMutex
	routes   []Route
	vehicles map[int64][]Vehicle
}

func NewMemorySource(routes []Route, vehicles []Vehicle) *MemorySource {
	m := &MemorySource{vehicles: make(map[int64][]Vehicle)}
	m.routes = append(m.routes, routes...)
	sort.SliceStable(m.routes, func(i, j int) bool {
		if m.routes[i].FromCity != m.routes[j].FromCity {
			return m.routes[i].FromCity < m.routes[j].FromCity
		}
		return m.routes[i].ToCity < m.routes[j].ToCity
	})
	for _, v := range vehicles {
		m.vehicles[v.RouteID] = append(m.vehicles[v.RouteID], v)
	}
	for id := range m.vehicles {
		list := m.vehicles[id]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return m
}

func (m *MemorySource) ListRoutes(context.Context) ([]Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Route(nil), m.routes...), nil
}

func (m *MemorySource) ListVehicles(_ context.Context, routeID int64) ([]Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]Vehicle{}, m.vehicles[routeID]...)
	return out, nil
}

// DefaultRoutes seeds a development catalog.
func DefaultRoutes() []Route {
	return []Route{
		{ID: 1, FromCity: "Nukus", ToCity: "Khiva"},
		{ID: 2, FromCity: "Nukus", ToCity: "Beruniy"},
		{ID: 3, FromCity: "Nukus", ToCity: "Chimbay"},
		{ID: 4, FromCity: "Khojeli", ToCity: "Nukus"},
	}
}
