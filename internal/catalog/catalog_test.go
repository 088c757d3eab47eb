package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/example/taxiroutes/internal/retry"
)

type statusErr int

func (e statusErr) Error() string   { return "status " + http.StatusText(int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

type countingSource struct {
	calls    atomic.Int32
	failures []error
	mu       sync.Mutex
	inner    Source
}

func (c *countingSource) next() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.failures) == 0 {
		return nil
	}
	err := c.failures[0]
	c.failures = c.failures[1:]
	return err
}

func (c *countingSource) ListRoutes(ctx context.Context) ([]Route, error) {
	c.calls.Add(1)
	if err := c.next(); err != nil {
		return nil, err
	}
	return c.inner.ListRoutes(ctx)
}

func (c *countingSource) ListVehicles(ctx context.Context, id int64) ([]Vehicle, error) {
	c.calls.Add(1)
	if err := c.next(); err != nil {
		return nil, err
	}
	return c.inner.ListVehicles(ctx, id)
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: func(context.Context, time.Duration) error { return nil }}
}

func strPtr(s string) *string { return &s }

func seeded() *MemorySource {
	return NewMemorySource(DefaultRoutes(), []Vehicle{
		{ID: 2, RouteID: 1, Name: "Nexia", Type: "sedan", Price: 80000, DriverName: strPtr("Bakhtiyar")},
		{ID: 1, RouteID: 1, Name: "Cobalt", Type: "sedan", Price: 90000},
	})
}

func TestMemorySourceOrdering(t *testing.T) {
	src := seeded()
	routes, err := src.ListRoutes(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Khojeli", routes[0].FromCity)

	vehicles, err := src.ListVehicles(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Cobalt", vehicles[0].Name)
	require.Equal(t, "Nexia", vehicles[1].Name)

	empty, err := src.ListVehicles(context.Background(), 99)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestCachedServesWithinTTL(t *testing.T) {
	src := &countingSource{inner: seeded()}
	c, err := NewCached(src, 6*time.Hour, fastPolicy())
	require.NoError(t, err)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := c.ListRoutes(context.Background())
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, src.calls.Load())

	now = now.Add(6*time.Hour + time.Second)
	_, err = c.ListRoutes(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, src.calls.Load())

	c.Invalidate()
	_, err = c.ListVehicles(context.Background(), 1)
	require.NoError(t, err)
	require.EqualValues(t, 3, src.calls.Load())
}

func TestCachedRetriesTransientFailures(t *testing.T) {
	src := &countingSource{inner: seeded(), failures: []error{statusErr(503), statusErr(503)}}
	c, err := NewCached(src, time.Minute, fastPolicy())
	require.NoError(t, err)

	routes, err := c.ListRoutes(context.Background())
	require.NoError(t, err)
	require.Len(t, routes, 4)
	require.EqualValues(t, 3, src.calls.Load())
}

func TestCachedDoesNotRetryClientErrorsOrCacheFailures(t *testing.T) {
	src := &countingSource{inner: seeded(), failures: []error{statusErr(400)}}
	c, err := NewCached(src, time.Minute, fastPolicy())
	require.NoError(t, err)

	_, err = c.ListRoutes(context.Background())
	var se statusErr
	require.True(t, errors.As(err, &se))
	require.EqualValues(t, 1, src.calls.Load())

	_, err = c.ListRoutes(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, src.calls.Load())
}

func TestBunSourceQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	src := NewBunSource(db)

	mock.ExpectQuery(`FROM "routes" AS "r"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "from_city", "to_city"}).
			AddRow(int64(1), "Nukus", "Khiva").
			AddRow(int64(2), "Nukus", "Beruniy"))
	routes, err := src.ListRoutes(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Route{{ID: 1, FromCity: "Nukus", ToCity: "Khiva"}, {ID: 2, FromCity: "Nukus", ToCity: "Beruniy"}}, routes)

	mock.ExpectQuery(`FROM vehicles AS v LEFT JOIN drivers AS d`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "route_id", "vehicle_name", "type", "price", "driver_name", "driver_phone"}).
			AddRow(int64(5), int64(1), "Damas", "minivan", int64(50000), "Aybek", nil))
	vehicles, err := src.ListVehicles(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	require.Equal(t, "Damas", vehicles[0].Name)
	require.Equal(t, "Aybek", *vehicles[0].DriverName)
	require.Nil(t, vehicles[0].DriverPhone)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHTTPHandlers(t *testing.T) {
	r := chi.NewRouter()
	r.Mount("/v1/routes", NewHTTP(seeded(), nil).Router())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/routes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var routes []Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &routes))
	require.Len(t, routes, 4)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/routes/1/vehicles", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"vehicle_name":"Cobalt"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/routes/abc/vehicles", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
