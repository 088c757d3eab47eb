package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/taxiroutes/internal/booking/domain"
	"github.com/example/taxiroutes/internal/booking/repository"
)

func TestPostgresConcurrentClaimsExactlyOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a postgres container")
	}
	ctx := context.Background()
	db := startPostgres(t, ctx)
	_, err := repository.Migrate(ctx, db)
	require.NoError(t, err)

	repo := repository.NewPostgresRepository(db, nil, "")
	created, err := repo.Create(ctx, sampleInput())
	require.NoError(t, err)

	const claimers = 16
	results := make(chan error, claimers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			who := fmt.Sprintf("driver-%d", i)
			_, err := repo.ConditionalUpdate(ctx, created.ID, domain.StatusNew, domain.ClaimUpdate{ClaimedBy: who, ClaimedByChannelID: who})
			results <- err
		}(i)
	}
	close(start)
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrClaimConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, claimers-1, conflicts)

	stored, err := repo.GetBooking(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusTaken, stored.Status)
	require.NotEmpty(t, stored.ClaimedBy)

	var outboxRows int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM outbox`).Scan(&outboxRows))
	require.Equal(t, 2, outboxRows)

	applied, err := repository.Migrate(ctx, db)
	require.NoError(t, err)
	require.Empty(t, applied)
}

func startPostgres(t *testing.T, ctx context.Context) *sql.DB {
	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("taxiroutes"),
		postgrescontainer.WithUsername("postgres"),
		postgrescontainer.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pg.Terminate(ctx))
	})
	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))
	t.Cleanup(func() { _ = db.Close() })
	return db
}
