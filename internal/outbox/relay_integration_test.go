package outbox_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/taxiroutes/internal/booking/domain"
	"github.com/example/taxiroutes/internal/booking/repository"
	"github.com/example/taxiroutes/internal/outbox"
)

func TestRelayPublishesBookingEventsToNATS(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	db := startPostgres(t, ctx)
	_, err := repository.Migrate(ctx, db)
	require.NoError(t, err)

	nc := startNATS(t, ctx)
	msgs := make(chan *nats.Msg, 4)
	_, err = nc.Subscribe(repository.DefaultOutboxTopic, func(m *nats.Msg) { msgs <- m })
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	repo := repository.NewPostgresRepository(db, domain.SystemClock{}, repository.DefaultOutboxTopic)
	n := 3
	b, err := repo.Create(ctx, domain.NewBooking{Phone: "+998901234567", TripType: "passenger", Passengers: &n, FromCity: "Nukus", ToCity: "Khiva"})
	require.NoError(t, err)
	_, err = repo.ConditionalUpdate(ctx, b.ID, domain.StatusNew, domain.ClaimUpdate{ClaimedBy: "@d1", ClaimedByChannelID: "101"})
	require.NoError(t, err)

	relay := outbox.NewRelay(db, nc, nil, outbox.RelayConfig{PollInterval: 50 * time.Millisecond})
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = relay.Run(runCtx) }()

	var types []string
	for len(types) < 2 {
		select {
		case m := <-msgs:
			types = append(types, m.Header.Get("x-event-type"))
			require.NotContains(t, string(m.Data), "901234567")
		case <-time.After(10 * time.Second):
			t.Fatalf("received %v before timeout", types)
		}
	}
	require.Equal(t, []string{"BookingCreated", "BookingClaimed"}, types)

	require.Eventually(t, func() bool {
		var pending int
		_ = db.QueryRowContext(ctx, `SELECT count(*) FROM outbox WHERE published = false`).Scan(&pending)
		return pending == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func startPostgres(t *testing.T, ctx context.Context) *sql.DB {
	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("taxiroutes"),
		postgrescontainer.WithUsername("postgres"),
		postgrescontainer.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func startNATS(t *testing.T, ctx context.Context) *nats.Conn {
	container, err := natscontainer.Run(ctx, "nats:2")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}
