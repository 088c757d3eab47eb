package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time { return c.t }

func TestMemoryIdempotencyFirstWriteWinsAndExpires(t *testing.T) {
	ctx := context.Background()
	clock := &stepClock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	store := NewMemoryIdempotency(clock, time.Hour)

	first, second := uuid.New(), uuid.New()
	require.NoError(t, store.Remember(ctx, "k", first))
	require.NoError(t, store.Remember(ctx, "k", second))

	got, ok, err := store.Lookup(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first, got)

	clock.t = clock.t.Add(time.Hour)
	_, ok, err = store.Lookup(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisIdempotency(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisIdempotency(client, time.Minute)
	_, ok, err := store.Lookup(ctx, "user:42:abc")
	require.NoError(t, err)
	require.False(t, ok)

	id := uuid.New()
	require.NoError(t, store.Remember(ctx, "user:42:abc", id))
	require.NoError(t, store.Remember(ctx, "user:42:abc", uuid.New()))

	got, ok, err := store.Lookup(ctx, "user:42:abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, got)

	mr.FastForward(2 * time.Minute)
	_, ok, err = store.Lookup(ctx, "user:42:abc")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisIdempotencyRejectsGarbage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, mr.Set("idem:booking:k", "not-a-uuid"))

	_, _, err := NewRedisIdempotency(client, 0).Lookup(context.Background(), "k")
	require.Error(t, err)
}
