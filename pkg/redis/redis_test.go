package redis_test

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/redis"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func getTestClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set")
	}
	port := 6379
	if p, err := strconv.Atoi(os.Getenv("REDIS_PORT")); err == nil {
		port = p
	}

	client, err := redis.NewClient(context.Background(), redis.Config{Host: host, Port: port}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLocker_ExclusiveUntilReleased(t *testing.T) {
	client := getTestClient(t)
	locker := redis.NewLocker(client, "test:lock:")
	ctx := context.Background()
	key := uuid.NewString()

	lock, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, redis.ErrLockNotAcquired)

	err = locker.WithLock(ctx, key, time.Minute, func(context.Context) error {
		t.Fatal("should not run while locked")
		return nil
	})
	assert.ErrorIs(t, err, redis.ErrLockNotAcquired)

	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), redis.ErrLockNotHeld)

	ran := false
	require.NoError(t, locker.WithLock(ctx, key, time.Minute, func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestLocker_HeldPastTTLWhileRunning(t *testing.T) {
	client := getTestClient(t)
	locker := redis.NewLocker(client, "test:lock")
	ctx := context.Background()
	key := uuid.NewString()

	require.NoError(t, locker.WithLock(ctx, key, 300*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(time.Second)
		_, err := locker.Acquire(ctx, key, time.Minute)
		assert.ErrorIs(t, err, redis.ErrLockNotAcquired)
		return nil
	}))

	lock, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))
}

func TestDeadLetterQueue_RoundTrip(t *testing.T) {
	client := getTestClient(t)
	dlq := redis.NewDeadLetterQueue(client, "test:dlq:"+uuid.NewString(), testLogger())
	ctx := context.Background()

	id, err := dlq.Add(ctx, &redis.DLQEntry{
		RequestID:    uuid.NewString(),
		Source:       "kafka",
		Reason:       models.DeadLetterReasonMaxRetriesExceeded,
		ErrorMessage: "agent unavailable",
		RetryCount:   3,
	})
	require.NoError(t, err)

	count, err := dlq.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	entry, err := dlq.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, entry.MessageID)
	assert.Equal(t, "agent unavailable", entry.ErrorMessage)

	entries, err := dlq.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, dlq.Delete(ctx, id))
	assert.ErrorIs(t, dlq.Delete(ctx, id), redis.ErrDLQEntryNotFound)
	_, err = dlq.Get(ctx, id)
	assert.ErrorIs(t, err, redis.ErrDLQEntryNotFound)
}

func TestRateLimiter_Allow(t *testing.T) {
	client := getTestClient(t)
	limiter := redis.NewRateLimiter(client, "test:ratelimit:")
	ctx := context.Background()
	key := uuid.NewString()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, key, 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := limiter.Allow(ctx, key, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryIn)

	require.NoError(t, limiter.Reset(ctx, key))
}

func TestStreams_ReadGroupAndAck(t *testing.T) {
	client := getTestClient(t)
	streams := redis.NewStreams(client)
	ctx := context.Background()
	stream := "test:stream:" + uuid.NewString()

	require.NoError(t, streams.CreateConsumerGroup(ctx, stream, "g"))
	require.NoError(t, streams.CreateConsumerGroup(ctx, stream, "g"))

	_, err := streams.Publish(ctx, stream, map[string]string{"hello": "world"})
	require.NoError(t, err)

	msgs, err := streams.ReadGroup(ctx, stream, "g", "c1", ">", 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"hello":"world"}`, string(msgs[0].Data))

	// Unacked entries come back when reading history.
	pending, err := streams.ReadGroup(ctx, stream, "g", "c1", "0", 1, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, streams.Ack(ctx, stream, "g", msgs[0].ID))
	pending, err = streams.ReadGroup(ctx, stream, "g", "c1", "0", 1, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStreams_ClaimMovesIdleEntries(t *testing.T) {
	client := getTestClient(t)
	streams := redis.NewStreams(client)
	ctx := context.Background()
	stream := "test:stream:" + uuid.NewString()

	require.NoError(t, streams.CreateConsumerGroup(ctx, stream, "g"))
	_, err := streams.Publish(ctx, stream, map[string]string{"hello": "world"})
	require.NoError(t, err)

	msgs, err := streams.ReadGroup(ctx, stream, "g", "gone", ">", 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	claimed, err := streams.Claim(ctx, stream, "g", "c2", time.Hour, 10)
	require.NoError(t, err)
	assert.Zero(t, claimed)

	time.Sleep(20 * time.Millisecond)
	claimed, err = streams.Claim(ctx, stream, "g", "c2", 10*time.Millisecond, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)

	pending, err := streams.ReadGroup(ctx, stream, "g", "c2", "0", 1, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, msgs[0].ID, pending[0].ID)
}

func TestPubSub_DeliversToSubscriber(t *testing.T) {
	client := getTestClient(t)
	ps := redis.NewPubSub(client)
	channel := "test:pubsub:" + uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	go func() {
		_ = ps.Subscribe(ctx, channel, func(_ context.Context, payload []byte) {
			received <- payload
		})
	}()

	require.Eventually(t, func() bool {
		n, err := ps.Publish(ctx, channel, map[string]string{"requestId": "r1"})
		return err == nil && n > 0
	}, 2*time.Second, 50*time.Millisecond)

	select {
	case payload := <-received:
		assert.JSONEq(t, `{"requestId":"r1"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}
