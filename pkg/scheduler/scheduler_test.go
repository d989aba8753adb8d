package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/redis"
	"github.com/Ramsey-B/yarrow/pkg/repositories/memstore"
)

type fakeLocker struct {
	held bool
	keys []string
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error) error {
	l.keys = append(l.keys, key)
	if l.held {
		return redis.ErrLockNotAcquired
	}
	return fn(ctx)
}

var fixedNow = time.Date(2026, 6, 10, 11, 15, 42, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type fixture struct {
	workOrders *memstore.WorkOrders
	requests   *memstore.Requests
	locker     *fakeLocker
	scheduler  *Scheduler
}

func newFixture(t *testing.T, orders ...models.WorkOrder) *fixture {
	t.Helper()
	f := &fixture{
		workOrders: memstore.NewWorkOrders(orders...),
		requests:   memstore.NewRequests(),
		locker:     &fakeLocker{},
	}
	f.scheduler = New(Deps{
		WorkOrders: f.workOrders,
		Locations:  memstore.NewLocations(models.Location{LocationName: "Site-A", Address: "1 Main St", Latitude: 47.6, Longitude: -122.3}),
		Requests:   f.requests,
		Locker:     f.locker,
	}, Config{RequestTTL: 48 * time.Hour}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	f.scheduler.now = func() time.Time { return fixedNow }
	f.scheduler.rng = rand.New(rand.NewSource(7))
	return f
}

func TestWindow_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	starts := []time.Time{
		fixedNow,
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 31, 23, 59, 59, 999, time.UTC),
	}

	for _, now := range starts {
		for i := 0; i < 500; i++ {
			start, finish := Window(now, rng)

			assert.True(t, now.Before(start))
			assert.True(t, start.Before(finish))
			assert.GreaterOrEqual(t, start.Sub(now), 24*time.Hour)
			assert.Less(t, start.Sub(now), 48*time.Hour)
			assert.GreaterOrEqual(t, finish.Sub(start), 4*time.Hour)
			assert.Less(t, finish.Sub(start), 8*time.Hour)
			assert.Equal(t, start, start.Truncate(time.Hour))
			assert.Equal(t, finish, finish.Truncate(time.Hour))
		}
	}
}

func TestPrompt_AttachesLocationAndStripsStale(t *testing.T) {
	wo := models.WorkOrder{
		WorkOrderID:            "WO-1",
		LocationName:           "Site-A",
		SafetyCheckResponse:    ptr("yesterday's briefing"),
		SafetyCheckPerformedAt: ptr(fixedNow),
		LocationDetails:        &models.Location{LocationName: "Site-A", Address: "1 Main St"},
	}

	prompt, err := Prompt(wo)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, PromptPrefix+"{"))
	assert.NotContains(t, prompt, models.StaleResponseKey)
	assert.NotContains(t, prompt, models.StalePerformedAtKey)
	assert.Contains(t, prompt, `"address":"1 Main St"`)
}

func TestPrompt_UnknownLocationIsNull(t *testing.T) {
	prompt, err := Prompt(models.WorkOrder{WorkOrderID: "WO-2", LocationName: "Nowhere"})
	require.NoError(t, err)
	assert.Contains(t, prompt, `"location_details":null`)
}

func TestRunBatch_QueuesOpenWorkOrders(t *testing.T) {
	f := newFixture(t,
		models.WorkOrder{WorkOrderID: "WO-1", LocationName: "Site-A", Status: "Open", SafetyCheckResponse: ptr("old")},
		models.WorkOrder{WorkOrderID: "WO-2", LocationName: "Unknown", Status: "In Progress"},
		models.WorkOrder{WorkOrderID: "WO-3", LocationName: "Site-A", Status: "Completed"},
		models.WorkOrder{WorkOrderID: "WO-4", LocationName: "Site-A", Status: "cancelled"},
	)

	result, err := f.scheduler.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Queued)
	assert.Equal(t, 2, result.Skipped)
	assert.Len(t, result.RequestIDs, 2)
	assert.Equal(t, []string{"scheduler:batch"}, f.locker.keys)

	queued := map[string]models.SafetyCheckRequest{}
	for _, r := range f.requests.All() {
		queued[r.WorkOrderID] = r
	}
	require.Contains(t, queued, "WO-1")
	require.Contains(t, queued, "WO-2")
	assert.NotContains(t, queued, "WO-3")

	wo1 := queued["WO-1"]
	assert.Equal(t, models.RequestSourceScheduled, wo1.Source)
	assert.Equal(t, models.RequestStatusPending, wo1.Status)
	assert.True(t, strings.HasPrefix(wo1.Payload, PromptPrefix))
	assert.NotContains(t, wo1.Payload, models.StaleResponseKey)
	assert.Contains(t, wo1.Payload, `"latitude":47.6`)
	assert.Contains(t, queued["WO-2"].Payload, `"location_details":null`)
	assert.Equal(t, fixedNow.Add(48*time.Hour).Unix(), wo1.TTL)

	for _, id := range []string{"WO-1", "WO-2"} {
		wo, err := f.workOrders.GetByID(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, wo.ScheduledStartTimestamp)
		require.NotNil(t, wo.ScheduledFinishTimestamp)
		assert.True(t, fixedNow.Before(*wo.ScheduledStartTimestamp))
		assert.True(t, wo.ScheduledStartTimestamp.Before(*wo.ScheduledFinishTimestamp))
	}

	skipped, err := f.workOrders.GetByID(context.Background(), "WO-3")
	require.NoError(t, err)
	assert.Nil(t, skipped.ScheduledStartTimestamp)
}

func TestRunBatch_ErrorAbortsRun(t *testing.T) {
	f := newFixture(t, models.WorkOrder{WorkOrderID: "WO-1", Status: "Open"})
	f.requests.Err = errors.New("db down")

	result, err := f.scheduler.RunBatch(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, result.Queued)

	wo, err := f.workOrders.GetByID(context.Background(), "WO-1")
	require.NoError(t, err)
	assert.Nil(t, wo.ScheduledStartTimestamp)
}

func TestRunBatch_ListFailure(t *testing.T) {
	f := newFixture(t)
	f.workOrders.Err = errors.New("db down")

	_, err := f.scheduler.RunBatch(context.Background())
	require.Error(t, err)
}

func TestRunBatch_LockedElsewhere(t *testing.T) {
	f := newFixture(t, models.WorkOrder{WorkOrderID: "WO-1", Status: "Open"})
	f.locker.held = true

	_, err := f.scheduler.RunBatch(context.Background())
	require.ErrorIs(t, err, redis.ErrLockNotAcquired)
	assert.Empty(t, f.requests.All())
}

func TestRunBatch_RejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	f.scheduler.running.Store(true)

	_, err := f.scheduler.RunBatch(context.Background())
	require.ErrorIs(t, err, ErrBatchRunning)
	assert.False(t, f.scheduler.Trigger(context.Background()))
}

func TestTrigger_RunsInBackground(t *testing.T) {
	f := newFixture(t, models.WorkOrder{WorkOrderID: "WO-1", Status: "Open"})

	require.True(t, f.scheduler.Trigger(context.Background()))
	f.scheduler.wg.Wait()
	assert.Len(t, f.requests.All(), 1)
}

func TestPrune_DeletesExpired(t *testing.T) {
	f := newFixture(t)
	expired := models.NewSafetyCheckRequest("WO-1", "p", models.RequestSourceScheduled, fixedNow.Add(-72*time.Hour), time.Hour)
	live := models.NewSafetyCheckRequest("WO-2", "p", models.RequestSourceScheduled, fixedNow, time.Hour)
	require.NoError(t, f.requests.Create(context.Background(), expired))
	require.NoError(t, f.requests.Create(context.Background(), live))

	deleted, err := f.scheduler.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, f.requests.All(), 1)
	assert.Contains(t, f.locker.keys, "scheduler:prune")
}

func TestStart_InvalidSchedule(t *testing.T) {
	s := New(Deps{}, Config{BatchCron: "not a cron"}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	require.Error(t, s.Start(context.Background()))
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.scheduler.Start(context.Background()))
	f.scheduler.Stop()
}
