package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	segkafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/redis"
	"github.com/Ramsey-B/yarrow/pkg/repositories/memstore"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

const requestID = "5b0f6d2e-8a4c-4b7e-9d3a-1f2e3d4c5b6a"

func debeziumMessage(op string, withSchema bool) []byte {
	row := `{"request_id":"` + requestID + `","work_order_id":"WO-1","payload":"check {}","status":"PENDING",` +
		`"source":"INTERACTIVE","safety_check_response":null,"failure_reason":null,` +
		`"created_at":"2026-03-01T09:30:00.123456Z","updated_at":1772357400123456,"ttl":1772443800}`
	before, after := "null", row
	if op == "d" {
		before, after = row, "null"
	}
	payload := `{"before":` + before + `,"after":` + after + `,"op":"` + op + `","ts_ms":1772357400123,` +
		`"source":{"connector":"postgresql","table":"safety_check_requests","db":"yarrow","schema":"public"}}`
	if withSchema {
		return []byte(`{"schema":{"type":"struct"},"payload":` + payload + `}`)
	}
	return []byte(payload)
}

func TestDecodeDebezium_Kinds(t *testing.T) {
	cases := map[string]Kind{"c": KindInsert, "u": KindModify, "d": KindRemove}
	for op, want := range cases {
		t.Run(op, func(t *testing.T) {
			event, err := DecodeDebezium(debeziumMessage(op, true))
			require.NoError(t, err)
			assert.Equal(t, want, event.Kind)
			assert.Equal(t, requestID, event.Request.RequestID.String())
			assert.Equal(t, "check {}", event.Request.Payload)
			assert.Equal(t, models.RequestStatusPending, event.Request.Status)
			assert.Equal(t, OriginKafka, event.Origin)
		})
	}
}

func TestDecodeDebezium_WithoutSchemaWrapper(t *testing.T) {
	event, err := DecodeDebezium(debeziumMessage("c", false))
	require.NoError(t, err)
	assert.Equal(t, KindInsert, event.Kind)
	assert.Equal(t, "WO-1", event.Request.WorkOrderID)
}

func TestDecodeDebezium_Timestamps(t *testing.T) {
	event, err := DecodeDebezium(debeziumMessage("c", true))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 30, 0, 123456000, time.UTC), event.Request.CreatedAt)
	assert.Equal(t, time.UnixMicro(1772357400123456).UTC(), event.Request.UpdatedAt)
}

func TestDecodeDebezium_Unrecognized(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("null"), debeziumMessage("r", true), debeziumMessage("t", true)} {
		_, err := DecodeDebezium(data)
		assert.ErrorIs(t, err, ErrUnrecognizedKind)
	}
}

func TestDecodeDebezium_Invalid(t *testing.T) {
	_, err := DecodeDebezium([]byte("{not json"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnrecognizedKind)

	_, err = DecodeDebezium([]byte(`{"payload":{"op":"c","after":{"request_id":"nope"}}}`))
	require.Error(t, err)

	_, err = DecodeDebezium([]byte(`{"payload":{"op":"c","after":null}}`))
	require.Error(t, err)
}

type recordingHandler struct {
	mu       sync.Mutex
	events   []ChangeEvent
	rejected [][]byte
	fail     map[string]bool
	// failTimes fails a payload that many times before it succeeds.
	failTimes map[string]int
	attempts  map[string]int
}

func (h *recordingHandler) Handle(_ context.Context, event ChangeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	payload := event.Request.Payload
	if h.attempts == nil {
		h.attempts = map[string]int{}
	}
	h.attempts[payload]++
	if h.fail[payload] {
		return errors.New("handler failed")
	}
	if h.failTimes[payload] > 0 {
		h.failTimes[payload]--
		return errors.New("handler failed")
	}
	h.events = append(h.events, event)
	return nil
}

func (h *recordingHandler) Reject(_ context.Context, _ string, raw []byte, _ error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejected = append(h.rejected, raw)
	return nil
}

func (h *recordingHandler) attemptsFor(payload string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts[payload]
}

func (h *recordingHandler) snapshot() ([]ChangeEvent, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ChangeEvent(nil), h.events...), len(h.rejected)
}

type queueReader struct {
	queue     chan segkafka.Message
	mu        sync.Mutex
	committed []int64
}

func (r *queueReader) FetchMessage(ctx context.Context) (segkafka.Message, error) {
	select {
	case <-ctx.Done():
		return segkafka.Message{}, ctx.Err()
	case m := <-r.queue:
		return m, nil
	}
}

func (r *queueReader) CommitMessages(_ context.Context, msgs ...segkafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *queueReader) Close() error { return nil }

func (r *queueReader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func TestKafkaSource_SkipsSnapshotsAndRejectsGarbage(t *testing.T) {
	reader := &queueReader{queue: make(chan segkafka.Message, 4)}
	reader.queue <- segkafka.Message{Offset: 1, Value: debeziumMessage("r", true)}
	reader.queue <- segkafka.Message{Offset: 2, Value: []byte("garbage")}
	reader.queue <- segkafka.Message{Topic: "cdc", Offset: 3, Value: debeziumMessage("c", true)}
	reader.queue <- segkafka.Message{Offset: 4, Value: nil}

	handler := &recordingHandler{}
	source := NewKafkaSourceWithReader(reader, "cdc", handler, testLogger())
	require.NoError(t, source.Start(context.Background()))

	require.Eventually(t, func() bool { return reader.count() == 4 }, time.Second, 10*time.Millisecond)
	require.NoError(t, source.Stop())

	events, rejected := handler.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, KindInsert, events[0].Kind)
	assert.Equal(t, "cdc/0/3", events[0].Position)
	assert.Equal(t, 1, rejected)
}

type fakeStreams struct {
	mu      sync.Mutex
	entries []redis.StreamMessage
	// delivered holds ids handed to the consumer and not yet acknowledged.
	delivered []string
	next      int
	acked     []string
	claims    int
}

func (f *fakeStreams) CreateConsumerGroup(context.Context, string, string) error { return nil }

func (f *fakeStreams) ReadGroup(ctx context.Context, _, _, _, start string, count int64, block time.Duration) ([]redis.StreamMessage, error) {
	f.mu.Lock()
	if start != ">" {
		defer f.mu.Unlock()
		return f.pendingAfter(start, count), nil
	}
	if f.next < len(f.entries) {
		e := f.entries[f.next]
		f.next++
		f.delivered = append(f.delivered, e.ID)
		f.mu.Unlock()
		return []redis.StreamMessage{e}, nil
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(block):
		return nil, nil
	}
}

// pendingAfter returns delivered, unacknowledged entries that follow start in stream order
func (f *fakeStreams) pendingAfter(start string, count int64) []redis.StreamMessage {
	pending := map[string]bool{}
	for _, id := range f.delivered {
		pending[id] = true
	}

	var out []redis.StreamMessage
	past := start == "0"
	for _, e := range f.entries {
		if !past {
			past = e.ID == start
			continue
		}
		if pending[e.ID] && int64(len(out)) < count {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeStreams) Claim(context.Context, string, string, string, time.Duration, int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	return 0, nil
}

func (f *fakeStreams) Ack(_ context.Context, _, _ string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.acked = append(f.acked, id)
		for i, d := range f.delivered {
			if d == id {
				f.delivered = append(f.delivered[:i], f.delivered[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (f *fakeStreams) Publish(_ context.Context, _ string, value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.entries = append(f.entries, redis.StreamMessage{ID: id, Data: data})
	return id, nil
}

func (f *fakeStreams) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

func streamEntry(t *testing.T, id string, event ChangeEvent) redis.StreamMessage {
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return redis.StreamMessage{ID: id, Data: data}
}

func TestRedisSource_PendingFirstThenNew(t *testing.T) {
	pending := ChangeEvent{Kind: KindInsert, Request: models.SafetyCheckRequest{RequestID: uuid.New(), Payload: "pending"}}
	fresh := ChangeEvent{Kind: KindInsert, Request: models.SafetyCheckRequest{RequestID: uuid.New(), Payload: "fresh"}}

	streams := &fakeStreams{
		entries:   []redis.StreamMessage{streamEntry(t, "1-0", pending), streamEntry(t, "2-0", fresh), {ID: "3-0", Data: []byte("garbage")}},
		delivered: []string{"1-0"},
		next:      1,
	}

	handler := &recordingHandler{}
	source := NewRedisSource(streams, RedisSourceConfig{Stream: "s", Group: "g", Consumer: "c", Block: 10 * time.Millisecond}, handler, testLogger())
	require.NoError(t, source.Start(context.Background()))

	require.Eventually(t, func() bool { return len(streams.ackedIDs()) == 3 }, time.Second, 10*time.Millisecond)
	require.NoError(t, source.Stop())

	events, rejected := handler.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "pending", events[0].Request.Payload)
	assert.Equal(t, "fresh", events[1].Request.Payload)
	assert.Equal(t, OriginRedis, events[1].Origin)
	assert.Equal(t, "2-0", events[1].Position)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, []string{"1-0", "2-0", "3-0"}, streams.ackedIDs())
}

func TestRedisSource_FailedEventIsNotAcked(t *testing.T) {
	bad := ChangeEvent{Kind: KindInsert, Request: models.SafetyCheckRequest{RequestID: uuid.New(), Payload: "bad"}}
	good := ChangeEvent{Kind: KindInsert, Request: models.SafetyCheckRequest{RequestID: uuid.New(), Payload: "good"}}
	streams := &fakeStreams{entries: []redis.StreamMessage{streamEntry(t, "1-0", bad), streamEntry(t, "2-0", good)}}

	handler := &recordingHandler{fail: map[string]bool{"bad": true}}
	source := NewRedisSource(streams, RedisSourceConfig{Stream: "s", Group: "g", Consumer: "c", Block: 10 * time.Millisecond}, handler, testLogger())
	require.NoError(t, source.Start(context.Background()))

	require.Eventually(t, func() bool { return len(streams.ackedIDs()) == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, source.Stop())
	assert.Equal(t, []string{"2-0"}, streams.ackedIDs())
}

func TestRedisSource_RetriesFailedEventUntilHandled(t *testing.T) {
	flaky := ChangeEvent{Kind: KindInsert, Request: models.SafetyCheckRequest{RequestID: uuid.New(), Payload: "flaky"}}
	good := ChangeEvent{Kind: KindInsert, Request: models.SafetyCheckRequest{RequestID: uuid.New(), Payload: "good"}}
	streams := &fakeStreams{entries: []redis.StreamMessage{streamEntry(t, "1-0", flaky), streamEntry(t, "2-0", good)}}

	handler := &recordingHandler{failTimes: map[string]int{"flaky": 2}}
	source := NewRedisSource(streams, RedisSourceConfig{
		Stream:        "s",
		Group:         "g",
		Consumer:      "c",
		Block:         5 * time.Millisecond,
		RetryInterval: 20 * time.Millisecond,
	}, handler, testLogger())
	require.NoError(t, source.Start(context.Background()))

	require.Eventually(t, func() bool { return len(streams.ackedIDs()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, source.Stop())

	assert.Equal(t, []string{"2-0", "1-0"}, streams.ackedIDs())
	assert.Equal(t, 3, handler.attemptsFor("flaky"))
	assert.Equal(t, 1, handler.attemptsFor("good"))

	streams.mu.Lock()
	defer streams.mu.Unlock()
	assert.Empty(t, streams.delivered)
	assert.GreaterOrEqual(t, streams.claims, 2)
}

func TestRedisSource_RetryPassSkipsPastFailingEntry(t *testing.T) {
	bad := ChangeEvent{Kind: KindInsert, Request: models.SafetyCheckRequest{RequestID: uuid.New(), Payload: "bad"}}
	later := ChangeEvent{Kind: KindInsert, Request: models.SafetyCheckRequest{RequestID: uuid.New(), Payload: "later"}}
	streams := &fakeStreams{
		entries:   []redis.StreamMessage{streamEntry(t, "1-0", bad), streamEntry(t, "2-0", later)},
		delivered: []string{"1-0", "2-0"},
		next:      2,
	}

	handler := &recordingHandler{fail: map[string]bool{"bad": true}}
	source := NewRedisSource(streams, RedisSourceConfig{Stream: "s", Group: "g", Consumer: "c", Block: 5 * time.Millisecond}, handler, testLogger())
	require.NoError(t, source.Start(context.Background()))

	require.Eventually(t, func() bool { return len(streams.ackedIDs()) == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, source.Stop())
	assert.Equal(t, []string{"2-0"}, streams.ackedIDs())
	assert.Equal(t, 1, handler.attemptsFor("bad"))
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("redis down")
}

func TestPublishingStore_PublishesInsert(t *testing.T) {
	ctx := context.Background()
	requests := memstore.NewRequests()
	streams := &fakeStreams{}
	store := NewPublishingStore(requests, streams, "outbox", testLogger())

	req := models.NewSafetyCheckRequest("WO-1", "p", models.RequestSourceInteractive, time.Now(), time.Hour)
	require.NoError(t, store.Create(ctx, req))

	require.Len(t, streams.entries, 1)
	var event ChangeEvent
	require.NoError(t, json.Unmarshal(streams.entries[0].Data, &event))
	assert.Equal(t, KindInsert, event.Kind)
	assert.Equal(t, req.RequestID, event.Request.RequestID)
	assert.Equal(t, "p", event.Request.Payload)
}

func TestPublishingStore_PublishFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	requests := memstore.NewRequests()
	store := NewPublishingStore(requests, failingPublisher{}, "outbox", testLogger())

	req := models.NewSafetyCheckRequest("WO-1", "p", models.RequestSourceInteractive, time.Now(), time.Hour)
	require.Error(t, store.Create(ctx, req))

	stored, err := requests.GetByID(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusFailed, stored.Status)
	assert.NoError(t, stored.CheckInvariants())
}
