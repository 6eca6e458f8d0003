package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
)

func noticeEvent(title string) shared.NewNoticeboardEvent {
	return shared.NewNoticeboardEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventNewNoticeboard, "family"),
		Title:     title,
	}
}

func syncBus() *InMemoryEventBus {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = false
	return NewInMemoryEventBus(cfg)
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()
	var typed, all int
	require.NoError(t, bus.Subscribe(shared.EventNewNoticeboard, func(shared.Event) error { typed++; return nil }))
	require.NoError(t, bus.Subscribe(shared.EventNewAgenda, func(shared.Event) error { t.Fatal("wrong type"); return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(noticeEvent("gita")))

	assert.Equal(t, 1, typed)
	assert.Equal(t, 1, all)
	assert.EqualValues(t, 1, bus.Metrics().Snapshot().TotalPublished)
}

func TestInMemoryEventBus_SyncErrorsAndPanics(t *testing.T) {
	bus := syncBus()
	boom := errors.New("boom")
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return boom }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))
	var reached bool
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { reached = true; return nil }))

	err := bus.Publish(noticeEvent("x"))

	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.True(t, reached)
	snap := bus.Metrics().Snapshot()
	assert.EqualValues(t, 3, snap.TotalHandlerExecs)
	assert.EqualValues(t, 2, snap.HandlerFailures)
}

func TestInMemoryEventBus_AsyncCloseDrains(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})
	var handled atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(noticeEvent("n")))
	}
	require.NoError(t, bus.Close())

	assert.EqualValues(t, 10, handled.Load())
	assert.ErrorIs(t, bus.Publish(noticeEvent("late")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.NoError(t, bus.Close())
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := syncBus()
	assert.Error(t, bus.Publish(nil))
	assert.Error(t, bus.Subscribe(shared.EventNewAgenda, nil))
}

// loopbackRedis is a single in-process channel standing in for Redis pub/sub.
type loopbackRedis struct {
	mu         sync.Mutex
	subs       []chan RedisMessage
	published  []string
	publishErr error
}

func (l *loopbackRedis) Publish(_ context.Context, channel string, message interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.publishErr != nil {
		return l.publishErr
	}
	payload := message.(string)
	l.published = append(l.published, payload)
	for _, s := range l.subs {
		s <- RedisMessage{Channel: channel, Payload: payload}
	}
	return nil
}

func (l *loopbackRedis) Subscribe(_ context.Context, _ ...string) (<-chan RedisMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	l.subs = append(l.subs, ch)
	return ch, nil
}

func (l *loopbackRedis) Close() error { return nil }

func newRedisBus(t *testing.T, client RedisClient, instance string) *RedisEventBus {
	t.Helper()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		InstanceID:     instance,
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestRedisEventBus_DeliversAcrossInstances(t *testing.T) {
	redis := &loopbackRedis{}
	a := newRedisBus(t, redis, "a")
	b := newRedisBus(t, redis, "b")

	var localA atomic.Int32
	require.NoError(t, a.SubscribeAll(func(shared.Event) error { localA.Add(1); return nil }))

	received := make(chan shared.Event, 1)
	require.NoError(t, b.Subscribe(shared.EventNewNoticeboard, func(e shared.Event) error {
		received <- e
		return nil
	}))

	require.NoError(t, a.Publish(noticeEvent("sciopero")))

	select {
	case e := <-received:
		assert.Equal(t, shared.EventNewNoticeboard, e.EventType())
		assert.Equal(t, "family", e.AggregateID())
		assert.Equal(t, "sciopero", e.Payload()["title"])
	case <-time.After(time.Second):
		t.Fatal("event never reached the other instance")
	}

	// The publisher's own copy comes back from Redis and must be skipped.
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, localA.Load())

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(redis.published[0]), &envelope))
	assert.Equal(t, "a", envelope["instance_id"])
	assert.Equal(t, string(shared.EventNewNoticeboard), envelope["event_type"])
}

func TestRedisEventBus_PublishFailureStillDeliversLocally(t *testing.T) {
	redis := &loopbackRedis{publishErr: errors.New("connection refused")}
	bus := newRedisBus(t, redis, "a")
	var local int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { local++; return nil }))

	err := bus.Publish(noticeEvent("x"))

	assert.Error(t, err)
	assert.Equal(t, 1, local)
}

func TestNewRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(RedisEventBusConfig{})
	assert.Error(t, err)
}
