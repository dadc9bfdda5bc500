package storage

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)

	return svc, mr
}

func TestNewService(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	assert.NotNil(t, svc.Client())
	err := svc.Ping(context.Background())
	assert.NoError(t, err)
}

type gameState struct {
	Phase string `json:"phase"`
	Turn  int    `json:"turn"`
}

func TestSetAndGet(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	key := "room:ABC123:game_state"

	err := svc.Set(ctx, key, gameState{Phase: "turn_roll", Turn: 2})
	assert.NoError(t, err)

	var got gameState
	err = svc.Get(ctx, key, &got)
	assert.NoError(t, err)
	assert.Equal(t, "turn_roll", got.Phase)
	assert.Equal(t, 2, got.Turn)
}

func TestGet_MissingKeyReturnsRedisNil(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	var got gameState
	err := svc.Get(context.Background(), "room:NOPE00:game_state", &got)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestDel(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	key := "room:ABC123:alarm_data"

	require.NoError(t, svc.Set(ctx, key, gameState{Phase: "turn_decide"}))
	require.NoError(t, svc.Del(ctx, key))

	var got gameState
	err := svc.Get(ctx, key, &got)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestPublish(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	channel := "lobby:rooms"

	sub := svc.Client().Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()
	time.Sleep(50 * time.Millisecond)

	payload := map[string]string{"foo": "bar"}
	err := svc.Publish(ctx, channel, "room-update", payload, "sender-1")
	assert.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	assert.NoError(t, err)

	var envelope PubSubPayload
	err = json.Unmarshal([]byte(msg.Payload), &envelope)
	assert.NoError(t, err)

	assert.Equal(t, "room-update", envelope.Event)
	assert.Equal(t, "sender-1", envelope.SenderID)
}

func TestSubscribe(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := "lobby:rooms"
	wg := &sync.WaitGroup{}

	received := make(chan PubSubPayload, 1)
	handler := func(p PubSubPayload) { received <- p }

	svc.Subscribe(ctx, channel, wg, handler)
	time.Sleep(50 * time.Millisecond)

	payload := PubSubPayload{Channel: channel, Event: "hello", SenderID: "sender-2"}
	bytes, _ := json.Marshal(payload)
	svc.Client().Publish(ctx, channel, bytes)

	select {
	case p := <-received:
		assert.Equal(t, "hello", p.Event)
		assert.Equal(t, "sender-2", p.SenderID)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	cancel()
	wg.Wait()
}

func TestSetOperations(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	key := "lobby:online_sessions"

	err := svc.SetAdd(ctx, key, "m1")
	assert.NoError(t, err)
	err = svc.SetAdd(ctx, key, "m2")
	assert.NoError(t, err)

	members, err := svc.SetMembers(ctx, key)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, members)

	err = svc.SetRem(ctx, key, "m1")
	assert.NoError(t, err)

	members, err = svc.SetMembers(ctx, key)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"m2"}, members)
}

func TestRedisFailure_Graceful(t *testing.T) {
	svc, mr := newTestService(t)

	mr.Close()

	ctx := context.Background()
	err := svc.Ping(ctx)
	assert.Error(t, err)
}

func TestSetGet_CircuitBreakerOpen(t *testing.T) {
	svc, mr := newTestService(t)
	defer mr.Close()
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	mr.Close()

	for i := 0; i < 10; i++ {
		_ = svc.Set(ctx, "room:X:game_state", gameState{})
	}

	err := svc.Set(ctx, "room:X:game_state", gameState{})
	_ = err // graceful degradation: may error, must not panic
}

func TestNilService_DoesNotPanic(t *testing.T) {
	var svc *Service
	ctx := context.Background()

	assert.NoError(t, svc.Set(ctx, "k", gameState{}))
	assert.ErrorIs(t, svc.Get(ctx, "k", &gameState{}), redis.Nil)
	assert.NoError(t, svc.Del(ctx, "k"))
	assert.NoError(t, svc.Publish(ctx, "c", "e", nil, "s"))
	assert.NoError(t, svc.Ping(ctx))
	assert.NoError(t, svc.Close())
	members, err := svc.SetMembers(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, members)
}
