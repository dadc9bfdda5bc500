package gameroom

import (
	"context"
	"fmt"
	"time"

	"github.com/dicearena/backend/internal/chatring"
	"github.com/dicearena/backend/internal/logging"
	"github.com/dicearena/backend/internal/protocol"
	"github.com/dicearena/backend/internal/rpc"
	"github.com/dicearena/backend/internal/scoring"
	"github.com/dicearena/backend/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

// LoadOrNewRoom hydrates a Room from its persisted game_state and
// alarm_data keys if they exist, or constructs a fresh waiting room
// otherwise; session_index is not read back. This is the hibernation-resume path: the
// actor host calls it the first time a room code is touched after a
// process restart or an evicted-then-reaccessed room, and the result must
// be indistinguishable from a Room that was never evicted — aside from
// chat history and live sessions, which are explicitly not durable (see
// spec's storage model: chat is in-memory-only, sessions are rebuilt as
// clients reconnect and re-send JOIN_ROOM).
func LoadOrNewRoom(ctx context.Context, code string, cfg Config, engine scoring.Engine, store *storage.Service, lobby rpc.RoomToLobby, onEmpty func(string)) *Room {
	r := &Room{
		code:         code,
		cfg:          cfg,
		engine:       engine,
		storage:      store,
		lobby:        lobby,
		sessions:     make(map[string]*Client),
		spectators:   set.New[string](),
		chat:         chatring.New(protocol.ChatHistorySize),
		joinRequests: make(map[string]*protocol.JoinRequest),
		onEmpty:      onEmpty,
	}

	var persisted gameState
	key := fmt.Sprintf("room:%s:game_state", code)
	switch err := store.Get(ctx, key, &persisted); {
	case err == nil:
		r.state = persisted
		if r.state.Players == nil {
			r.state.Players = make(map[string]*playerState)
		}
		// A resumed actor has no live sessions until clients reconnect and
		// re-send JOIN_ROOM; every seat starts marked disconnected so the
		// host-grace and AFK logic behave exactly as if those sockets had
		// just dropped, rather than assuming stale liveness.
		for _, p := range r.state.Players {
			p.IsConnected = false
		}
		logging.Info(ctx, "resumed room from persisted state", zap.String("roomCode", code))
	case err == redis.Nil:
		now := time.Now().UTC()
		r.state = gameState{
			Code:      code,
			Players:   make(map[string]*playerState),
			Phase:     protocol.PhaseWaiting,
			IsPublic:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
	default:
		logging.Warn(ctx, "failed to load persisted room state, starting fresh", zap.Error(err), zap.String("roomCode", code))
		now := time.Now().UTC()
		r.state = gameState{
			Code:      code,
			Players:   make(map[string]*playerState),
			Phase:     protocol.PhaseWaiting,
			IsPublic:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	r.alarm = newAlarmScheduler(r)
	r.resumeAlarm(ctx)
	return r
}

// resumeAlarm reconstructs every pending obligation from the persisted
// set and rearms the single wall-clock timer for whichever is soonest;
// remaining waits are recomputed from each ScheduledAt rather than
// restarting their full windows, so a room that hibernated for part of
// an AFK window doesn't give the laggard extra time. Join-request
// obligations resume their TTL clock, but the request bodies themselves
// are in-memory-only bookkeeping and do not survive hibernation — the
// firing is then a harmless no-op against an empty joinRequests map,
// the same posture the spec takes toward chat history.
func (r *Room) resumeAlarm(ctx context.Context) {
	var records []protocol.AlarmObligation
	key := fmt.Sprintf("room:%s:alarm_data", r.code)
	if err := r.storage.Get(ctx, key, &records); err != nil {
		return
	}
	for _, o := range records {
		r.alarm.restore(o)
	}
	r.alarm.rearm()
}
