package gameroom

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dicearena/backend/internal/logging"
	"github.com/dicearena/backend/internal/metrics"
	"github.com/dicearena/backend/internal/protocol"
	"go.uber.org/zap"
)

// Stable obligation slots. "turn" covers whichever of game_start,
// afk_warning, or afk_timeout is currently pending — they are temporally
// exclusive, since none of them can be owed before a game has started or
// after the current turn has ended. "cleanup" and "host_grace" are their
// own slots because either can be pending concurrently with a turn
// obligation (an idle room has no turn; a host disconnecting mid-turn
// must not cancel the other player's AFK clock). Each pending join
// request gets its own slot, since a room may hold several at once.
const (
	obligationTurn      = "turn"
	obligationCleanup   = "cleanup"
	obligationHostGrace = "host_grace"
)

func obligationJoinRequest(requestID string) string {
	return "join_request:" + requestID
}

// alarmScheduler enforces "exactly one wall-clock timer pending per
// actor": every deadline the room owes is tracked in a single persisted
// set, keyed by a stable obligation id, but only ever one time.Timer is
// armed — for whichever entry is soonest. Any schedule or cancel
// recomputes that minimum and rearms, mirroring the teacher's
// Hub.pendingRoomCleanups single-timer-per-key pattern generalized to
// many concurrent keys sharing one clock.
type alarmScheduler struct {
	room        *Room
	timer       *time.Timer
	obligations map[string]protocol.AlarmObligation
}

func newAlarmScheduler(room *Room) *alarmScheduler {
	return &alarmScheduler{room: room, obligations: make(map[string]protocol.AlarmObligation)}
}

// schedule sets or replaces the named obligation and rearms the single
// timer for the new minimum across every pending obligation.
func (a *alarmScheduler) schedule(ctx context.Context, id string, kind protocol.AlarmKind, in time.Duration, payload map[string]any) {
	a.obligations[id] = protocol.AlarmObligation{
		ID:          id,
		Kind:        kind,
		Payload:     payload,
		ScheduledAt: time.Now().UTC().Add(in),
	}
	metrics.AlarmsScheduled.WithLabelValues(string(kind)).Inc()
	a.persistAndRearm(ctx)
}

// cancel clears the named obligation, if pending, and rearms.
func (a *alarmScheduler) cancel(ctx context.Context, id string) {
	if _, ok := a.obligations[id]; !ok {
		return
	}
	delete(a.obligations, id)
	a.persistAndRearm(ctx)
}

// restore reinstates an obligation recovered from storage without
// bumping the scheduled metric or re-deriving ScheduledAt; used only by
// cold-start resume.
func (a *alarmScheduler) restore(o protocol.AlarmObligation) {
	a.obligations[o.ID] = o
}

func (a *alarmScheduler) persistAndRearm(ctx context.Context) {
	key := fmt.Sprintf("room:%s:alarm_data", a.room.code)
	if len(a.obligations) == 0 {
		_ = a.room.storage.Del(ctx, key)
	} else {
		records := make([]protocol.AlarmObligation, 0, len(a.obligations))
		for _, o := range a.obligations {
			records = append(records, o)
		}
		if err := a.room.storage.Set(ctx, key, records); err != nil {
			logging.Error(ctx, "failed to persist alarm obligations", zap.Error(err), zap.String("roomCode", a.room.code))
		}
	}
	a.rearm()
}

// rearm stops whatever timer is pending and arms exactly one new timer
// for the soonest remaining obligation, if any.
func (a *alarmScheduler) rearm() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	next, ok := a.soonest()
	if !ok {
		return
	}
	delay := time.Until(next.ScheduledAt)
	if delay < 0 {
		delay = 0
	}
	a.timer = time.AfterFunc(delay, func() {
		a.fire(context.Background())
	})
}

func (a *alarmScheduler) soonest() (protocol.AlarmObligation, bool) {
	var best protocol.AlarmObligation
	found := false
	for _, o := range a.obligations {
		if !found || o.ScheduledAt.Before(best.ScheduledAt) {
			best = o
			found = true
		}
	}
	return best, found
}

// fire processes every obligation due at or before now — ordinarily one,
// but a join-request TTL and a turn alarm can legitimately land in the
// same tick — then rearms for whatever remains. Cross-actor calls queued
// by the handlers (summary pushes, decline deliveries, the directory
// removal on destroy) run after the lock is released.
func (a *alarmScheduler) fire(ctx context.Context) {
	a.fireLocked(ctx)
	a.room.flushOutbox()
}

func (a *alarmScheduler) fireLocked(ctx context.Context) {
	a.room.mu.Lock()
	defer a.room.mu.Unlock()

	now := time.Now().UTC()
	var due []protocol.AlarmObligation
	for id, o := range a.obligations {
		if !o.ScheduledAt.After(now) {
			due = append(due, o)
			delete(a.obligations, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })

	for _, o := range due {
		metrics.AlarmsFired.WithLabelValues(string(o.Kind)).Inc()
		switch o.Kind {
		case protocol.AlarmAfkWarning:
			a.fireAfkWarning(ctx, o.Payload)
		case protocol.AlarmAfkTimeout:
			a.fireAfkTimeout(ctx, o.Payload)
		case protocol.AlarmRoomCleanup:
			a.fireRoomCleanup(ctx)
		case protocol.AlarmGameStart:
			a.fireGameStart(ctx)
		case protocol.AlarmHostGrace:
			a.fireHostGrace(ctx, o.Payload)
		case protocol.AlarmJoinRequestExpiry:
			a.fireJoinRequestExpiry(ctx, o.Payload)
		}
	}

	a.persistAndRearm(ctx)
}

func (a *alarmScheduler) fireAfkWarning(ctx context.Context, payload map[string]any) {
	r := a.room
	userID, _ := payload["userId"].(string)
	cur := r.currentPlayer()
	if cur == nil || cur.UserID != userID {
		return // turn already advanced; stale alarm, no-op
	}
	r.broadcast(ctx, protocol.EventAfkWarning, protocol.AfkWarningEvent{UserID: userID})
	a.schedule(ctx, obligationTurn, protocol.AlarmAfkTimeout, r.cfg.AfkTimeout-r.cfg.AfkWarning, payload)
}

func (a *alarmScheduler) fireAfkTimeout(ctx context.Context, payload map[string]any) {
	r := a.room
	userID, _ := payload["userId"].(string)
	cur := r.currentPlayer()
	if cur == nil || cur.UserID != userID {
		return
	}
	category := lowestImpactUnscoredCategory(r.engine, cur.Scorecard)
	if category == "" {
		return
	}
	if err := r.applyScore(ctx, cur, category, 0, true); err != nil {
		logging.Error(ctx, "failed to persist afk auto-score", zap.Error(err), zap.String("roomCode", r.code))
	}
}

// fireRoomCleanup re-validates emptiness at the deadline: any live
// session — a reconnected player or a spectator still watching — keeps
// the room alive.
func (a *alarmScheduler) fireRoomCleanup(ctx context.Context) {
	r := a.room
	aiPlayers := 0
	for _, p := range r.state.Players {
		if p.Type == protocol.PlayerTypeAI {
			aiPlayers++
		}
	}
	if len(r.sessions) > 0 || aiPlayers > 0 {
		return // no longer empty; cancel implied by not rescheduling
	}
	r.destroy(ctx)
}

func (a *alarmScheduler) fireGameStart(ctx context.Context) {
	r := a.room
	if r.state.Phase != protocol.PhaseStarting {
		return
	}
	r.beginTurn(0)
	if err := r.persist(ctx); err != nil {
		logging.Error(ctx, "failed to persist game start", zap.Error(err), zap.String("roomCode", r.code))
		return
	}
	r.announceTurnStart(ctx)
}

// fireHostGrace implements the host-grace obligation: if the named host
// has not reconnected by the scheduled deadline, ownership transfers.
func (a *alarmScheduler) fireHostGrace(ctx context.Context, payload map[string]any) {
	r := a.room
	hostID, _ := payload["hostUserId"].(string)
	if r.state.HostUserID != hostID {
		return // already transferred or room reset
	}
	host := r.player(hostID)
	if host == nil || host.IsConnected {
		return // reconnected within the grace period
	}

	hostChanged, newHostUserID := r.transferHost()
	if !hostChanged {
		return
	}
	if err := r.persist(ctx); err != nil {
		logging.Error(ctx, "failed to persist host transfer", zap.Error(err), zap.String("roomCode", r.code))
		return
	}
	r.broadcast(ctx, protocol.EventHostChanged, protocol.HostChangedEvent{NewHostUserID: newHostUserID})
}

func (a *alarmScheduler) fireJoinRequestExpiry(ctx context.Context, payload map[string]any) {
	requestID, _ := payload["requestId"].(string)
	if requestID == "" {
		return
	}
	a.room.expireJoinRequest(ctx, requestID)
}

// lowestImpactUnscoredCategory picks a deterministic, minimal-value
// scratch target for an AFK auto-score: the first unscored category in
// fixed category order, which is always a legal zero-score choice.
func lowestImpactUnscoredCategory(engine interface {
	Categories() []protocol.ScoreCategory
}, scorecard map[protocol.ScoreCategory]*int) protocol.ScoreCategory {
	for _, c := range protocol.AllCategories {
		if scorecard[c] == nil {
			return c
		}
	}
	return ""
}
