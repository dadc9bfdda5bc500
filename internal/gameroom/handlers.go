package gameroom

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dicearena/backend/internal/metrics"
	"github.com/dicearena/backend/internal/protocol"
)

func (r *Room) handleJoinRoom(ctx context.Context, client *Client) {
	if existing := r.player(client.UserID); existing != nil {
		existing.IsConnected = true
		existing.CurrentConnectionID = client.ConnectionID
		existing.LastActiveAt = time.Now().UTC()
		r.sessions[client.ConnectionID] = client
		if err := r.persist(ctx); err != nil {
			client.sendError(protocol.NewError(protocol.ErrInternal, "failed to rejoin room"))
			return
		}
		r.persistSessionIndex(ctx)
		r.sendTo(client, protocol.EventRoomState, r.snapshot())
		return
	}

	if len(r.state.Players) >= r.cfg.MaxPlayers {
		if r.cfg.SpectatorsAllowed && r.spectators.Len() < r.cfg.MaxSpectators {
			r.addSpectator(client)
			r.persistSessionIndex(ctx)
			r.sendTo(client, protocol.EventRoomState, r.snapshot())
			r.pushSummary(ctx)
			return
		}
		client.sendError(protocol.NewError(protocol.ErrRoomFull, "room is full"))
		return
	}

	p := newPlayerState(client.UserID, client.DisplayName, client.AvatarSeed)
	p.CurrentConnectionID = client.ConnectionID
	isFirst := len(r.state.Players) == 0
	if isFirst {
		p.IsHost = true
		r.state.HostUserID = p.UserID
	}
	r.state.Players[p.UserID] = p
	r.state.PlayerJoinOrder = append(r.state.PlayerJoinOrder, p.UserID)
	r.sessions[client.ConnectionID] = client

	if err := r.persist(ctx); err != nil {
		client.sendError(protocol.NewError(protocol.ErrInternal, "failed to join room"))
		return
	}
	r.persistSessionIndex(ctx)

	if isFirst {
		r.sendTo(client, protocol.EventRoomState, r.snapshot())
	} else {
		r.broadcast(ctx, protocol.EventRoomUpdated, protocol.RoomUpdatedEvent{Players: r.snapshot().Players})
		r.sendTo(client, protocol.EventRoomState, r.snapshot())
	}

	r.pushSummary(ctx)
}

func (r *Room) handleLeaveRoom(ctx context.Context, client *Client) {
	p := r.player(client.UserID)
	if p == nil {
		return
	}
	hostChanged, newHostUserID := r.removePlayer(p)
	delete(r.sessions, client.ConnectionID)

	if err := r.persist(ctx); err != nil {
		client.sendError(protocol.NewError(protocol.ErrInternal, "failed to leave room"))
		return
	}
	r.persistSessionIndex(ctx)

	if hostChanged {
		r.broadcast(ctx, protocol.EventHostChanged, protocol.HostChangedEvent{NewHostUserID: newHostUserID})
	}
	r.broadcast(ctx, protocol.EventRoomUpdated, protocol.RoomUpdatedEvent{Players: r.snapshot().Players})
	r.pushSummary(ctx)
	r.maybeScheduleCleanup(ctx)
}

// removePlayer drops a seat and, if the departing player was host,
// transfers ownership. Mutation only — the caller persists before
// broadcasting ROOM_UPDATED and, if hostChanged, HOST_CHANGED.
func (r *Room) removePlayer(p *playerState) (hostChanged bool, newHostUserID string) {
	delete(r.state.Players, p.UserID)
	for i, uid := range r.state.PlayerJoinOrder {
		if uid == p.UserID {
			r.state.PlayerJoinOrder = append(r.state.PlayerJoinOrder[:i], r.state.PlayerJoinOrder[i+1:]...)
			break
		}
	}
	if p.IsHost {
		return r.transferHost()
	}
	return false, ""
}

// transferHost rewrites hostUserId to the earliest-joined still-connected
// remaining player (falling back to the earliest-joined player at all, if
// every remaining seat is currently disconnected). The outgoing host is
// excluded even if it is still present in the roster (the
// disconnect-timeout path marks a host disconnected but does not remove
// their seat). Mutation only; reports whether ownership actually moved
// to a new player so the caller can broadcast HOST_CHANGED after persist.
func (r *Room) transferHost() (hostChanged bool, newHostUserID string) {
	outgoing := r.state.HostUserID
	var fallback *playerState
	for _, uid := range r.state.PlayerJoinOrder {
		if uid == outgoing {
			continue
		}
		np := r.state.Players[uid]
		if np == nil {
			continue
		}
		if fallback == nil {
			fallback = np
		}
		if np.IsConnected {
			r.promoteHost(np)
			return true, np.UserID
		}
	}
	if fallback != nil {
		r.promoteHost(fallback)
		return true, fallback.UserID
	}
	if outgoing != "" {
		if p := r.state.Players[outgoing]; p != nil {
			p.IsHost = false
		}
	}
	r.state.HostUserID = ""
	return false, ""
}

func (r *Room) promoteHost(np *playerState) {
	if outgoing := r.state.Players[r.state.HostUserID]; outgoing != nil {
		outgoing.IsHost = false
	}
	np.IsHost = true
	r.state.HostUserID = np.UserID
}

func (r *Room) handleStartGame(ctx context.Context, client *Client) {
	if client.UserID != r.state.HostUserID {
		client.sendError(protocol.NewError(protocol.ErrNotHost, "only the host may start the game"))
		return
	}
	if r.state.Phase != protocol.PhaseWaiting {
		client.sendError(protocol.NewError(protocol.ErrInvalidStatusTransition, "game already started"))
		return
	}
	if len(r.state.Players) < r.cfg.MinPlayers {
		client.sendError(protocol.NewError(protocol.ErrInsufficientPlayers, "not enough players"))
		return
	}

	order := append([]string(nil), r.state.PlayerJoinOrder...)
	cryptoShuffle(order)
	r.state.PlayerOrder = order
	r.state.Phase = protocol.PhaseStarting
	now := time.Now().UTC()
	r.state.GameStartedAt = &now
	r.state.TurnNumber = 0
	r.state.RoundNumber = 0

	if err := r.persist(ctx); err != nil {
		client.sendError(protocol.NewError(protocol.ErrInternal, "failed to start game"))
		return
	}

	metrics.GamesStarted.Inc()
	r.broadcast(ctx, protocol.EventGameStarting, protocol.GameStartingEvent{InSeconds: int(r.cfg.StartingCountdown / time.Second)})
	r.pushSummary(ctx)

	r.alarm.schedule(ctx, obligationTurn, protocol.AlarmGameStart, r.cfg.StartingCountdown, nil)
}

func (r *Room) handleRollDice(ctx context.Context, client *Client, raw json.RawMessage) {
	payload, ok := protocol.Decode[protocol.RollDicePayload](raw)
	if !ok || payload.Validate() != nil {
		client.sendError(protocol.NewError(protocol.ErrInvalidMessage, "invalid ROLL_DICE payload"))
		return
	}
	if r.state.Phase != protocol.PhaseTurnRoll && r.state.Phase != protocol.PhaseTurnDecide {
		client.sendError(protocol.NewError(protocol.ErrNotYourTurn, "no active turn"))
		return
	}
	cur := r.currentPlayer()
	if cur == nil || cur.UserID != client.UserID {
		client.sendError(protocol.NewError(protocol.ErrNotYourTurn, "not your turn"))
		return
	}
	if cur.RollsRemaining <= 0 {
		client.sendError(protocol.NewError(protocol.ErrNoRolls, "no rolls remaining"))
		return
	}

	r.rollDice(cur, payload.KeptMask)
	r.state.Phase = protocol.PhaseTurnDecide

	if err := r.persist(ctx); err != nil {
		client.sendError(protocol.NewError(protocol.ErrInternal, "failed to roll dice"))
		return
	}

	r.broadcast(ctx, protocol.EventDiceRolled, protocol.DiceRolledEvent{
		UserID:         cur.UserID,
		Dice:           append([]int(nil), cur.CurrentDice[:]...),
		KeptMask:       cur.KeptMask,
		RollsRemaining: cur.RollsRemaining,
	})

	r.alarm.schedule(ctx, obligationTurn, protocol.AlarmAfkWarning, r.cfg.AfkWarning, map[string]any{"userId": cur.UserID})
}

func (r *Room) handleKeepDice(ctx context.Context, client *Client, raw json.RawMessage) {
	payload, ok := protocol.Decode[protocol.KeepDicePayload](raw)
	if !ok || payload.Validate() != nil {
		client.sendError(protocol.NewError(protocol.ErrInvalidMessage, "invalid KEEP_DICE payload"))
		return
	}
	if r.state.Phase != protocol.PhaseTurnDecide {
		client.sendError(protocol.NewError(protocol.ErrNotYourTurn, "not in decide phase"))
		return
	}
	cur := r.currentPlayer()
	if cur == nil || cur.UserID != client.UserID {
		client.sendError(protocol.NewError(protocol.ErrNotYourTurn, "not your turn"))
		return
	}

	mask := 0
	for _, idx := range payload.Indices {
		mask |= 1 << idx
	}
	cur.KeptMask = mask

	if err := r.persist(ctx); err != nil {
		client.sendError(protocol.NewError(protocol.ErrInternal, "failed to keep dice"))
		return
	}

	r.broadcast(ctx, protocol.EventDiceKept, protocol.DiceKeptEvent{UserID: cur.UserID, KeptMask: mask})
}

func (r *Room) handleScoreCategory(ctx context.Context, client *Client, raw json.RawMessage) {
	payload, ok := protocol.Decode[protocol.ScoreCategoryPayload](raw)
	if !ok || payload.Validate() != nil {
		client.sendError(protocol.NewError(protocol.ErrInvalidCategory, "invalid category"))
		return
	}
	if r.state.Phase != protocol.PhaseTurnDecide && r.state.Phase != protocol.PhaseTurnRoll {
		client.sendError(protocol.NewError(protocol.ErrNotYourTurn, "not in a scoreable phase"))
		return
	}
	cur := r.currentPlayer()
	if cur == nil || cur.UserID != client.UserID {
		client.sendError(protocol.NewError(protocol.ErrNotYourTurn, "not your turn"))
		return
	}
	if !cur.HasRolled {
		client.sendError(protocol.NewError(protocol.ErrNotYourTurn, "must roll before scoring"))
		return
	}
	if existing := cur.Scorecard[payload.Category]; existing != nil && !r.engine.IsBonusCategory(payload.Category, cur.Scorecard) {
		client.sendError(protocol.NewError(protocol.ErrAlreadyScored, "category already scored"))
		return
	}

	score, err := r.engine.Score(payload.Category, cur.CurrentDice)
	if err != nil {
		client.sendError(protocol.NewError(protocol.ErrInvalidCategory, "invalid category"))
		return
	}
	if err := r.applyScore(ctx, cur, payload.Category, score, false); err != nil {
		client.sendError(protocol.NewError(protocol.ErrInternal, "failed to score category"))
		return
	}
}

func (r *Room) handleRematch(ctx context.Context, client *Client) {
	if client.UserID != r.state.HostUserID {
		client.sendError(protocol.NewError(protocol.ErrNotHost, "only the host may rematch"))
		return
	}
	if r.state.Phase != protocol.PhaseGameOver {
		client.sendError(protocol.NewError(protocol.ErrInvalidStatusTransition, "game is not over"))
		return
	}

	for _, p := range r.state.Players {
		p.Scorecard = protocol.NewScorecard()
		p.TotalScore = 0
		p.HasRolled = false
		p.CurrentDice = [protocol.DiceCount]int{}
		p.KeptMask = 0
		p.RollsRemaining = protocol.MaxRollsPerTurn
	}
	r.state.Phase = protocol.PhaseWaiting
	r.state.PlayerOrder = nil
	r.state.CurrentPlayerIndex = 0
	r.state.TurnNumber = 0
	r.state.RoundNumber = 0
	r.state.GameStartedAt = nil
	r.state.GameCompletedAt = nil
	r.state.Rankings = nil

	if err := r.persist(ctx); err != nil {
		client.sendError(protocol.NewError(protocol.ErrInternal, "failed to start rematch"))
		return
	}

	r.broadcast(ctx, protocol.EventRoomUpdated, protocol.RoomUpdatedEvent{Players: r.snapshot().Players})
	r.pushSummary(ctx)
}

// pushSummary mirrors the room's public projection to the lobby. The
// summary is snapshotted under the lock but delivered from the outbox,
// since UpsertRoomSummary takes the lobby's own mutex.
func (r *Room) pushSummary(ctx context.Context) {
	if r.lobby == nil {
		return
	}
	summary := r.summary()
	r.enqueueRPC(func() {
		_ = r.lobby.UpsertRoomSummary(ctx, summary)
	})
}

// maybeScheduleCleanup arms the room_cleanup alarm once no live session
// of any kind remains — spectator sockets count as connections, so a
// room whose last seated player left keeps serving its viewers.
func (r *Room) maybeScheduleCleanup(ctx context.Context) {
	aiPlayers := 0
	for _, p := range r.state.Players {
		if p.Type == protocol.PlayerTypeAI {
			aiPlayers++
		}
	}
	if len(r.sessions) == 0 && aiPlayers == 0 {
		r.alarm.schedule(ctx, obligationCleanup, protocol.AlarmRoomCleanup, r.cfg.RoomCleanupGrace, nil)
	}
}
