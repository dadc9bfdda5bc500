package gameroom

import (
	"context"
	"time"

	"github.com/dicearena/backend/internal/logging"
	"github.com/dicearena/backend/internal/protocol"
	"go.uber.org/zap"
)

// handleDisconnect implements the Roomer interface: a socket closed
// (client error, idle timeout, heartbeat failure) without an explicit
// LEAVE_ROOM. The player stays seated — only LEAVE_ROOM removes a player —
// but is marked disconnected, and the host-grace clock starts if they were
// the host.
func (r *Room) handleDisconnect(ctx context.Context, client *Client) {
	r.disconnectLocked(ctx, client)
	r.flushOutbox()
}

func (r *Room) disconnectLocked(ctx context.Context, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.player(client.UserID)
	if p == nil || p.CurrentConnectionID != client.ConnectionID {
		// Either never joined as a player (spectator) or a newer
		// connection already superseded this one; nothing to mark.
		r.removeSpectator(client)
		r.persistSessionIndex(ctx)
		r.pushSummary(ctx)
		r.maybeScheduleCleanup(ctx)
		return
	}

	delete(r.sessions, client.ConnectionID)

	p.IsConnected = false
	p.LastActiveAt = time.Now().UTC()
	if err := r.persist(ctx); err != nil {
		logging.Error(ctx, "failed to persist disconnect", zap.Error(err), zap.String("roomCode", r.code))
		return
	}
	r.persistSessionIndex(ctx)
	r.broadcast(ctx, protocol.EventRoomUpdated, protocol.RoomUpdatedEvent{Players: r.snapshot().Players})

	if p.IsHost {
		r.armHostGrace(ctx)
	}
	r.maybeScheduleCleanup(ctx)
}

// armHostGrace (re)arms the host-grace obligation. It runs alongside the
// turn obligation rather than replacing it: a host disconnecting
// mid-turn must not cancel the other player's AFK clock.
// fireHostGrace re-validates the host is still disconnected before
// acting, so a stale firing is harmless.
func (r *Room) armHostGrace(ctx context.Context) {
	r.alarm.schedule(ctx, obligationHostGrace, protocol.AlarmHostGrace, r.cfg.HostGrace, map[string]any{"hostUserId": r.state.HostUserID})
}
