package gameroom

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dicearena/backend/internal/logging"
	"github.com/dicearena/backend/internal/protocol"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

// DeliverJoinRequest implements rpc.LobbyToRoom: the lobby forwards a
// REQUEST_JOIN here after enforcing its own one-pending-request-per-user
// rule. The room records the request as pending, notifies the host only,
// and arms its TTL as its own obligation slot in the shared alarm
// scheduler — a room may hold many concurrently pending requests from
// different requesters, so each gets its own id, but all of them still
// share the one wall-clock timer with the turn and cleanup obligations.
func (r *Room) DeliverJoinRequest(ctx context.Context, req protocol.JoinRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req.Status = protocol.JoinRequestPending
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.ExpiresAt.IsZero() {
		req.ExpiresAt = req.CreatedAt.Add(protocol.JoinRequestTTL)
	}
	r.joinRequests[req.ID] = &req

	// Every open host tab should see the request, not just whichever
	// connection happens to be found first.
	r.broadcastToRoles(ctx, protocol.EventJoinRequestReceived, protocol.JoinRequestReceivedEvent{Request: req}, set.New(protocol.RoleHost))

	ttl := time.Until(req.ExpiresAt)
	if ttl < 0 {
		ttl = 0
	}
	r.alarm.schedule(ctx, obligationJoinRequest(req.ID), protocol.AlarmJoinRequestExpiry, ttl, map[string]any{"requestId": req.ID})

	return nil
}

// CancelJoinRequest implements rpc.LobbyToRoom for a requester-initiated
// withdrawal.
func (r *Room) CancelJoinRequest(ctx context.Context, roomCode string, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.joinRequests[requestID]
	if !ok || req.Status != protocol.JoinRequestPending {
		return nil
	}
	req.Status = protocol.JoinRequestCancelled
	r.alarm.cancel(ctx, obligationJoinRequest(requestID))
	delete(r.joinRequests, requestID)
	return nil
}

// expireJoinRequest is invoked by the alarm scheduler's fire(), which
// already holds r.mu, so it must not attempt to lock it again.
func (r *Room) expireJoinRequest(ctx context.Context, requestID string) {
	req, ok := r.joinRequests[requestID]
	if !ok || req.Status != protocol.JoinRequestPending {
		return
	}
	req.Status = protocol.JoinRequestExpired
	delete(r.joinRequests, requestID)

	if r.lobby != nil {
		requesterID := req.RequesterID
		r.enqueueRPC(func() {
			if err := r.lobby.DeliverJoinDecline(ctx, requesterID, r.code); err != nil {
				logging.Warn(ctx, "failed to deliver join request expiry", zap.Error(err))
			}
		})
	}
}

// handleSendInvite relays a seated player's SEND_INVITE to the lobby,
// which delivers INVITE_RECEIVED to the target user's lobby sockets.
// Spectators may not invite.
func (r *Room) handleSendInvite(ctx context.Context, client *Client, raw json.RawMessage) {
	payload, ok := protocol.Decode[protocol.SendInvitePayload](raw)
	if !ok || payload.Validate() != nil {
		client.sendError(protocol.NewError(protocol.ErrInvalidMessage, "invalid SEND_INVITE payload"))
		return
	}
	p := r.player(client.UserID)
	if p == nil {
		client.sendError(protocol.NewError(protocol.ErrNotRequester, "only seated players may send invites"))
		return
	}
	if r.lobby == nil {
		return
	}
	fromName := p.DisplayName
	r.enqueueRPC(func() {
		if err := r.lobby.DeliverInvite(ctx, payload.TargetUserID, r.code, fromName); err != nil {
			logging.Warn(ctx, "failed to deliver invite", zap.Error(err))
		}
	})
}

// handleJoinRequestResponse is the host's JOIN_REQUEST_RESPONSE command:
// approve adds the requester as a player and asks the lobby to deliver
// JOIN_APPROVED to their lobby socket; decline tells the lobby to deliver
// JOIN_REQUEST_DECLINED.
func (r *Room) handleJoinRequestResponse(ctx context.Context, client *Client, raw json.RawMessage) {
	payload, ok := protocol.Decode[protocol.JoinRequestResponsePayload](raw)
	if !ok || payload.Validate() != nil {
		client.sendError(protocol.NewError(protocol.ErrInvalidMessage, "invalid JOIN_REQUEST_RESPONSE payload"))
		return
	}
	if client.UserID != r.state.HostUserID {
		client.sendError(protocol.NewError(protocol.ErrNotHost, "only the host may act on join requests"))
		return
	}
	req, ok := r.joinRequests[payload.RequestID]
	if !ok {
		client.sendError(protocol.NewError(protocol.ErrNotFound, "join request not found"))
		return
	}
	if req.Status != protocol.JoinRequestPending {
		client.sendError(protocol.NewError(protocol.ErrExpired, "join request is no longer pending"))
		return
	}

	r.alarm.cancel(ctx, obligationJoinRequest(req.ID))
	delete(r.joinRequests, req.ID)

	if !payload.Approve {
		req.Status = protocol.JoinRequestDeclined
		r.enqueueDecline(ctx, req.RequesterID)
		return
	}

	if len(r.state.Players) >= r.cfg.MaxPlayers {
		req.Status = protocol.JoinRequestDeclined
		r.enqueueDecline(ctx, req.RequesterID)
		client.sendError(protocol.NewError(protocol.ErrRoomFull, "room is full"))
		return
	}

	req.Status = protocol.JoinRequestApproved
	p := newPlayerState(req.RequesterID, req.RequesterDisplayName, req.RequesterAvatarSeed)
	p.IsConnected = false // the requester hasn't opened a room socket yet
	r.state.Players[p.UserID] = p
	r.state.PlayerJoinOrder = append(r.state.PlayerJoinOrder, p.UserID)

	if err := r.persist(ctx); err != nil {
		client.sendError(protocol.NewError(protocol.ErrInternal, "failed to approve join request"))
		return
	}

	r.broadcast(ctx, protocol.EventRoomUpdated, protocol.RoomUpdatedEvent{Players: r.snapshot().Players})
	r.pushSummary(ctx)

	if r.lobby != nil {
		requesterID := req.RequesterID
		r.enqueueRPC(func() {
			if err := r.lobby.DeliverJoinApproval(ctx, requesterID, r.code); err != nil {
				logging.Warn(ctx, "failed to deliver join approval", zap.Error(err))
			}
		})
	}
}

func (r *Room) enqueueDecline(ctx context.Context, requesterID string) {
	if r.lobby == nil {
		return
	}
	r.enqueueRPC(func() {
		_ = r.lobby.DeliverJoinDecline(ctx, requesterID, r.code)
	})
}
