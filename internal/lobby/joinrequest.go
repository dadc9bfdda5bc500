package lobby

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dicearena/backend/internal/identifiers"
	"github.com/dicearena/backend/internal/protocol"
)

// handleRequestJoin implements REQUEST_JOIN: enforces one pending request
// per requester (the spec's S3 scenario invariant), then forwards a typed
// DeliverJoinRequest call to the target room. The pending slot is
// reserved under the lock so a duplicate arriving mid-relay is rejected,
// but the room call itself runs from the outbox — DeliverJoinRequest
// takes the room's mutex, which must never nest inside ours.
func (l *Lobby) handleRequestJoin(ctx context.Context, client *Client, raw json.RawMessage) {
	payload, ok := protocol.Decode[protocol.RequestJoinPayload](raw)
	if !ok || payload.Validate() != nil {
		client.sendError(protocol.NewError(protocol.ErrBadRoomCode, "invalid room code"))
		return
	}
	code, _ := protocol.NormalizeRoomCode(payload.RoomCode)

	if _, ok := l.pendingByUser[client.UserID]; ok {
		client.sendError(protocol.NewError(protocol.ErrDuplicateRequest, "a join request is already pending"))
		return
	}

	reqID := identifiers.NewJoinRequestID()
	now := time.Now().UTC()
	req := protocol.JoinRequest{
		ID:                   reqID,
		RoomCode:             code,
		RequesterID:          client.UserID,
		RequesterDisplayName: client.DisplayName,
		RequesterAvatarSeed:  client.AvatarSeed,
		CreatedAt:            now,
		ExpiresAt:            now.Add(joinRequestTTL),
		Status:               protocol.JoinRequestPending,
	}
	pending := &pendingRequest{id: reqID, roomCode: code, expiresAt: req.ExpiresAt}
	l.pendingByUser[client.UserID] = pending

	userID := client.UserID
	l.enqueueRPC(func() {
		room, ok := l.directory.Resolve(code)
		if !ok {
			l.dropPending(userID, reqID)
			client.sendError(protocol.NewError(protocol.ErrNotFound, "room not found"))
			return
		}
		if err := room.DeliverJoinRequest(ctx, req); err != nil {
			l.dropPending(userID, reqID)
			client.sendError(protocol.NewError(protocol.ErrInternal, "failed to deliver join request"))
			return
		}
		l.armPendingTimer(userID, reqID)
		client.emit(protocol.EventJoinRequestSent, protocol.JoinRequestSentEvent{RequestID: reqID})
	})
}

// dropPending releases a reserved pending slot after a failed relay.
func (l *Lobby) dropPending(userID, reqID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pending, ok := l.pendingByUser[userID]; ok && pending.id == reqID {
		delete(l.pendingByUser, userID)
	}
}

// armPendingTimer starts a delivered request's TTL clock, unless the
// request was already withdrawn or decided while the relay was in flight.
func (l *Lobby) armPendingTimer(userID, reqID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pending, ok := l.pendingByUser[userID]
	if !ok || pending.id != reqID {
		return
	}
	pending.timer = time.AfterFunc(joinRequestTTL, func() {
		l.expirePending(context.Background(), userID, reqID)
	})
}

// handleCancelJoinRequest implements CANCEL_JOIN_REQUEST: the requester
// withdraws their own outstanding request.
func (l *Lobby) handleCancelJoinRequest(ctx context.Context, client *Client, raw json.RawMessage) {
	payload, ok := protocol.Decode[protocol.CancelJoinRequestPayload](raw)
	if !ok || payload.Validate() != nil {
		client.sendError(protocol.NewError(protocol.ErrInvalidMessage, "invalid CANCEL_JOIN_REQUEST payload"))
		return
	}

	pending, ok := l.pendingByUser[client.UserID]
	if !ok || pending.id != payload.RequestID {
		client.sendError(protocol.NewError(protocol.ErrNotFound, "no matching pending request"))
		return
	}

	l.cancelPending(ctx, client.UserID, pending)

	client.emit(protocol.EventJoinRequestCancelled, protocol.JoinRequestCancelledEvent{RequestID: pending.id})
}

func (l *Lobby) expirePending(ctx context.Context, userID, requestID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pending, ok := l.pendingByUser[userID]
	if !ok || pending.id != requestID {
		return
	}
	delete(l.pendingByUser, userID)
	l.sendToUser(userID, protocol.EventJoinRequestDeclined, protocol.JoinRequestDeclinedEvent{
		RoomCode: pending.roomCode,
		Reason:   "expired",
	})
}
