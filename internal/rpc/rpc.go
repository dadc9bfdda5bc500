// Package rpc defines the typed call surface GameRoom and GlobalLobby use
// to talk to each other. Both actors live in the same process in this
// deployment shape, so these are plain Go interfaces rather than network
// calls — the same way the teacher's storage.Service Publish/Subscribe
// pair is satisfied in-process when Redis is disabled. Keeping the
// interface typed (rather than passing raw envelopes) is what lets each
// actor evolve its internals without the other caring.
package rpc

import (
	"context"

	"github.com/dicearena/backend/internal/protocol"
)

// RoomToLobby is the call surface a GameRoom uses to reach GlobalLobby.
type RoomToLobby interface {
	// UpsertRoomSummary mirrors a room's public projection into the
	// lobby directory. A summary whose UpdatedAt is older than the one
	// already held is dropped; any other replaces it and is re-broadcast.
	UpsertRoomSummary(ctx context.Context, summary protocol.RoomSummary) error

	// RemoveRoomSummary drops a room from the directory (explicit close
	// or cleanup alarm firing).
	RemoveRoomSummary(ctx context.Context, code string) error

	// DeliverJoinApproval tells the lobby to push JOIN_APPROVED to the
	// requester's lobby socket once a host approves a join request.
	DeliverJoinApproval(ctx context.Context, requesterID string, roomCode string) error

	// DeliverJoinDecline tells the lobby to push JOIN_REQUEST_DECLINED to
	// the requester's lobby socket.
	DeliverJoinDecline(ctx context.Context, requesterID string, roomCode string) error

	// PublishHighlight asks the lobby to fan out a cross-room highlight,
	// subject to the lobby's own ≤1/500ms/room throttle.
	PublishHighlight(ctx context.Context, roomCode string, message string) error

	// DeliverInvite pushes INVITE_RECEIVED to the target user's lobby
	// sockets on behalf of a room player inviting them in.
	DeliverInvite(ctx context.Context, targetUserID string, roomCode string, fromDisplayName string) error
}

// LobbyToRoom is the call surface GlobalLobby uses to reach a specific
// GameRoom, resolved by room code.
type LobbyToRoom interface {
	// DeliverJoinRequest forwards a REQUEST_JOIN from the lobby into the
	// target room's inbox. The room persists it as pending and notifies
	// its host.
	DeliverJoinRequest(ctx context.Context, req protocol.JoinRequest) error

	// CancelJoinRequest forwards a CANCEL_JOIN_REQUEST so the room can
	// drop a pending request the requester withdrew.
	CancelJoinRequest(ctx context.Context, roomCode string, requestID string) error
}

// Directory resolves a room code to its LobbyToRoom endpoint; Register and
// Unregister add or drop a room under a code. It is the
// single place that knows about every live room, mirroring the teacher's
// Hub.rooms registry.
type Directory interface {
	Register(code string, room LobbyToRoom)
	Unregister(code string)
	Resolve(code string) (LobbyToRoom, bool)
}
