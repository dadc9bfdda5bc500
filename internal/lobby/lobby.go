// Package lobby implements the GlobalLobby actor: the single process-wide
// singleton that tracks presence across every connected socket not
// currently inside a room, maintains the public room directory, relays
// host-gated join requests, and fans out cross-room highlights. It mirrors
// the GameRoom actor's shape (one mutex-guarded struct, a route()
// dispatcher, storage-first persistence) but keyed by nothing — there is
// only ever one lobby.
package lobby

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dicearena/backend/internal/chatring"
	"github.com/dicearena/backend/internal/logging"
	"github.com/dicearena/backend/internal/metrics"
	"github.com/dicearena/backend/internal/protocol"
	"github.com/dicearena/backend/internal/rpc"
	"github.com/dicearena/backend/internal/storage"
	"go.uber.org/zap"
)

const (
	lobbyDirectoryKey   = "lobby:active_rooms"
	lobbyPresenceSetKey = "lobby:online_users"
	lobbyChatHistorySize = 20
	highlightThrottle    = 500 * time.Millisecond
	joinRequestTTL       = protocol.JoinRequestTTL
)

// pendingRequest is the lobby's own bookkeeping for a REQUEST_JOIN the
// requester has outstanding; only one may be pending per user at a time.
type pendingRequest struct {
	id        string
	roomCode  string
	expiresAt time.Time
	timer     *time.Timer
}

// Lobby is the GlobalLobby actor.
type Lobby struct {
	mu sync.Mutex

	storage   *storage.Service
	directory rpc.Directory

	sessions map[string]*Client // connectionId -> client
	byUser   map[string][]string // userId -> connectionIds, for presence/delivery fan-out

	rooms map[string]protocol.RoomSummary // code -> summary

	chat *chatring.Ring

	pendingByUser map[string]*pendingRequest // requesterId -> their one outstanding request

	lastHighlightAt map[string]time.Time // roomCode -> last highlight emission

	// outbox holds calls into GameRooms deferred until mu is released: a
	// room's mutex must never be acquired under mu, or a room pushing its
	// summary here while we forward a join request to it deadlocks both
	// actors (and a wedged lobby freezes every room). Entry points flush
	// after unlocking.
	outbox []func()
}

// New constructs an empty GlobalLobby. directory is the actor host's room
// registry, used to resolve a room code to its LobbyToRoom endpoint for
// join-request relay.
func New(store *storage.Service, directory rpc.Directory) *Lobby {
	return &Lobby{
		storage:         store,
		directory:       directory,
		sessions:        make(map[string]*Client),
		byUser:          make(map[string][]string),
		rooms:           make(map[string]protocol.RoomSummary),
		chat:            chatring.New(lobbyChatHistorySize),
		pendingByUser:   make(map[string]*pendingRequest),
		lastHighlightAt: make(map[string]time.Time),
	}
}

// enqueueRPC defers a call into a GameRoom until the current locked
// section ends. Callers must hold mu; the call runs lock-free from
// flushOutbox.
func (l *Lobby) enqueueRPC(fn func()) {
	l.outbox = append(l.outbox, fn)
}

func (l *Lobby) flushOutbox() {
	for {
		l.mu.Lock()
		calls := l.outbox
		l.outbox = nil
		l.mu.Unlock()
		if len(calls) == 0 {
			return
		}
		for _, fn := range calls {
			fn()
		}
	}
}

// route is the central dispatcher for validated lobby-socket commands:
// dispatch runs under the actor lock, then any room calls the handler
// queued run lock-free.
func (l *Lobby) route(ctx context.Context, client *Client, env protocol.Envelope) {
	l.dispatch(ctx, client, env)
	l.flushOutbox()
}

func (l *Lobby) dispatch(ctx context.Context, client *Client, env protocol.Envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(string(env.Type)).Observe(time.Since(start).Seconds())
	}()

	defer func() {
		if rec := recover(); rec != nil {
			logging.Error(ctx, "panic in lobby router", zap.Any("panic", rec))
			client.sendError(protocol.NewError(protocol.ErrInternal, "internal error"))
		}
	}()

	switch env.Type {
	case protocol.EventRequestJoin:
		l.handleRequestJoin(ctx, client, env.Payload)
	case protocol.EventCancelJoinRequest:
		l.handleCancelJoinRequest(ctx, client, env.Payload)
	case protocol.EventChat:
		l.handleChat(ctx, client, env.Payload)
	case protocol.EventShout:
		l.handleShout(ctx, client, env.Payload)
	case protocol.EventTypingStart, protocol.EventTypingStop:
		l.handleTyping(ctx, client, env.Type)
	default:
		client.sendError(protocol.NewError(protocol.ErrInvalidMessage, fmt.Sprintf("unhandled event %q", env.Type)))
	}
}

// HandleConnect registers a new lobby session, replays directory and chat
// history, and broadcasts the updated presence count. The router calls
// this immediately after a successful upgrade, before spinning up the
// client's read/write pumps.
func (l *Lobby) HandleConnect(ctx context.Context, client *Client) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sessions[client.ConnectionID] = client
	l.byUser[client.UserID] = append(l.byUser[client.UserID], client.ConnectionID)

	if l.storage != nil {
		_ = l.storage.SetAdd(ctx, lobbyPresenceSetKey, client.UserID)
	}

	client.emit(protocol.EventLobbyRoomsList, protocol.LobbyRoomsListEvent{Rooms: l.roomList()})
	client.emit(protocol.EventLobbyChatHistory, protocol.ChatHistoryEvent{Messages: l.chat.Entries()})

	l.broadcastPresence(ctx, protocol.EventPresenceJoin, client.UserID)
}

// handleDisconnect implements the Lobbyer interface.
func (l *Lobby) handleDisconnect(ctx context.Context, client *Client) {
	l.disconnectLocked(ctx, client)
	l.flushOutbox()
}

func (l *Lobby) disconnectLocked(ctx context.Context, client *Client) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.sessions, client.ConnectionID)
	conns := l.byUser[client.UserID]
	for i, cid := range conns {
		if cid == client.ConnectionID {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	lastSocket := len(conns) == 0
	if lastSocket {
		delete(l.byUser, client.UserID)
		if l.storage != nil {
			_ = l.storage.SetRem(ctx, lobbyPresenceSetKey, client.UserID)
		}
		if pending, ok := l.pendingByUser[client.UserID]; ok {
			l.cancelPending(ctx, client.UserID, pending)
		}
	} else {
		l.byUser[client.UserID] = conns
	}

	if lastSocket {
		l.broadcastPresence(ctx, protocol.EventPresenceLeave, client.UserID)
	} else {
		l.broadcastPresence(ctx, protocol.EventPresenceJoin, client.UserID)
	}
}

// OnlineCount returns the number of distinct users currently connected,
// for the unauthenticated /lobby/online HTTP endpoint.
func (l *Lobby) OnlineCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byUser)
}

func (l *Lobby) roomList() []protocol.RoomSummary {
	out := make([]protocol.RoomSummary, 0, len(l.rooms))
	for _, s := range l.rooms {
		if s.IsPublic {
			out = append(out, s)
		}
	}
	return out
}

// broadcastPresence announces the current online count under the given
// event: PRESENCE_JOIN on connect or a new unique user, PRESENCE_LEAVE
// when a user's last socket drops.
func (l *Lobby) broadcastPresence(ctx context.Context, event protocol.Event, userID string) {
	payload := protocol.PresenceEvent{UserID: userID, OnlineCount: len(l.byUser)}
	l.broadcast(ctx, event, payload)
	metrics.LobbyOnlineCount.Set(float64(len(l.byUser)))
}

func (l *Lobby) broadcast(ctx context.Context, event protocol.Event, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		logging.Error(ctx, "failed to build lobby broadcast envelope", zap.Error(err))
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		logging.Error(ctx, "failed to marshal lobby broadcast envelope", zap.Error(err))
		return
	}
	for _, c := range l.sessions {
		c.enqueue(raw)
	}
	if l.storage != nil {
		_ = l.storage.Publish(ctx, "lobby", string(event), payload, "")
	}
}

func (l *Lobby) sendToUser(userID string, event protocol.Event, payload any) {
	for _, cid := range l.byUser[userID] {
		if c, ok := l.sessions[cid]; ok {
			c.emit(event, payload)
		}
	}
}

func (l *Lobby) persistDirectory(ctx context.Context) {
	if l.storage == nil {
		return
	}
	pairs := make([][2]any, 0, len(l.rooms))
	for code, summary := range l.rooms {
		pairs = append(pairs, [2]any{code, summary})
	}
	if err := l.storage.Set(ctx, lobbyDirectoryKey, pairs); err != nil {
		logging.Error(ctx, "failed to persist lobby room directory", zap.Error(err))
	}
}

// --- rpc.RoomToLobby ---

// UpsertRoomSummary implements rpc.RoomToLobby. Summaries from one room
// can arrive on different goroutines (each command flushes its own
// outbox), so a stale snapshot racing a newer one is dropped here to
// keep the directory's updatedAt monotone per room.
func (l *Lobby) UpsertRoomSummary(ctx context.Context, summary protocol.RoomSummary) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, existed := l.rooms[summary.Code]
	if existed && existing.UpdatedAt.After(summary.UpdatedAt) {
		return nil
	}
	l.rooms[summary.Code] = summary
	l.persistDirectory(ctx)

	action := protocol.LobbyRoomUpdated
	if !existed {
		action = protocol.LobbyRoomCreated
	}
	if summary.IsPublic {
		l.broadcast(ctx, protocol.EventLobbyRoomUpdate, protocol.LobbyRoomUpdateEvent{Action: action, Summary: summary})
	}
	return nil
}

// RemoveRoomSummary implements rpc.RoomToLobby.
func (l *Lobby) RemoveRoomSummary(ctx context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	summary, ok := l.rooms[code]
	if !ok {
		return nil
	}
	delete(l.rooms, code)
	l.persistDirectory(ctx)
	l.broadcast(ctx, protocol.EventLobbyRoomUpdate, protocol.LobbyRoomUpdateEvent{Action: protocol.LobbyRoomClosed, Summary: summary})
	return nil
}

// DeliverJoinApproval implements rpc.RoomToLobby.
func (l *Lobby) DeliverJoinApproval(ctx context.Context, requesterID string, roomCode string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pending, ok := l.pendingByUser[requesterID]; ok && pending.roomCode == roomCode {
		l.stopPendingTimer(pending)
		delete(l.pendingByUser, requesterID)
	}
	l.sendToUser(requesterID, protocol.EventJoinApproved, protocol.JoinApprovedEvent{RoomCode: roomCode})
	return nil
}

// DeliverJoinDecline implements rpc.RoomToLobby.
func (l *Lobby) DeliverJoinDecline(ctx context.Context, requesterID string, roomCode string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pending, ok := l.pendingByUser[requesterID]; ok && pending.roomCode == roomCode {
		l.stopPendingTimer(pending)
		delete(l.pendingByUser, requesterID)
	}
	l.sendToUser(requesterID, protocol.EventJoinRequestDeclined, protocol.JoinRequestDeclinedEvent{RoomCode: roomCode})
	return nil
}

// PublishHighlight implements rpc.RoomToLobby, throttled to at most one
// emission per room per highlightThrottle window — a plain watermark
// check rather than a token bucket, since highlights are low-volume and
// the only thing that matters is "did we already say something about
// this room very recently."
func (l *Lobby) PublishHighlight(ctx context.Context, roomCode string, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if last, ok := l.lastHighlightAt[roomCode]; ok && now.Sub(last) < highlightThrottle {
		return nil
	}
	l.lastHighlightAt[roomCode] = now
	l.broadcast(ctx, protocol.EventLobbyHighlight, protocol.LobbyHighlightEvent{RoomCode: roomCode, Message: message})
	return nil
}

// DeliverInvite implements rpc.RoomToLobby. An invite to a user with no
// lobby socket open is dropped silently; the inviter has no standing to
// learn whether the target is online.
func (l *Lobby) DeliverInvite(ctx context.Context, targetUserID string, roomCode string, fromDisplayName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sendToUser(targetUserID, protocol.EventInviteReceived, protocol.InviteReceivedEvent{
		RoomCode: roomCode,
		FromUser: fromDisplayName,
	})
	return nil
}

func (l *Lobby) stopPendingTimer(p *pendingRequest) {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// cancelPending drops a user's outstanding request and queues the
// withdrawal notice for their room. Callers hold mu.
func (l *Lobby) cancelPending(ctx context.Context, requesterID string, p *pendingRequest) {
	l.stopPendingTimer(p)
	delete(l.pendingByUser, requesterID)
	l.enqueueRPC(func() {
		if room, ok := l.directory.Resolve(p.roomCode); ok {
			_ = room.CancelJoinRequest(ctx, p.roomCode, p.id)
		}
	})
}
