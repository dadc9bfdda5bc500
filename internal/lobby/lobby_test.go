package lobby

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dicearena/backend/internal/protocol"
	"github.com/dicearena/backend/internal/rpc"
	"github.com/dicearena/backend/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func decodeEnvelope(t *testing.T, raw []byte) protocol.Envelope {
	t.Helper()
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func drainEnvelopes(t *testing.T, c *Client) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for {
		select {
		case raw := <-c.send:
			out = append(out, decodeEnvelope(t, raw))
		default:
			return out
		}
	}
}

func lastEnvelope(t *testing.T, c *Client) (protocol.Envelope, bool) {
	t.Helper()
	envs := drainEnvelopes(t, c)
	if len(envs) == 0 {
		return protocol.Envelope{}, false
	}
	return envs[len(envs)-1], true
}

// fakeRoom is a minimal rpc.LobbyToRoom double standing in for a real
// GameRoom, the same way the gameroom package's own tests stand in a
// fakeLobby for rpc.RoomToLobby.
type fakeRoom struct {
	delivered []protocol.JoinRequest
	cancelled []string
}

func (f *fakeRoom) DeliverJoinRequest(ctx context.Context, req protocol.JoinRequest) error {
	f.delivered = append(f.delivered, req)
	return nil
}

func (f *fakeRoom) CancelJoinRequest(ctx context.Context, roomCode string, requestID string) error {
	f.cancelled = append(f.cancelled, requestID)
	return nil
}

// fakeDirectory resolves a fixed set of room codes to fakeRoom doubles,
// standing in for the Hub that normally implements rpc.Directory.
type fakeDirectory struct {
	rooms map[string]rpc.LobbyToRoom
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{rooms: make(map[string]rpc.LobbyToRoom)}
}

func (d *fakeDirectory) Register(code string, room rpc.LobbyToRoom) { d.rooms[code] = room }
func (d *fakeDirectory) Unregister(code string)                     { delete(d.rooms, code) }
func (d *fakeDirectory) Resolve(code string) (rpc.LobbyToRoom, bool) {
	r, ok := d.rooms[code]
	return r, ok
}

func newTestLobby(t *testing.T) (*Lobby, *fakeDirectory, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	store, err := storage.NewService(mr.Addr(), "")
	require.NoError(t, err)

	dir := newFakeDirectory()
	l := New(store, dir)
	cleanup := func() {
		_ = store.Close()
		mr.Close()
	}
	return l, dir, cleanup
}

var connCounter int

func testClient(lobby Lobbyer, userID, displayName string) *Client {
	connCounter++
	return &Client{
		send:         make(chan []byte, 64),
		lobby:        lobby,
		ConnectionID: fmt.Sprintf("%s-conn-%d", userID, connCounter),
		UserID:       userID,
		DisplayName:  displayName,
		AvatarSeed:   "seed-" + userID,
		ConnectedAt:  time.Now().UTC(),
		pacing:       newPacing(),
	}
}

func connect(ctx context.Context, l *Lobby, userID, displayName string) *Client {
	c := testClient(l, userID, displayName)
	l.HandleConnect(ctx, c)
	return c
}

func TestHandleConnect_RepliesWithDirectoryAndChatHistory(t *testing.T) {
	l, _, cleanup := newTestLobby(t)
	defer cleanup()
	ctx := context.Background()

	c := connect(ctx, l, "u1", "Alice")

	envs := drainEnvelopes(t, c)
	require.Len(t, envs, 3)
	assert.Equal(t, protocol.EventLobbyRoomsList, envs[0].Type)
	assert.Equal(t, protocol.EventLobbyChatHistory, envs[1].Type)
	assert.Equal(t, protocol.EventPresenceJoin, envs[2].Type)
}

func TestPresence_OnlineCountByUniqueUser(t *testing.T) {
	l, _, cleanup := newTestLobby(t)
	defer cleanup()
	ctx := context.Background()

	firstTab := connect(ctx, l, "u1", "Alice")
	assert.Equal(t, 1, len(l.byUser))

	// A second tab for the same user must not double-count presence.
	secondTab := connect(ctx, l, "u1", "Alice")
	assert.Equal(t, 1, len(l.byUser))
	assert.Len(t, l.byUser["u1"], 2)

	connect(ctx, l, "u2", "Bob")
	assert.Equal(t, 2, len(l.byUser))

	l.handleDisconnect(ctx, secondTab)
	assert.Equal(t, 2, len(l.byUser), "first tab for u1 still connected")

	l.handleDisconnect(ctx, firstTab)
	assert.Equal(t, 1, len(l.byUser))
	_, stillPresent := l.byUser["u1"]
	assert.False(t, stillPresent)
}

// TestPresence_LastSocketDisconnectEmitsPresenceLeave guards against a
// disconnect being indistinguishable from a join on the wire: only the
// socket that actually drops a user's last connection should see
// PRESENCE_LEAVE; an extra tab closing while another tab remains open is
// still a PRESENCE_JOIN-shaped update (the user is still online).
func TestPresence_LastSocketDisconnectEmitsPresenceLeave(t *testing.T) {
	l, _, cleanup := newTestLobby(t)
	defer cleanup()
	ctx := context.Background()

	firstTab := connect(ctx, l, "u1", "Alice")
	secondTab := connect(ctx, l, "u1", "Alice")
	observer := connect(ctx, l, "u2", "Bob")
	drainEnvelopes(t, observer)

	l.handleDisconnect(ctx, secondTab)
	env, ok := lastEnvelope(t, observer)
	require.True(t, ok)
	assert.Equal(t, protocol.EventPresenceJoin, env.Type, "u1 still has a socket open")

	l.handleDisconnect(ctx, firstTab)
	env, ok = lastEnvelope(t, observer)
	require.True(t, ok)
	assert.Equal(t, protocol.EventPresenceLeave, env.Type, "u1's last socket dropped")
}

func TestUpsertRoomSummary_BroadcastsCreatedThenUpdated(t *testing.T) {
	l, _, cleanup := newTestLobby(t)
	defer cleanup()
	ctx := context.Background()

	c := connect(ctx, l, "u1", "Alice")
	drainEnvelopes(t, c)

	summary := protocol.RoomSummary{Code: "ABCDEF", IsPublic: true, PlayerCount: 1, MaxPlayers: 6}
	require.NoError(t, l.UpsertRoomSummary(ctx, summary))

	env, ok := lastEnvelope(t, c)
	require.True(t, ok)
	assert.Equal(t, protocol.EventLobbyRoomUpdate, env.Type)
	update, ok := protocol.Decode[protocol.LobbyRoomUpdateEvent](env.Payload)
	require.True(t, ok)
	assert.Equal(t, protocol.LobbyRoomCreated, update.Action)

	summary.PlayerCount = 2
	require.NoError(t, l.UpsertRoomSummary(ctx, summary))
	env, ok = lastEnvelope(t, c)
	require.True(t, ok)
	update, ok = protocol.Decode[protocol.LobbyRoomUpdateEvent](env.Payload)
	require.True(t, ok)
	assert.Equal(t, protocol.LobbyRoomUpdated, update.Action)
	assert.Equal(t, 2, update.Summary.PlayerCount)
}

func TestUpsertRoomSummary_PrivateRoomNotBroadcastButListed(t *testing.T) {
	l, _, cleanup := newTestLobby(t)
	defer cleanup()
	ctx := context.Background()

	c := connect(ctx, l, "u1", "Alice")
	drainEnvelopes(t, c)

	summary := protocol.RoomSummary{Code: "PRIVAT", IsPublic: false}
	require.NoError(t, l.UpsertRoomSummary(ctx, summary))

	_, ok := lastEnvelope(t, c)
	assert.False(t, ok, "private room upserts must not broadcast")
	assert.Empty(t, l.roomList(), "private rooms are excluded from the public directory list")
	_, tracked := l.rooms["PRIVAT"]
	assert.True(t, tracked, "but still tracked internally")
}

func TestRemoveRoomSummary_BroadcastsClosed(t *testing.T) {
	l, _, cleanup := newTestLobby(t)
	defer cleanup()
	ctx := context.Background()

	c := connect(ctx, l, "u1", "Alice")
	require.NoError(t, l.UpsertRoomSummary(ctx, protocol.RoomSummary{Code: "ABCDEF", IsPublic: true}))
	drainEnvelopes(t, c)

	require.NoError(t, l.RemoveRoomSummary(ctx, "ABCDEF"))

	env, ok := lastEnvelope(t, c)
	require.True(t, ok)
	assert.Equal(t, protocol.EventLobbyRoomUpdate, env.Type)
	update, ok := protocol.Decode[protocol.LobbyRoomUpdateEvent](env.Payload)
	require.True(t, ok)
	assert.Equal(t, protocol.LobbyRoomClosed, update.Action)

	_, stillTracked := l.rooms["ABCDEF"]
	assert.False(t, stillTracked)
}

func TestRequestJoin_OnlyOnePendingPerUser(t *testing.T) {
	l, dir, cleanup := newTestLobby(t)
	defer cleanup()
	ctx := context.Background()

	room := &fakeRoom{}
	dir.Register("ABCDEF", room)

	c := connect(ctx, l, "u1", "Alice")
	drainEnvelopes(t, c)

	payload := protocol.Envelope{Type: protocol.EventRequestJoin, Payload: mustMarshal(t, protocol.RequestJoinPayload{RoomCode: "ABCDEF"})}
	l.route(ctx, c, payload)

	env, ok := lastEnvelope(t, c)
	require.True(t, ok)
	assert.Equal(t, protocol.EventJoinRequestSent, env.Type)
	require.Len(t, room.delivered, 1)
	assert.Equal(t, "u1", room.delivered[0].RequesterID)

	// A second REQUEST_JOIN while the first is outstanding is rejected.
	l.route(ctx, c, payload)
	env, ok = lastEnvelope(t, c)
	require.True(t, ok)
	assert.Equal(t, protocol.EventError, env.Type)
	errPayload, ok := protocol.Decode[protocol.Error](env.Payload)
	require.True(t, ok)
	assert.Equal(t, protocol.ErrDuplicateRequest, errPayload.Code)
	assert.Len(t, room.delivered, 1, "no second delivery")
}

func TestRequestJoin_UnknownRoomIsNotFound(t *testing.T) {
	l, _, cleanup := newTestLobby(t)
	defer cleanup()
	ctx := context.Background()

	c := connect(ctx, l, "u1", "Alice")
	drainEnvelopes(t, c)

	payload := protocol.Envelope{Type: protocol.EventRequestJoin, Payload: mustMarshal(t, protocol.RequestJoinPayload{RoomCode: "ZZZZZZ"})}
	l.route(ctx, c, payload)

	env, ok := lastEnvelope(t, c)
	require.True(t, ok)
	assert.Equal(t, protocol.EventError, env.Type)
	errPayload, ok := protocol.Decode[protocol.Error](env.Payload)
	require.True(t, ok)
	assert.Equal(t, protocol.ErrNotFound, errPayload.Code)
}

func TestCancelJoinRequest_ClearsPendingAndNotifiesRoom(t *testing.T) {
	l, dir, cleanup := newTestLobby(t)
	defer cleanup()
	ctx := context.Background()

	room := &fakeRoom{}
	dir.Register("ABCDEF", room)

	c := connect(ctx, l, "u1", "Alice")
	drainEnvelopes(t, c)

	l.route(ctx, c, protocol.Envelope{Type: protocol.EventRequestJoin, Payload: mustMarshal(t, protocol.RequestJoinPayload{RoomCode: "ABCDEF"})})
	sentEnv, ok := lastEnvelope(t, c)
	require.True(t, ok)
	sent, ok := protocol.Decode[protocol.JoinRequestSentEvent](sentEnv.Payload)
	require.True(t, ok)

	l.route(ctx, c, protocol.Envelope{Type: protocol.EventCancelJoinRequest, Payload: mustMarshal(t, protocol.CancelJoinRequestPayload{RequestID: sent.RequestID})})

	env, ok := lastEnvelope(t, c)
	require.True(t, ok)
	assert.Equal(t, protocol.EventJoinRequestCancelled, env.Type)
	assert.Len(t, room.cancelled, 1)
	_, stillPending := l.pendingByUser["u1"]
	assert.False(t, stillPending)
}

func TestDeliverJoinApproval_ClearsPendingAndNotifiesRequester(t *testing.T) {
	l, dir, cleanup := newTestLobby(t)
	defer cleanup()
	ctx := context.Background()

	room := &fakeRoom{}
	dir.Register("ABCDEF", room)

	c := connect(ctx, l, "u1", "Alice")
	drainEnvelopes(t, c)
	l.route(ctx, c, protocol.Envelope{Type: protocol.EventRequestJoin, Payload: mustMarshal(t, protocol.RequestJoinPayload{RoomCode: "ABCDEF"})})
	drainEnvelopes(t, c)

	require.NoError(t, l.DeliverJoinApproval(ctx, "u1", "ABCDEF"))

	env, ok := lastEnvelope(t, c)
	require.True(t, ok)
	assert.Equal(t, protocol.EventJoinApproved, env.Type)
	_, stillPending := l.pendingByUser["u1"]
	assert.False(t, stillPending)
}

func TestDeliverInvite_DeliversToEveryTargetSocket(t *testing.T) {
	l, _, cleanup := newTestLobby(t)
	defer cleanup()
	ctx := context.Background()

	tab1 := connect(ctx, l, "u2", "Bob")
	tab2 := connect(ctx, l, "u2", "Bob")
	drainEnvelopes(t, tab1)
	drainEnvelopes(t, tab2)

	require.NoError(t, l.DeliverInvite(ctx, "u2", "ABCDEF", "Alice"))

	for _, tab := range []*Client{tab1, tab2} {
		env, ok := lastEnvelope(t, tab)
		require.True(t, ok)
		assert.Equal(t, protocol.EventInviteReceived, env.Type)
		invite, ok := protocol.Decode[protocol.InviteReceivedEvent](env.Payload)
		require.True(t, ok)
		assert.Equal(t, "ABCDEF", invite.RoomCode)
		assert.Equal(t, "Alice", invite.FromUser)
	}
}

func TestDeliverInvite_OfflineTargetIsSilentlyDropped(t *testing.T) {
	l, _, cleanup := newTestLobby(t)
	defer cleanup()

	assert.NoError(t, l.DeliverInvite(context.Background(), "nobody", "ABCDEF", "Alice"))
}

func TestChat_RateLimitedOnSecondMessageWithinWindow(t *testing.T) {
	l, _, cleanup := newTestLobby(t)
	defer cleanup()
	ctx := context.Background()

	c := connect(ctx, l, "u1", "Alice")
	drainEnvelopes(t, c)

	msg := protocol.Envelope{Type: protocol.EventChat, Payload: mustMarshal(t, protocol.ChatPayload{Content: "hello"})}
	l.route(ctx, c, msg)
	env, ok := lastEnvelope(t, c)
	require.True(t, ok)
	assert.Equal(t, protocol.EventLobbyChatMessage, env.Type)

	l.route(ctx, c, msg)
	env, ok = lastEnvelope(t, c)
	require.True(t, ok)
	assert.Equal(t, protocol.EventError, env.Type)
	errPayload, ok := protocol.Decode[protocol.Error](env.Payload)
	require.True(t, ok)
	assert.Equal(t, protocol.ErrRateLimited, errPayload.Code)
	require.NotNil(t, errPayload.RemainingMs)
	assert.Greater(t, *errPayload.RemainingMs, int64(0))
}

func TestShout_RateLimitedOnSecondShoutWithinCooldown(t *testing.T) {
	l, _, cleanup := newTestLobby(t)
	defer cleanup()
	ctx := context.Background()

	c := connect(ctx, l, "u1", "Alice")
	drainEnvelopes(t, c)

	msg := protocol.Envelope{Type: protocol.EventShout, Payload: mustMarshal(t, protocol.ShoutPayload{Content: "big roll!"})}
	l.route(ctx, c, msg)
	env, ok := lastEnvelope(t, c)
	require.True(t, ok)
	assert.Equal(t, protocol.EventShoutBroadcast, env.Type)

	l.route(ctx, c, msg)
	env, ok = lastEnvelope(t, c)
	require.True(t, ok)
	assert.Equal(t, protocol.EventError, env.Type)
	errPayload, ok := protocol.Decode[protocol.Error](env.Payload)
	require.True(t, ok)
	assert.Equal(t, protocol.ErrRateLimited, errPayload.Code)
	require.NotNil(t, errPayload.RemainingMs)
	assert.Greater(t, *errPayload.RemainingMs, int64(0))
}

func TestPublishHighlight_ThrottledPerRoom(t *testing.T) {
	l, _, cleanup := newTestLobby(t)
	defer cleanup()
	ctx := context.Background()

	c := connect(ctx, l, "u1", "Alice")
	drainEnvelopes(t, c)

	require.NoError(t, l.PublishHighlight(ctx, "ABCDEF", "a big roll happened"))
	_, ok := lastEnvelope(t, c)
	require.True(t, ok)

	require.NoError(t, l.PublishHighlight(ctx, "ABCDEF", "another one"))
	_, ok = lastEnvelope(t, c)
	assert.False(t, ok, "second highlight within the throttle window should not broadcast")
}
