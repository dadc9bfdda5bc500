package gameroom

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dicearena/backend/internal/chatring"
	"github.com/dicearena/backend/internal/identifiers"
	"github.com/dicearena/backend/internal/logging"
	"github.com/dicearena/backend/internal/metrics"
	"github.com/dicearena/backend/internal/protocol"
	"github.com/dicearena/backend/internal/rpc"
	"github.com/dicearena/backend/internal/scoring"
	"github.com/dicearena/backend/internal/storage"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

// Config bundles the tunable timers and limits a Room needs; it mirrors
// the configuration section of the spec (AFK windows, cleanup grace,
// starting countdown, max players) so tests can shrink them.
type Config struct {
	AfkWarning         time.Duration
	AfkTimeout         time.Duration
	StartingCountdown  time.Duration
	RoomCleanupGrace   time.Duration
	MaxPlayers         int
	MinPlayers         int
	HostGrace          time.Duration
	SpectatorsAllowed  bool
	MaxSpectators      int
}

// DefaultConfig returns the spec's stated default values.
func DefaultConfig() Config {
	return Config{
		AfkWarning:        20 * time.Second,
		AfkTimeout:        30 * time.Second,
		StartingCountdown: 3 * time.Second,
		RoomCleanupGrace:  5 * time.Minute,
		MaxPlayers:        6,
		MinPlayers:        2,
		HostGrace:         30 * time.Second,
		SpectatorsAllowed: true,
		MaxSpectators:     20,
	}
}

// playerState is the server-internal record for one seat at the table.
type playerState struct {
	UserID               string
	DisplayName          string
	AvatarSeed           string
	Type                 protocol.PlayerType
	IsHost               bool
	IsConnected          bool
	CurrentConnectionID  string
	JoinedAt             time.Time
	LastActiveAt         time.Time
	Scorecard            map[protocol.ScoreCategory]*int
	TotalScore           int
	CurrentDice          [protocol.DiceCount]int
	HasRolled            bool
	KeptMask             int
	RollsRemaining       int
}

func newPlayerState(userID, displayName, avatarSeed string) *playerState {
	return &playerState{
		UserID:         userID,
		DisplayName:    displayName,
		AvatarSeed:     avatarSeed,
		Type:           protocol.PlayerTypeHuman,
		IsConnected:    true,
		JoinedAt:       time.Now().UTC(),
		LastActiveAt:   time.Now().UTC(),
		Scorecard:      protocol.NewScorecard(),
		RollsRemaining: protocol.MaxRollsPerTurn,
	}
}

// gameState is the full persisted snapshot under the room's game_state key.
type gameState struct {
	Code               string
	Config              Config
	HostUserID         string
	Players            map[string]*playerState
	PlayerJoinOrder    []string
	Phase              protocol.Phase
	TurnNumber         int
	RoundNumber        int
	CurrentPlayerIndex int
	PlayerOrder        []string
	GameStartedAt      *time.Time
	GameCompletedAt    *time.Time
	Rankings           []protocol.Ranking
	IsPublic           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	TurnStartedAt      *time.Time
}

// Room is the GameRoom actor. Its unexported state-touching methods
// expect mu to be held by the caller; the exported methods
// (DeliverJoinRequest, CancelJoinRequest, PublicSummary) take mu
// themselves. The router is the sole entry point from the connection
// layer, matching the single-threaded-per-actor model.
type Room struct {
	mu sync.Mutex

	code    string
	cfg     Config
	engine  scoring.Engine
	storage *storage.Service
	lobby   rpc.RoomToLobby

	state gameState

	sessions   map[string]*Client // connectionId -> client
	spectators set.Set[string]    // userIds watching without a seat
	chat       *chatring.Ring
	alarm      *alarmScheduler

	onEmpty func(code string)

	joinRequests map[string]*protocol.JoinRequest // requestId -> request

	// outbox holds cross-actor calls deferred until mu is released. The
	// lobby's mutex must never be acquired while mu is held (and vice
	// versa on the lobby side) or two actors calling each other
	// concurrently deadlock, so handlers snapshot what the call needs
	// and enqueue it here; every entry point flushes after unlocking.
	outbox []func()
}

// NewRoom constructs an empty, waiting GameRoom. The first authenticated
// joiner becomes host.
func NewRoom(code string, cfg Config, engine scoring.Engine, store *storage.Service, lobby rpc.RoomToLobby, onEmpty func(string)) *Room {
	now := time.Now().UTC()
	r := &Room{
		code:    code,
		cfg:     cfg,
		engine:  engine,
		storage: store,
		lobby:   lobby,
		state: gameState{
			Code:      code,
			Players:   make(map[string]*playerState),
			Phase:     protocol.PhaseWaiting,
			IsPublic:  true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		sessions:     make(map[string]*Client),
		spectators:   set.New[string](),
		chat:         chatring.New(protocol.ChatHistorySize),
		joinRequests: make(map[string]*protocol.JoinRequest),
		onEmpty:      onEmpty,
	}
	r.alarm = newAlarmScheduler(r)
	return r
}

// enqueueRPC defers a cross-actor call until the current locked section
// ends. Callers must hold mu; the call itself runs lock-free from
// flushOutbox, in enqueue order.
func (r *Room) enqueueRPC(fn func()) {
	r.outbox = append(r.outbox, fn)
}

// flushOutbox drains and runs every deferred cross-actor call with no
// lock held. Entry points (route, handleDisconnect, alarm firing) call
// this right after releasing mu, so the calls still happen before the
// triggering command returns.
func (r *Room) flushOutbox() {
	for {
		r.mu.Lock()
		calls := r.outbox
		r.outbox = nil
		r.mu.Unlock()
		if len(calls) == 0 {
			return
		}
		for _, fn := range calls {
			fn()
		}
	}
}

// route is the central dispatcher for validated client commands:
// dispatch runs under the actor lock, then any cross-actor calls the
// handler queued run lock-free.
func (r *Room) route(ctx context.Context, client *Client, env protocol.Envelope) {
	r.dispatch(ctx, client, env)
	r.flushOutbox()
}

func (r *Room) dispatch(ctx context.Context, client *Client, env protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(string(env.Type)).Observe(time.Since(start).Seconds())
	}()

	defer func() {
		if rec := recover(); rec != nil {
			logging.Error(ctx, "panic in room router", zap.Any("panic", rec), zap.String("roomCode", r.code))
			client.sendError(protocol.NewError(protocol.ErrInternal, "internal error"))
		}
	}()

	switch env.Type {
	case protocol.EventJoinRoom:
		r.handleJoinRoom(ctx, client)
	case protocol.EventLeaveRoom:
		r.handleLeaveRoom(ctx, client)
	case protocol.EventStartGame:
		r.handleStartGame(ctx, client)
	case protocol.EventRollDice:
		r.handleRollDice(ctx, client, env.Payload)
	case protocol.EventKeepDice:
		r.handleKeepDice(ctx, client, env.Payload)
	case protocol.EventScoreCategory:
		r.handleScoreCategory(ctx, client, env.Payload)
	case protocol.EventChat:
		r.handleChat(ctx, client, env.Payload)
	case protocol.EventReact:
		r.handleReact(ctx, client, env.Payload)
	case protocol.EventTypingStart, protocol.EventTypingStop:
		r.handleTyping(ctx, client, env.Type)
	case protocol.EventJoinRequestResponse:
		r.handleJoinRequestResponse(ctx, client, env.Payload)
	case protocol.EventSendInvite:
		r.handleSendInvite(ctx, client, env.Payload)
	case protocol.EventRematch:
		r.handleRematch(ctx, client)
	default:
		client.sendError(protocol.NewError(protocol.ErrInvalidMessage, fmt.Sprintf("unhandled event %q", env.Type)))
	}
}

func (r *Room) player(userID string) *playerState { return r.state.Players[userID] }

func (r *Room) currentPlayer() *playerState {
	if r.state.Phase == protocol.PhaseWaiting || r.state.Phase == protocol.PhaseGameOver {
		return nil
	}
	if r.state.CurrentPlayerIndex < 0 || r.state.CurrentPlayerIndex >= len(r.state.PlayerOrder) {
		return nil
	}
	return r.state.Players[r.state.PlayerOrder[r.state.CurrentPlayerIndex]]
}

// persist commits the full internal gameState (not the trimmed wire
// snapshot) before any broadcast, per the storage-first invariant, so a
// cold-started actor can rebuild exactly the state it had before
// eviction. Callers that cannot persist must not broadcast.
func (r *Room) persist(ctx context.Context) error {
	r.state.UpdatedAt = time.Now().UTC()
	key := fmt.Sprintf("room:%s:game_state", r.code)
	if err := r.storage.Set(ctx, key, r.state); err != nil {
		logging.Error(ctx, "failed to persist room state", zap.Error(err), zap.String("roomCode", r.code))
		return err
	}
	return nil
}

func (r *Room) persistSessionIndex(ctx context.Context) {
	key := fmt.Sprintf("room:%s:session_index", r.code)
	idx := make(map[string]protocol.SessionIndexEntry, len(r.sessions))
	for cid, c := range r.sessions {
		idx[cid] = protocol.SessionIndexEntry{
			UserID:      c.UserID,
			DisplayName: c.DisplayName,
			AvatarSeed:  c.AvatarSeed,
			ConnectedAt: c.ConnectedAt,
		}
	}
	if err := r.storage.Set(ctx, key, idx); err != nil {
		logging.Error(ctx, "failed to persist session index", zap.Error(err))
	}
}

// snapshot builds the client-facing RoomState from internal state.
func (r *Room) snapshot() protocol.RoomState {
	players := make([]protocol.Player, 0, len(r.state.PlayerJoinOrder))
	for _, uid := range r.state.PlayerJoinOrder {
		p := r.state.Players[uid]
		if p == nil {
			continue
		}
		players = append(players, playerToWire(p))
	}
	return protocol.RoomState{
		Code:               r.code,
		HostUserID:         r.state.HostUserID,
		Players:            players,
		Phase:              r.state.Phase,
		TurnNumber:         r.state.TurnNumber,
		RoundNumber:        r.state.RoundNumber,
		CurrentPlayerIndex: r.state.CurrentPlayerIndex,
		PlayerOrder:        append([]string(nil), r.state.PlayerOrder...),
		GameStartedAt:      r.state.GameStartedAt,
		GameCompletedAt:    r.state.GameCompletedAt,
		Rankings:           r.state.Rankings,
		Chat:               r.chat.Entries(),
		MaxPlayers:         r.cfg.MaxPlayers,
		SpectatorsAllowed:  true,
		IsPublic:           r.state.IsPublic,
	}
}

func playerToWire(p *playerState) protocol.Player {
	dice := []int(nil)
	if p.HasRolled {
		dice = append(dice, p.CurrentDice[:]...)
	}
	return protocol.Player{
		UserID:               p.UserID,
		DisplayName:          p.DisplayName,
		AvatarSeed:           p.AvatarSeed,
		Type:                 p.Type,
		IsHost:               p.IsHost,
		IsConnected:          p.IsConnected,
		CurrentConnectionID:  p.CurrentConnectionID,
		LastActiveAt:         p.LastActiveAt,
		Scorecard:            p.Scorecard,
		TotalScore:           p.TotalScore,
		CurrentDice:          dice,
		KeptMask:             p.KeptMask,
		RollsRemaining:       p.RollsRemaining,
	}
}

// roleOf reports which role a connected userId currently holds, for
// role-gated broadcast targeting.
func (r *Room) roleOf(userID string) protocol.Role {
	if userID == r.state.HostUserID {
		return protocol.RoleHost
	}
	if _, ok := r.state.Players[userID]; ok {
		return protocol.RolePlayer
	}
	return protocol.RoleSpectator
}

// addSpectator seats a connecting client as a spectator rather than a
// player — used when the room is full but still accepting viewers. The
// spec leaves exactly what spectators may see as an open question and
// directs the default to be "whatever a spectator could already see from
// chat/room updates", so spectators share the same sessions map and
// broadcast() feed as players; they are just absent from state.Players.
func (r *Room) addSpectator(client *Client) {
	r.sessions[client.ConnectionID] = client
	r.spectators.Insert(client.UserID)
}

func (r *Room) removeSpectator(client *Client) {
	delete(r.sessions, client.ConnectionID)
	// Only drop the userId from the set once no other connection for it
	// remains, mirroring the lobby's online-count-by-unique-user rule.
	for _, c := range r.sessions {
		if c.UserID == client.UserID {
			return
		}
	}
	r.spectators.Delete(client.UserID)
}

// broadcastToRoles fans an envelope out to sessions whose current role is
// in roles, e.g. a host-only notice with multiple host tabs open.
func (r *Room) broadcastToRoles(ctx context.Context, event protocol.Event, payload any, roles set.Set[protocol.Role]) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		logging.Error(ctx, "failed to build role-scoped broadcast envelope", zap.Error(err))
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		logging.Error(ctx, "failed to marshal role-scoped broadcast envelope", zap.Error(err))
		return
	}
	for _, c := range r.sessions {
		if roles.Has(r.roleOf(c.UserID)) {
			c.enqueue(raw)
		}
	}
}

// broadcast marshals an envelope once and fans it to every session,
// publishing to the configured storage backend's pub/sub for cross-pod
// delivery when one is configured.
func (r *Room) broadcast(ctx context.Context, event protocol.Event, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		logging.Error(ctx, "failed to build broadcast envelope", zap.Error(err))
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		logging.Error(ctx, "failed to marshal broadcast envelope", zap.Error(err))
		return
	}
	for _, c := range r.sessions {
		c.enqueue(raw)
	}
	channel := fmt.Sprintf("room:%s", r.code)
	if err := r.storage.Publish(ctx, channel, string(event), payload, ""); err != nil {
		logging.Warn(ctx, "failed to publish room broadcast", zap.Error(err))
	}
}

// sendTo delivers an envelope to a single session only (e.g. a typed ERROR
// reply, or a host-only notice); never broadcast.
func (r *Room) sendTo(client *Client, event protocol.Event, payload any) {
	client.emit(event, payload)
}

func (r *Room) summary() protocol.RoomSummary {
	hostName := ""
	if host := r.player(r.state.HostUserID); host != nil {
		hostName = host.DisplayName
	}
	return protocol.RoomSummary{
		Code:            r.code,
		HostDisplayName: hostName,
		PlayerCount:     len(r.state.Players),
		MaxPlayers:      r.cfg.MaxPlayers,
		SpectatorCount:  r.spectators.Len(),
		IsPublic:        r.state.IsPublic,
		Status:          protocol.StatusForPhase(r.state.Phase),
		CreatedAt:       r.state.CreatedAt,
		UpdatedAt:       r.state.UpdatedAt,
		Identity:        identifiers.DeriveRoomIdentity(r.code),
	}
}

// PublicSummary exposes the lobby-facing projection for the room-info HTTP
// endpoint, taking the lock like every other externally callable method.
func (r *Room) PublicSummary() protocol.RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary()
}

// destroy is invoked by the room_cleanup alarm once zero connections and
// zero AI players remain; it tells the lobby to drop the directory entry
// and the owning registry to forget this room. Callers hold mu, so the
// lobby notification goes through the outbox.
func (r *Room) destroy(ctx context.Context) {
	if r.lobby != nil {
		r.enqueueRPC(func() {
			_ = r.lobby.RemoveRoomSummary(ctx, r.code)
		})
	}
	_ = r.storage.Del(ctx, fmt.Sprintf("room:%s:game_state", r.code))
	_ = r.storage.Del(ctx, fmt.Sprintf("room:%s:session_index", r.code))
	_ = r.storage.Del(ctx, fmt.Sprintf("room:%s:alarm_data", r.code))
	metrics.ActiveRooms.Dec()
	if r.onEmpty != nil {
		r.onEmpty(r.code)
	}
}
