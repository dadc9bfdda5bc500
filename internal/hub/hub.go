// Package hub implements the actor host: the process-wide registry that
// lazily creates, resumes, and evicts GameRoom actors by room code. It is
// the teacher's Hub (internal/v1/session/hub.go) regeneralized — one
// mutex-guarded map plus lazy get-or-create — with the teacher's
// WebSocket-upgrade responsibility split out to internal/router, since
// this domain's upgrade path needs JWT verification and room-code grammar
// checks the teacher's session hub never had to do.
package hub

import (
	"context"
	"sync"

	"github.com/dicearena/backend/internal/gameroom"
	"github.com/dicearena/backend/internal/identifiers"
	"github.com/dicearena/backend/internal/logging"
	"github.com/dicearena/backend/internal/metrics"
	"github.com/dicearena/backend/internal/rpc"
	"github.com/dicearena/backend/internal/scoring"
	"github.com/dicearena/backend/internal/storage"
	"go.uber.org/zap"
)

// Hub owns every live GameRoom in this process. A room is cold-started on
// demand: the first Get or GetOrCreate touch after a restart transparently
// hydrates it from storage via gameroom.LoadOrNewRoom, so callers never
// need to know whether a code is "new" or "resumed."
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*gameroom.Room

	cfg     gameroom.Config
	engine  scoring.Engine
	storage *storage.Service
	lobby   rpc.RoomToLobby
}

// New constructs an empty Hub. lobby may be nil at construction time to
// break the GameRoom/GlobalLobby construction cycle — cmd/server wires the
// hub into the lobby's directory first, then calls SetLobby once the
// lobby exists, since both actors' constructors need the other's address.
func New(cfg gameroom.Config, engine scoring.Engine, store *storage.Service, lobby rpc.RoomToLobby) *Hub {
	return &Hub{
		rooms:   make(map[string]*gameroom.Room),
		cfg:     cfg,
		engine:  engine,
		storage: store,
		lobby:   lobby,
	}
}

// Get resolves an existing, already-normalized room code without creating
// one. ok is false if no live actor holds the code and no game_state is
// persisted for it — the router treats that as a 404.
func (h *Hub) Get(ctx context.Context, code string) (*gameroom.Room, bool) {
	h.mu.Lock()
	if r, ok := h.rooms[code]; ok {
		h.mu.Unlock()
		return r, true
	}
	h.mu.Unlock()

	if h.storage == nil {
		return nil, false
	}
	exists, err := h.storage.Exists(ctx, "room:"+code+":game_state")
	if err != nil || !exists {
		return nil, false
	}
	return h.getOrCreateLocked(ctx, code), true
}

// GetOrCreate resolves a room code to its live actor, hydrating from
// storage or constructing a fresh waiting room if neither a live actor nor
// persisted state exists yet. Used by REQUEST_JOIN-style room creation
// flows where the router has already minted the code.
func (h *Hub) GetOrCreate(ctx context.Context, code string) *gameroom.Room {
	return h.getOrCreateLocked(ctx, code)
}

func (h *Hub) getOrCreateLocked(ctx context.Context, code string) *gameroom.Room {
	h.mu.Lock()
	if r, ok := h.rooms[code]; ok {
		h.mu.Unlock()
		return r
	}
	h.mu.Unlock()

	room := gameroom.LoadOrNewRoom(ctx, code, h.cfg, h.engine, h.storage, h.lobby, h.evict)

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.rooms[code]; ok {
		// Lost a race with a concurrent creator; keep the one already
		// registered and let the one we just built be garbage collected.
		return existing
	}
	h.rooms[code] = room
	metrics.ActiveRooms.Inc()
	logging.Info(ctx, "room registered with hub", zap.String("roomCode", code))
	return room
}

// SetLobby binds the GlobalLobby address after construction, for the
// startup ordering described on New. Must be called before the first room
// is created — rooms capture the hub's current lobby address at
// construction time, not per-dispatch.
func (h *Hub) SetLobby(lobby rpc.RoomToLobby) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lobby = lobby
}

// CreateRoom mints a brand-new, never-before-seen room code and registers
// its actor. Used by the explicit "create a room" HTTP/WS entry point.
func (h *Hub) CreateRoom(ctx context.Context) *gameroom.Room {
	code := identifiers.GenerateUniqueRoomCode(ctx, func(candidate string) bool {
		h.mu.Lock()
		_, exists := h.rooms[candidate]
		h.mu.Unlock()
		return exists
	})
	return h.getOrCreateLocked(ctx, code)
}

func (h *Hub) evict(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, code)
}

// Evict forcibly drops a room from the live registry without running its
// normal destroy/cleanup path — a test hook for exercising the
// cold-start/hibernation-resume path deterministically, mirroring the
// spec's emphasis on actors being safely evictable at any time.
func (h *Hub) Evict(code string) {
	h.evict(code)
}

// --- rpc.Directory ---

// Register implements rpc.Directory. The hub already owns room creation
// via GetOrCreate/CreateRoom, so this exists to satisfy the interface for
// callers (tests, alternate wiring) that construct a room independently
// and want it discoverable by the lobby.
func (h *Hub) Register(code string, room rpc.LobbyToRoom) {
	gr, ok := room.(*gameroom.Room)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rooms[code] = gr
}

// Unregister implements rpc.Directory.
func (h *Hub) Unregister(code string) {
	h.evict(code)
}

// Resolve implements rpc.Directory: the lobby uses this to forward a
// REQUEST_JOIN/CANCEL_JOIN_REQUEST to the room's LobbyToRoom endpoint. It
// does not create a room — a join request against a nonexistent room is
// a NOT_FOUND, never an implicit room creation.
func (h *Hub) Resolve(code string) (rpc.LobbyToRoom, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[code]
	return r, ok
}
