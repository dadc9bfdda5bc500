package protocol

import (
	"errors"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	ChatMaxLength   = 500
	ChatHistorySize = 20
)

// JoinRoomPayload carries no client-supplied fields; identity comes from
// verified token claims at the edge, not from the message body.
type JoinRoomPayload struct{}

func (JoinRoomPayload) Validate() error { return nil }

type LeaveRoomPayload struct{}

func (LeaveRoomPayload) Validate() error { return nil }

type StartGamePayload struct{}

func (StartGamePayload) Validate() error { return nil }

// RollDicePayload carries the kept-dice bitmask the player wants preserved
// for positions they are NOT re-rolling.
type RollDicePayload struct {
	KeptMask int `json:"keptMask"`
}

func (p RollDicePayload) Validate() error {
	if p.KeptMask < 0 || p.KeptMask >= (1<<DiceCount) {
		return errors.New("keptMask out of range")
	}
	return nil
}

// KeepDicePayload carries the explicit set of dice indices to keep.
type KeepDicePayload struct {
	Indices []int `json:"indices"`
}

func (p KeepDicePayload) Validate() error {
	for _, idx := range p.Indices {
		if idx < 0 || idx >= DiceCount {
			return errors.New("dice index out of range")
		}
	}
	return nil
}

type ScoreCategoryPayload struct {
	Category ScoreCategory `json:"category"`
}

func (p ScoreCategoryPayload) Validate() error {
	for _, c := range AllCategories {
		if c == p.Category {
			return nil
		}
	}
	return errors.New("unknown category")
}

type ChatPayload struct {
	Content string `json:"content"`
}

// Validate trims, rejects empty-after-trim, and enforces the code-unit
// length cap. HTML is never interpreted server-side; clients render chat
// as plain text.
func (p ChatPayload) Validate() error {
	trimmed := strings.TrimSpace(p.Content)
	if trimmed == "" {
		return errors.New("chat content is empty")
	}
	if len(utf16.Encode([]rune(trimmed))) > ChatMaxLength {
		return errors.New("chat content too long")
	}
	return nil
}

// Trimmed returns the content with leading/trailing whitespace removed,
// the form that is actually stored and broadcast.
func (p ChatPayload) Trimmed() string { return strings.TrimSpace(p.Content) }

type ReactPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	Add       bool   `json:"add"`
}

func (p ReactPayload) Validate() error {
	if p.MessageID == "" {
		return errors.New("messageId is required")
	}
	if !ReactionSet[p.Emoji] {
		return errors.New("emoji not in allowed set")
	}
	return nil
}

type RequestJoinPayload struct {
	RoomCode string `json:"roomCode"`
}

func (p RequestJoinPayload) Validate() error {
	if _, ok := NormalizeRoomCode(p.RoomCode); !ok {
		return errors.New("invalid room code")
	}
	return nil
}

// SendInvitePayload asks the lobby to deliver an INVITE_RECEIVED to another
// online user, naming the sender's current room.
type SendInvitePayload struct {
	TargetUserID string `json:"targetUserId"`
}

func (p SendInvitePayload) Validate() error {
	if p.TargetUserID == "" {
		return errors.New("targetUserId is required")
	}
	return nil
}

type JoinRequestResponsePayload struct {
	RequestID string `json:"requestId"`
	Approve   bool   `json:"approve"`
}

func (p JoinRequestResponsePayload) Validate() error {
	if p.RequestID == "" {
		return errors.New("requestId is required")
	}
	return nil
}

type CancelJoinRequestPayload struct {
	RequestID string `json:"requestId"`
}

func (p CancelJoinRequestPayload) Validate() error {
	if p.RequestID == "" {
		return errors.New("requestId is required")
	}
	return nil
}

type RematchPayload struct{}

func (RematchPayload) Validate() error { return nil }

type ShoutPayload struct {
	Content string `json:"content"`
}

func (p ShoutPayload) Validate() error {
	trimmed := strings.TrimSpace(p.Content)
	if trimmed == "" {
		return errors.New("shout content is empty")
	}
	if utf8.RuneCountInString(trimmed) > ChatMaxLength {
		return errors.New("shout content too long")
	}
	return nil
}

// Trimmed returns the content with leading/trailing whitespace removed.
func (p ShoutPayload) Trimmed() string { return strings.TrimSpace(p.Content) }

// --- Server -> client payloads ---

type Player struct {
	UserID              string                  `json:"userId"`
	DisplayName         string                  `json:"displayName"`
	AvatarSeed          string                  `json:"avatarSeed"`
	Type                PlayerType              `json:"type"`
	IsHost              bool                    `json:"isHost"`
	IsConnected         bool                    `json:"isConnected"`
	CurrentConnectionID string                  `json:"currentConnectionId,omitempty"`
	LastActiveAt        time.Time               `json:"lastActiveAt"`
	Scorecard           map[ScoreCategory]*int  `json:"scorecard"`
	TotalScore          int                     `json:"totalScore"`
	CurrentDice         []int                   `json:"currentDice,omitempty"`
	KeptMask            int                     `json:"keptMask"`
	RollsRemaining      int                     `json:"rollsRemaining"`
}

// NewScorecard returns a fresh scorecard with every category unscored.
func NewScorecard() map[ScoreCategory]*int {
	sc := make(map[ScoreCategory]*int, len(AllCategories))
	for _, c := range AllCategories {
		sc[c] = nil
	}
	return sc
}

// IsComplete reports whether every category has been scored.
func IsComplete(sc map[ScoreCategory]*int) bool {
	for _, c := range AllCategories {
		if sc[c] == nil {
			return false
		}
	}
	return true
}

type Ranking struct {
	UserID   string `json:"userId"`
	Rank     int    `json:"rank"`
	Score    int    `json:"score"`
	Perfects int    `json:"perfects"`
}

type ChatEntry struct {
	ID          string              `json:"id"`
	UserID      string              `json:"userId"`
	DisplayName string              `json:"displayName"`
	Content     string              `json:"content"`
	Timestamp   time.Time           `json:"timestamp"`
	Reactions   map[string][]string `json:"reactions,omitempty"` // emoji -> userIds
}

// RoomState is the full snapshot sent to a client on connect or resync.
type RoomState struct {
	Code                string                 `json:"code"`
	HostUserID          string                 `json:"hostUserId"`
	Players             []Player               `json:"players"`
	Phase               Phase                  `json:"phase"`
	TurnNumber          int                    `json:"turnNumber"`
	RoundNumber         int                    `json:"roundNumber"`
	CurrentPlayerIndex  int                    `json:"currentPlayerIndex"`
	PlayerOrder         []string               `json:"playerOrder"`
	GameStartedAt       *time.Time             `json:"gameStartedAt,omitempty"`
	GameCompletedAt     *time.Time             `json:"gameCompletedAt,omitempty"`
	Rankings            []Ranking              `json:"rankings,omitempty"`
	Chat                []ChatEntry            `json:"chat"`
	MaxPlayers          int                    `json:"maxPlayers"`
	SpectatorsAllowed   bool                   `json:"spectatorsAllowed"`
	IsPublic            bool                   `json:"isPublic"`
}

// RoomSummary is the small projection mirrored to the lobby's directory.
type RoomSummary struct {
	Code            string       `json:"code"`
	HostDisplayName string       `json:"hostDisplayName"`
	PlayerCount     int          `json:"playerCount"`
	MaxPlayers      int          `json:"maxPlayers"`
	SpectatorCount  int          `json:"spectatorCount"`
	IsPublic        bool         `json:"isPublic"`
	Status          RoomStatus   `json:"status"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	Identity        RoomIdentity `json:"identity"`
}

// RoomIdentity is a deterministic palette/name derived from the room code,
// so two clients rendering the same code agree without extra round trips.
type RoomIdentity struct {
	Color string `json:"color"`
	Name  string `json:"name"`
}

// JoinRequest is a host-gated, time-limited intent to join a specific room.
type JoinRequest struct {
	ID                   string            `json:"id"`
	RoomCode             string            `json:"roomCode"`
	RequesterID          string            `json:"requesterId"`
	RequesterDisplayName string            `json:"requesterDisplayName"`
	RequesterAvatarSeed  string            `json:"requesterAvatarSeed"`
	CreatedAt            time.Time         `json:"createdAt"`
	ExpiresAt            time.Time         `json:"expiresAt"`
	Status               JoinRequestStatus `json:"status"`
}

const JoinRequestTTL = 120 * time.Second

// AlarmObligation is one deadline a GameRoom owes: a turn's AFK clock, the
// room-cleanup grace period, a pending host-grace window, or one pending
// join request's TTL. The actor tracks a set of these but arms exactly one
// wall-clock timer at a time, for whichever is soonest.
type AlarmObligation struct {
	ID          string         `json:"id"`
	Kind        AlarmKind      `json:"kind"`
	Payload     map[string]any `json:"payload,omitempty"`
	ScheduledAt time.Time      `json:"scheduledAt"`
}
