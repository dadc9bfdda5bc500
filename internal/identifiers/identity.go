package identifiers

import (
	"crypto/sha256"

	"github.com/dicearena/backend/internal/protocol"
	"github.com/google/uuid"
)

var palette = []string{
	"crimson", "amber", "emerald", "azure", "violet", "coral", "teal", "gold",
}

var namePrefixes = []string{
	"Wandering", "Lucky", "Golden", "Silent", "Bold", "Swift", "Clever", "Merry",
}

var nameSuffixes = []string{
	"Die", "Tumbler", "Roller", "Gambit", "Wager", "Throw", "Stack", "Knuckle",
}

// DeriveRoomIdentity computes a deterministic palette/name pair from a room
// code so every client renders the same identity without a round trip.
// The derivation is a truncated SHA-256 hash, not cryptographically
// meaningful — only uniform distribution across the small palettes above
// matters.
func DeriveRoomIdentity(roomCode string) protocol.RoomIdentity {
	sum := sha256.Sum256([]byte(roomCode))
	colorIdx := int(sum[0]) % len(palette)
	prefixIdx := int(sum[1]) % len(namePrefixes)
	suffixIdx := int(sum[2]) % len(nameSuffixes)
	return protocol.RoomIdentity{
		Color: palette[colorIdx],
		Name:  namePrefixes[prefixIdx] + " " + nameSuffixes[suffixIdx],
	}
}

// NewConnectionID mints an actor-generated UUID for a newly accepted
// WebSocket upgrade.
func NewConnectionID() string { return uuid.NewString() }

// NewJoinRequestID mints an ID for a new host-gated join request.
func NewJoinRequestID() string { return uuid.NewString() }

// NewChatMessageID mints an ID for a new chat entry, used as the REACT
// target key.
func NewChatMessageID() string { return uuid.NewString() }
