// Package identifiers generates the opaque IDs the actor layer hands out:
// room codes, deterministic room identities, and connection/request UUIDs.
package identifiers

import (
	"context"
	"crypto/rand"

	"github.com/dicearena/backend/internal/logging"
)

// roomCodeAlphabet omits visually ambiguous characters (0/O, 1/I) so a
// code read aloud or hand-typed from a screenshot doesn't collide with
// itself. The wire grammar (protocol.NormalizeRoomCode) still accepts the
// full A-Z0-9 range — only generation is restricted to this subset.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const roomCodeLength = 6

// GenerateRoomCode returns a random six-character code drawn from
// roomCodeAlphabet using a CSPRNG.
func GenerateRoomCode() string {
	b := make([]byte, roomCodeLength)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read on the standard reader does not fail in
		// practice; panicking here would surface a broken entropy
		// source immediately rather than silently handing out weak
		// codes.
		panic(err)
	}
	for i := range b {
		b[i] = roomCodeAlphabet[int(b[i])%len(roomCodeAlphabet)]
	}
	return string(b)
}

// RoomExists reports whether a candidate code is already taken. GameRoom
// hosting code supplies this as a closure over its room registry.
type RoomExists func(code string) bool

// GenerateUniqueRoomCode retries GenerateRoomCode until exists reports the
// code is free, matching the retry-on-collision loop the lobby directory
// needs when minting a new room.
func GenerateUniqueRoomCode(ctx context.Context, exists RoomExists) string {
	for attempt := 0; ; attempt++ {
		code := GenerateRoomCode()
		if !exists(code) {
			return code
		}
		if attempt > 0 && attempt%100 == 0 {
			logging.Warn(ctx, "room code collision streak, still retrying")
		}
	}
}
