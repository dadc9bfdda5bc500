package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRoomCode(t *testing.T) {
	code, ok := NormalizeRoomCode("abc012")
	assert.True(t, ok)
	assert.Equal(t, "ABC012", code)

	_, ok = NormalizeRoomCode("abc")
	assert.False(t, ok)

	_, ok = NormalizeRoomCode("ABCDE!")
	assert.False(t, ok)
}

func TestStatusForPhase(t *testing.T) {
	assert.Equal(t, RoomStatusWaiting, StatusForPhase(PhaseWaiting))
	assert.Equal(t, RoomStatusWaiting, StatusForPhase(PhaseStarting))
	assert.Equal(t, RoomStatusPlaying, StatusForPhase(PhaseTurnRoll))
	assert.Equal(t, RoomStatusPlaying, StatusForPhase(PhaseTurnDecide))
	assert.Equal(t, RoomStatusPlaying, StatusForPhase(PhaseScoring))
	assert.Equal(t, RoomStatusFinished, StatusForPhase(PhaseGameOver))
}

func TestChatPayload_Validate(t *testing.T) {
	assert.NoError(t, ChatPayload{Content: "hello"}.Validate())
	assert.Error(t, ChatPayload{Content: "   "}.Validate())

	over := make([]byte, ChatMaxLength+1)
	for i := range over {
		over[i] = 'a'
	}
	assert.Error(t, ChatPayload{Content: string(over)}.Validate())
}

func TestScoreCategoryPayload_Validate(t *testing.T) {
	assert.NoError(t, ScoreCategoryPayload{Category: CategoryYahtzee}.Validate())
	assert.Error(t, ScoreCategoryPayload{Category: "not_a_category"}.Validate())
}

func TestRollDicePayload_Validate(t *testing.T) {
	assert.NoError(t, RollDicePayload{KeptMask: 0}.Validate())
	assert.NoError(t, RollDicePayload{KeptMask: 0b11111}.Validate())
	assert.Error(t, RollDicePayload{KeptMask: -1}.Validate())
	assert.Error(t, RollDicePayload{KeptMask: 0b100000}.Validate())
}

func TestReactPayload_Validate(t *testing.T) {
	assert.NoError(t, ReactPayload{MessageID: "m1", Emoji: "🔥", Add: true}.Validate())
	assert.Error(t, ReactPayload{MessageID: "m1", Emoji: "💀", Add: true}.Validate())
	assert.Error(t, ReactPayload{MessageID: "", Emoji: "🔥"}.Validate())
}

func TestRequestJoinPayload_Validate(t *testing.T) {
	assert.NoError(t, RequestJoinPayload{RoomCode: "qwertz"}.Validate())
	assert.Error(t, RequestJoinPayload{RoomCode: "bad"}.Validate())
}

func TestNewEnvelopeAndDecode(t *testing.T) {
	env, err := NewEnvelope(EventChat, ChatPayload{Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, EventChat, env.Type)
	require.NotNil(t, env.Timestamp)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &raw))
	assert.Equal(t, "hi", raw["content"])

	decoded, ok := Decode[ChatPayload](env.Payload)
	require.True(t, ok)
	assert.Equal(t, "hi", decoded.Content)
}

func TestDecode_EmptyPayloadFails(t *testing.T) {
	_, ok := Decode[ChatPayload](nil)
	assert.False(t, ok)
}

func TestScorecardCompleteness(t *testing.T) {
	sc := NewScorecard()
	assert.False(t, IsComplete(sc))

	for _, c := range AllCategories {
		score := 0
		sc[c] = &score
	}
	assert.True(t, IsComplete(sc))
}

func TestNewEnvelope_NilPayload(t *testing.T) {
	env, err := NewEnvelope(EventRoomUpdated, nil)
	require.NoError(t, err)
	assert.Nil(t, env.Payload)
}
