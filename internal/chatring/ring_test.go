package chatring

import (
	"fmt"
	"testing"
	"time"

	"github.com/dicearena/backend/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id string) protocol.ChatEntry {
	return protocol.ChatEntry{
		ID:          id,
		UserID:      "u1",
		DisplayName: "Alice",
		Content:     "msg " + id,
		Timestamp:   time.Now().UTC(),
	}
}

func TestAdd_EvictsOldestPastCapacity(t *testing.T) {
	r := New(3)
	for i := 0; i < 5; i++ {
		r.Add(entry(fmt.Sprintf("m%d", i)))
	}

	entries := r.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "m2", entries[0].ID, "oldest two entries should have been evicted")
	assert.Equal(t, "m3", entries[1].ID)
	assert.Equal(t, "m4", entries[2].ID)
}

func TestEntries_PreservesChronologicalOrder(t *testing.T) {
	r := New(10)
	r.Add(entry("a"))
	r.Add(entry("b"))
	r.Add(entry("c"))

	ids := make([]string, 0, 3)
	for _, e := range r.Entries() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestToggleReaction_AddsAndRemoves(t *testing.T) {
	r := New(10)
	r.Add(entry("m1"))

	updated, ok := r.ToggleReaction("m1", "🎲", "u2", true)
	require.True(t, ok)
	assert.Equal(t, []string{"u2"}, updated.Reactions["🎲"])

	updated, ok = r.ToggleReaction("m1", "🎲", "u3", true)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"u2", "u3"}, updated.Reactions["🎲"])

	updated, ok = r.ToggleReaction("m1", "🎲", "u2", false)
	require.True(t, ok)
	assert.Equal(t, []string{"u3"}, updated.Reactions["🎲"])

	// Removing the last reaction for an emoji drops the key entirely
	// rather than leaving an empty slice behind.
	updated, ok = r.ToggleReaction("m1", "🎲", "u3", false)
	require.True(t, ok)
	_, present := updated.Reactions["🎲"]
	assert.False(t, present)
}

func TestToggleReaction_DoubleAddIsIdempotent(t *testing.T) {
	r := New(10)
	r.Add(entry("m1"))

	r.ToggleReaction("m1", "👍", "u2", true)
	updated, ok := r.ToggleReaction("m1", "👍", "u2", true)
	require.True(t, ok)
	assert.Equal(t, []string{"u2"}, updated.Reactions["👍"])
}

func TestToggleReaction_UnknownMessageIsNotOK(t *testing.T) {
	r := New(10)
	r.Add(entry("m1"))

	_, ok := r.ToggleReaction("does-not-exist", "👍", "u2", true)
	assert.False(t, ok)
}

func TestToggleReaction_AgedOutMessageIsNotOK(t *testing.T) {
	r := New(2)
	r.Add(entry("m1"))
	r.Add(entry("m2"))
	r.Add(entry("m3")) // evicts m1

	_, ok := r.ToggleReaction("m1", "👍", "u2", true)
	assert.False(t, ok, "reactions against an aged-out message should no-op")
}

func TestToggleReaction_PersistsAcrossSubsequentReads(t *testing.T) {
	r := New(10)
	r.Add(entry("m1"))
	r.ToggleReaction("m1", "🔥", "u9", true)

	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"u9"}, entries[0].Reactions["🔥"])
}
