package gameroom

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dicearena/backend/internal/identifiers"
	"github.com/dicearena/backend/internal/protocol"
)

func (r *Room) handleChat(ctx context.Context, client *Client, raw json.RawMessage) {
	payload, ok := protocol.Decode[protocol.ChatPayload](raw)
	if !ok || payload.Trimmed() == "" {
		client.sendError(protocol.NewError(protocol.ErrInvalidMessage, "chat content is empty"))
		return
	}
	if payload.Validate() != nil {
		client.sendError(protocol.NewError(protocol.ErrTooLong, "chat content too long"))
		return
	}

	now := time.Now().UTC()
	allowed, remaining := client.pacing.checkChat(now)
	if !allowed {
		client.sendError(protocol.NewRateLimitError("chat rate limited", remaining.Milliseconds()))
		return
	}

	entry := protocol.ChatEntry{
		ID:          identifiers.NewChatMessageID(),
		UserID:      client.UserID,
		DisplayName: client.DisplayName,
		Content:     payload.Trimmed(),
		Timestamp:   now,
	}
	r.chat.Add(entry)
	r.broadcast(ctx, protocol.EventChatMessage, protocol.ChatMessageEvent{Message: entry})
}

func (r *Room) handleReact(ctx context.Context, client *Client, raw json.RawMessage) {
	payload, ok := protocol.Decode[protocol.ReactPayload](raw)
	if !ok || payload.Validate() != nil {
		client.sendError(protocol.NewError(protocol.ErrInvalidMessage, "invalid reaction"))
		return
	}

	now := time.Now().UTC()
	allowed, remaining := client.pacing.checkReaction(now)
	if !allowed {
		client.sendError(protocol.NewRateLimitError("reaction rate limited", remaining.Milliseconds()))
		return
	}

	entry, ok := r.chat.ToggleReaction(payload.MessageID, payload.Emoji, client.UserID, payload.Add)
	if !ok {
		client.sendError(protocol.NewError(protocol.ErrMessageNotFound, "message not found"))
		return
	}
	r.broadcast(ctx, protocol.EventReactionUpdate, protocol.ReactionUpdateEvent{
		MessageID: entry.ID,
		Reactions: entry.Reactions,
	})
}

func (r *Room) handleTyping(ctx context.Context, client *Client, event protocol.Event) {
	if event == protocol.EventTypingStart && !client.pacing.checkTyping(time.Now().UTC()) {
		return
	}
	r.broadcastExcept(ctx, client.ConnectionID, event, map[string]string{"userId": client.UserID})
}

// broadcastExcept is used for presence-style events where the origin
// client shouldn't receive its own echo (typing indicators).
func (r *Room) broadcastExcept(ctx context.Context, excludeConnID string, event protocol.Event, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	for cid, c := range r.sessions {
		if cid == excludeConnID {
			continue
		}
		c.enqueue(raw)
	}
}
