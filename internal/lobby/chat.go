package lobby

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dicearena/backend/internal/identifiers"
	"github.com/dicearena/backend/internal/protocol"
)

func (l *Lobby) handleChat(ctx context.Context, client *Client, raw json.RawMessage) {
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
	l.chat.Add(entry)
	l.broadcast(ctx, protocol.EventLobbyChatMessage, protocol.ChatMessageEvent{Message: entry})
}

// handleShout implements the SHOUT wire command: a short-lived, highly
// visible global message distinct from ordinary lobby chat — not added to
// the chat ring, since it is meant to be ephemeral on the client rather
// than replayed to late joiners.
func (l *Lobby) handleShout(ctx context.Context, client *Client, raw json.RawMessage) {
	payload, ok := protocol.Decode[protocol.ShoutPayload](raw)
	if !ok || payload.Trimmed() == "" {
		client.sendError(protocol.NewError(protocol.ErrInvalidMessage, "shout content is empty"))
		return
	}
	if payload.Validate() != nil {
		client.sendError(protocol.NewError(protocol.ErrTooLong, "shout content too long"))
		return
	}

	now := time.Now().UTC()
	allowed, remaining := client.pacing.checkShout(now)
	if !allowed {
		client.sendError(protocol.NewRateLimitError("shout rate limited", remaining.Milliseconds()))
		return
	}

	l.broadcast(ctx, protocol.EventShoutBroadcast, protocol.ShoutBroadcastEvent{
		UserID:    client.UserID,
		Content:   payload.Trimmed(),
		DisplayMs: 5000,
	})
}

func (l *Lobby) handleTyping(ctx context.Context, client *Client, event protocol.Event) {
	if event == protocol.EventTypingStart && !client.pacing.checkTyping(time.Now().UTC()) {
		return
	}
	l.broadcastExcept(ctx, client.ConnectionID, event, map[string]string{"userId": client.UserID})
}

func (l *Lobby) broadcastExcept(ctx context.Context, excludeConnID string, event protocol.Event, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	for cid, c := range l.sessions {
		if cid == excludeConnID {
			continue
		}
		c.enqueue(raw)
	}
}
