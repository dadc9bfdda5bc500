// Package gameroom implements the GameRoom actor: one instance per room
// code, owning the turn-based state machine, player roster, dice, scoring,
// chat, join-request inbox, and per-turn timers.
package gameroom

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dicearena/backend/internal/logging"
	"github.com/dicearena/backend/internal/metrics"
	"github.com/dicearena/backend/internal/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval   = 30 * time.Second
	pongGrace      = 2 * pingInterval
	writeWait      = 10 * time.Second
	idleReadWait   = 90 * time.Second
	sendBufferSize = 256
)

// wsConnection is the subset of *websocket.Conn a Client needs; it exists
// so tests can substitute an in-memory double.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

// Roomer is the interface a Client drives into its owning Room, keeping
// the connection plumbing independent of game logic for testability.
type Roomer interface {
	route(ctx context.Context, client *Client, env protocol.Envelope)
	handleDisconnect(ctx context.Context, client *Client)
}

// chatPacing tracks the per-client rate state the spec requires for chat,
// typing, and reactions — accounted by timestamp rather than a token
// bucket because RATE_LIMITED responses must carry a precise remainingMs.
type chatPacing struct {
	mu                  sync.Mutex
	lastMessageAt       time.Time
	lastTypingAt        time.Time
	reactionWindowStart time.Time
	reactionCount       int
}

const (
	chatMinInterval    = 1 * time.Second
	typingMinInterval  = 2 * time.Second
	reactionWindow     = 1 * time.Second
	reactionMaxPerWindow = 5
)

// checkChat enforces the 1s minimum chat interval, returning remaining
// wait time when the caller must back off.
func (p *chatPacing) checkChat(now time.Time) (ok bool, remaining time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.lastMessageAt.IsZero() {
		elapsed := now.Sub(p.lastMessageAt)
		if elapsed < chatMinInterval {
			return false, chatMinInterval - elapsed
		}
	}
	p.lastMessageAt = now
	return true, 0
}

func (p *chatPacing) checkTyping(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.lastTypingAt.IsZero() && now.Sub(p.lastTypingAt) < typingMinInterval {
		return false
	}
	p.lastTypingAt = now
	return true
}

func (p *chatPacing) checkReaction(now time.Time) (ok bool, remaining time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reactionWindowStart.IsZero() || now.Sub(p.reactionWindowStart) >= reactionWindow {
		p.reactionWindowStart = now
		p.reactionCount = 0
	}
	if p.reactionCount >= reactionMaxPerWindow {
		return false, reactionWindow - now.Sub(p.reactionWindowStart)
	}
	p.reactionCount++
	return true, 0
}

// Client represents one WebSocket session inside a GameRoom: one player or
// spectator's live connection, tagged with verified identity claims.
type Client struct {
	conn                 wsConnection
	send                 chan []byte
	room                 Roomer
	ConnectionID         string
	UserID               string
	DisplayName          string
	AvatarSeed           string
	ConnectedAt          time.Time
	pacing               chatPacing
	consecutiveBadFrames int
	missedPongs          int32
}

// NewClient wraps an upgraded connection with the identity carried by its
// verified token claims.
func NewClient(conn *websocket.Conn, room Roomer, connectionID, userID, displayName, avatarSeed string) *Client {
	return &Client{
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		room:         room,
		ConnectionID: connectionID,
		UserID:       userID,
		DisplayName:  displayName,
		AvatarSeed:   avatarSeed,
		ConnectedAt:  time.Now().UTC(),
	}
}

// readPump decodes inbound JSON text frames and hands them to the room's
// router. Binary frames are rejected outright, matching the spec's
// "Binary frames are rejected" wire rule.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.room.handleDisconnect(ctx, c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	c.conn.SetReadDeadline(time.Now().Add(idleReadWait))
	c.conn.SetPongHandler(func(string) error {
		atomic.StoreInt32(&c.missedPongs, 0)
		c.conn.SetReadDeadline(time.Now().Add(idleReadWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			c.sendError(protocol.NewError(protocol.ErrProtocolMismatch, "binary frames are not accepted"))
			if c.abuseThreshold() {
				return
			}
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError(protocol.NewError(protocol.ErrInvalidMessage, "malformed envelope"))
			if c.abuseThreshold() {
				return
			}
			continue
		}
		c.consecutiveBadFrames = 0
		c.room.route(ctx, c, env)
	}
}

// abuseThreshold closes the socket after five consecutive malformed
// frames, per the error taxonomy's repeated-abuse rule.
func (c *Client) abuseThreshold() bool {
	c.consecutiveBadFrames++
	return c.consecutiveBadFrames >= 5
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if atomic.AddInt32(&c.missedPongs, 1) > 2 {
				// Two consecutive missed pongs: close with 1011 per the
				// heartbeat contract rather than waiting on the idle
				// read deadline.
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				closeMsg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "heartbeat timeout")
				c.conn.WriteMessage(websocket.CloseMessage, closeMsg)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues a pre-marshaled envelope. A full buffer drops the
// message rather than blocking the room's single-threaded command loop.
func (c *Client) enqueue(raw []byte) {
	select {
	case c.send <- raw:
	default:
		logging.Warn(context.Background(), "client send buffer full, dropping frame", zap.String("connectionId", c.ConnectionID))
	}
}

func (c *Client) sendEnvelope(env protocol.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound envelope", zap.Error(err))
		return
	}
	c.enqueue(raw)
}

func (c *Client) emit(event protocol.Event, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		logging.Error(context.Background(), "failed to build envelope", zap.Error(err))
		return
	}
	c.sendEnvelope(env)
}

func (c *Client) sendError(e protocol.Error) {
	c.emit(protocol.EventError, e)
}

// Run starts the client's read/write pumps; the router calls this right
// after a successful upgrade, mirroring the teacher's
// "go client.writePump(); go client.readPump()" pairing in ServeWs.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}
