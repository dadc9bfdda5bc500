package lobby

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
	"golang.org/x/time/rate"
)

const (
	pingInterval   = 30 * time.Second
	writeWait      = 10 * time.Second
	idleReadWait   = 90 * time.Second
	sendBufferSize = 256
)

// wsConnection mirrors gameroom's connection seam so tests can substitute
// an in-memory double without dragging in a real socket.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

// Lobbyer is the interface a Client drives into its owning Lobby.
type Lobbyer interface {
	route(ctx context.Context, client *Client, env protocol.Envelope)
	handleDisconnect(ctx context.Context, client *Client)
}

// pacing tracks the lobby chat/typing rate state; identical cadence to the
// room's chatPacing, duplicated rather than shared because a lobby socket
// never has a REACT surface (lobby chat has no per-message reactions).
type pacing struct {
	mu            sync.Mutex
	lastMessageAt time.Time
	lastTypingAt  time.Time
	shout         *rate.Limiter
}

const (
	chatMinInterval   = 1 * time.Second
	typingMinInterval = 2 * time.Second
	shoutCooldown     = 30 * time.Second
)

func newPacing() pacing {
	return pacing{shout: rate.NewLimiter(rate.Every(shoutCooldown), 1)}
}

func (p *pacing) checkChat(now time.Time) (ok bool, remaining time.Duration) {
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

// checkShout enforces the shout cooldown using a one-token bucket that
// refills every shoutCooldown: reserving a token that isn't available yet
// is cancelled immediately so it doesn't consume a future refill, and the
// reservation's delay becomes the remainingMs hint on the RATE_LIMITED
// error.
func (p *pacing) checkShout(now time.Time) (ok bool, remaining time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := p.shout.ReserveN(now, 1)
	if !res.OK() {
		return false, shoutCooldown
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (p *pacing) checkTyping(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.lastTypingAt.IsZero() && now.Sub(p.lastTypingAt) < typingMinInterval {
		return false
	}
	p.lastTypingAt = now
	return true
}

// Client is one WebSocket session attached to the GlobalLobby: a user
// browsing the room directory, chatting, or awaiting a join-request
// decision, who is not currently seated inside a room.
type Client struct {
	conn                 wsConnection
	send                 chan []byte
	lobby                Lobbyer
	ConnectionID         string
	UserID               string
	DisplayName          string
	AvatarSeed           string
	ConnectedAt          time.Time
	pacing               pacing
	consecutiveBadFrames int
	missedPongs          int32
}

// NewClient wraps an upgraded connection with the identity carried by its
// verified token claims.
func NewClient(conn *websocket.Conn, lobby Lobbyer, connectionID, userID, displayName, avatarSeed string) *Client {
	return &Client{
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		lobby:        lobby,
		ConnectionID: connectionID,
		UserID:       userID,
		DisplayName:  displayName,
		AvatarSeed:   avatarSeed,
		ConnectedAt:  time.Now().UTC(),
		pacing:       newPacing(),
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.lobby.handleDisconnect(ctx, c)
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
		c.lobby.route(ctx, c, env)
	}
}

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

func (c *Client) enqueue(raw []byte) {
	select {
	case c.send <- raw:
	default:
		logging.Warn(context.Background(), "lobby client send buffer full, dropping frame", zap.String("connectionId", c.ConnectionID))
	}
}

func (c *Client) emit(event protocol.Event, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		logging.Error(context.Background(), "failed to build lobby envelope", zap.Error(err))
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal lobby envelope", zap.Error(err))
		return
	}
	c.enqueue(raw)
}

func (c *Client) sendError(e protocol.Error) {
	c.emit(protocol.EventError, e)
}

// Run starts the client's read/write pumps; the router calls this after
// HandleConnect, mirroring the teacher's "go client.writePump()" /
// "go client.readPump()" pairing in ServeWs.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}
