// Package router is the Edge Router: the single gin.Engine that accepts
// HTTP requests and WebSocket upgrades, verifies bearer tokens before any
// upgrade, and hands accepted connections to the GameRoom or GlobalLobby
// actor they belong to. It mirrors the teacher's ServeWs in
// internal/v1/session/hub.go (origin-checked upgrader, query-param token,
// client construction, go writePump()/readPump()) generalized across two
// actor kinds and fronted with gin instead of net/http's bare mux.
package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dicearena/backend/internal/auth"
	"github.com/dicearena/backend/internal/config"
	"github.com/dicearena/backend/internal/gameroom"
	"github.com/dicearena/backend/internal/health"
	"github.com/dicearena/backend/internal/hub"
	"github.com/dicearena/backend/internal/identifiers"
	"github.com/dicearena/backend/internal/lobby"
	"github.com/dicearena/backend/internal/logging"
	"github.com/dicearena/backend/internal/metrics"
	"github.com/dicearena/backend/internal/middleware"
	"github.com/dicearena/backend/internal/protocol"
	"github.com/dicearena/backend/internal/ratelimit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Deps bundles everything the router needs to wire its routes; New takes
// this rather than a long parameter list since cmd/server is the only
// caller and benefits from named fields at the call site.
type Deps struct {
	Config      *config.Config
	Validator   auth.TokenValidator
	RateLimiter *ratelimit.RateLimiter
	Health      *health.Handler
	Hub         *hub.Hub
	Lobby       *lobby.Lobby
	RoomConfig  gameroom.Config
}

// New builds the configured gin.Engine. It does not call Run — cmd/server
// owns the listener lifecycle.
func New(deps Deps) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(deps.Config.ServiceName))
	engine.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	corsConfig.AllowCredentials = true
	corsConfig.AddAllowHeaders("Authorization")
	engine.Use(cors.New(corsConfig))

	engine.Use(deps.RateLimiter.GlobalMiddleware())

	engine.GET("/health", handleHealth)
	engine.GET("/health/live", deps.Health.Liveness)
	engine.GET("/health/ready", deps.Health.Readiness)
	engine.GET("/lobby/online", deps.handleLobbyOnline)
	engine.GET("/room/:code/info", deps.RateLimiter.MiddlewareForEndpoint("rooms"), deps.handleRoomInfo)

	engine.GET("/lobby", deps.handleLobbyUpgrade)
	engine.GET("/room/:code", deps.handleRoomUpgrade)

	return engine
}

func handleHealth(c *gin.Context) {
	c.Header("X-Protocol-Version", protocol.Version)
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": protocol.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (d Deps) handleLobbyOnline(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"onlineCount": d.Lobby.OnlineCount()})
}

func (d Deps) handleRoomInfo(c *gin.Context) {
	code, ok := protocol.NormalizeRoomCode(c.Param("code"))
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	room, ok := d.Hub.Get(c.Request.Context(), code)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, room.PublicSummary())
}

// extractToken implements the spec's "bearer token as ?token= query or
// Authorization: Bearer header" rule.
func extractToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return ""
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Gin's CORS middleware already gates plain HTTP; the upgrade
		// path re-checks explicitly since browsers do not apply
		// CORS preflight to WebSocket handshakes.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"}) {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	},
}

func (d Deps) authenticate(c *gin.Context) (userID, displayName, avatarSeed string, ok bool) {
	token := extractToken(c.Request)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": protocol.ErrMissingToken, "message": "missing bearer token"})
		return "", "", "", false
	}
	claims, err := d.Validator.ValidateToken(token)
	if err != nil {
		logging.Warn(c.Request.Context(), "token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": protocol.ErrInvalidSignature, "message": "invalid token"})
		return "", "", "", false
	}
	if !d.RateLimiter.CheckWebSocket(c) {
		return "", "", "", false
	}
	if err := d.RateLimiter.CheckWebSocketUser(c.Request.Context(), claims.Subject); err != nil {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": protocol.ErrRateLimited, "message": "too many connections"})
		return "", "", "", false
	}
	return claims.Subject, claims.Name, claims.Subject, true
}

func (d Deps) handleLobbyUpgrade(c *gin.Context) {
	userID, displayName, avatarSeed, ok := d.authenticate(c)
	if !ok {
		return
	}

	c.Writer.Header().Set("X-Protocol-Version", protocol.Version)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, c.Writer.Header())
	if err != nil {
		logging.Error(c.Request.Context(), "lobby upgrade failed", zap.Error(err))
		return
	}
	metrics.IncConnection()

	client := lobby.NewClient(conn, d.Lobby, identifiers.NewConnectionID(), userID, displayName, avatarSeed)
	ctx := context.Background()
	d.Lobby.HandleConnect(ctx, client)
	client.Run(ctx)
}

func (d Deps) handleRoomUpgrade(c *gin.Context) {
	code, ok := protocol.NormalizeRoomCode(c.Param("code"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	userID, displayName, avatarSeed, ok := d.authenticate(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	room := d.Hub.GetOrCreate(ctx, code)

	c.Writer.Header().Set("X-Protocol-Version", protocol.Version)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, c.Writer.Header())
	if err != nil {
		logging.Error(ctx, "room upgrade failed", zap.Error(err))
		return
	}
	metrics.IncConnection()

	// Unlike the lobby, a room socket does nothing until the client sends
	// its own JOIN_ROOM command — the seat, host assignment, and
	// ROOM_UPDATED broadcast all happen inside handleJoinRoom, not here.
	client := gameroom.NewClient(conn, room, identifiers.NewConnectionID(), userID, displayName, avatarSeed)
	client.Run(context.Background())
}
