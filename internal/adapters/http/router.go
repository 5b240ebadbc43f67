// Package http wires the gin router: client-token middleware, the websocket
// signal endpoint and a read-only rooms API for operations.
package http

import (
	"context"
	nethttp "net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/medbridge/callcore/internal/adapters/signal"
	"github.com/medbridge/callcore/internal/config"
	"github.com/medbridge/callcore/internal/domain"
	"github.com/medbridge/callcore/internal/protocol"
)

// ClientTokenMiddleware hands each browser a stable token so a reconnecting
// client keeps its identity until an identify message overwrites it.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CallSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Int("port", cfg.Port).Msg("router setup")

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"rooms": ctl.Rooms.Rooms()})
	})

	api.GET("/rooms/:id", func(c *gin.Context) {
		room := domain.RoomID(c.Param("id"))
		members, ok := ctl.Rooms.Members(room)
		if !ok {
			c.JSON(nethttp.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		out := make([]protocol.MemberInfo, 0, len(members))
		for _, m := range members {
			out = append(out, protocol.NewMemberInfo(m))
		}
		c.JSON(nethttp.StatusOK, gin.H{"id": room, "members": out})
	})

	// Clients fetch the ICE servers from here instead of hard-coding them.
	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"stunServers": cfg.STUNServers})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	return r
}
