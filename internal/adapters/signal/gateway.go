// Package signal is the websocket gateway: it owns one persistent connection
// per client, assigns connection identity and triggers registry cleanup when
// the transport closes.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/medbridge/callcore/internal/app"
	"github.com/medbridge/callcore/internal/config"
	"github.com/medbridge/callcore/internal/core"
	"github.com/medbridge/callcore/internal/domain"
	"github.com/medbridge/callcore/internal/protocol"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Conns *app.Registry
	Rooms *app.RoomRegistry
	Relay *app.Relay

	cfg     *config.Config
	limiter *JoinRateLimiter
}

func NewController(cfg *config.Config, conns *app.Registry, rooms *app.RoomRegistry, relay *app.Relay) *Controller {
	return &Controller{
		Conns:   conns,
		Rooms:   rooms,
		Relay:   relay,
		cfg:     cfg,
		limiter: NewJoinRateLimiter(cfg.JoinLimit, cfg.JoinInterval),
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu      sync.RWMutex
	closed  bool
	cleanup sync.Once
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request, assigns a fresh connection id and starts
// the pumps. The client-token cookie seeds the identity until an identify
// message overwrites it.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	id := domain.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("new WS connection")

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Conns.Bind(id, conn, cancel)
	if token := c.GetString("client_token"); token != "" {
		ctl.Conns.Identify(id, domain.UserID(token))
	}

	_ = conn.TrySend(protocol.Marshal(protocol.Welcome{
		Type:         protocol.TypeWelcome,
		ConnectionID: string(id),
	}))

	go ctl.writePump(ctx, id, conn)
	go ctl.readPump(ctx, id, conn)
}

// disconnect runs registry cleanup for the connection exactly once, before
// the mapping is discarded.
func (ctl *Controller) disconnect(id domain.ConnID, c *wsConn) {
	c.cleanup.Do(func() {
		ctl.Rooms.DisconnectCleanup(id)
		ctl.Conns.Unbind(id)
		ctl.limiter.Forget(id)
	})
}
