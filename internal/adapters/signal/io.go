package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/medbridge/callcore/internal/domain"
	"github.com/medbridge/callcore/internal/protocol"
)

func (ctl *Controller) writePump(ctx context.Context, id domain.ConnID, c *wsConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(id)).Msg("writePump ctx done")
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Str("conn", string(id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, id domain.ConnID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
		ctl.disconnect(id, c)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.cfg.ReadLimit)
	pongWait := ctl.cfg.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
				return
			}
			ctl.handleMessage(id, c, data)
		}
	}
}

func (ctl *Controller) handleMessage(id domain.ConnID, c *wsConn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("rejected message")
		return
	}

	switch m := msg.(type) {
	case protocol.Identify:
		ctl.Conns.Identify(id, domain.UserID(m.UserID))
	case protocol.Join:
		ctl.handleJoin(id, c, m)
	case protocol.Leave:
		ctl.Rooms.Leave(domain.RoomID(m.RoomID), id)
	case protocol.Ping:
		_ = c.TrySend(protocol.Marshal(protocol.Pong{Type: protocol.TypePong}))
	case protocol.SignalEnvelope:
		ctl.Relay.Forward(id, m)
	default:
		log.Warn().Str("module", "signal").Str("conn", string(id)).Msgf("unexpected message %T", msg)
	}
}
