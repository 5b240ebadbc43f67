package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/medbridge/callcore/internal/domain"
	"github.com/medbridge/callcore/internal/protocol"
)

func (ctl *Controller) handleJoin(id domain.ConnID, c *wsConn, m protocol.Join) {
	room := domain.RoomID(m.RoomID)
	if err := domain.CheckRoomID(room); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad join room id")
		return
	}
	if !ctl.limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Str("room", string(room)).Msg("join rate limited")
		return
	}

	if m.UserID != "" {
		ctl.Conns.Identify(id, domain.UserID(m.UserID))
	}
	user, _ := ctl.Conns.UserOf(id)

	log.Info().Str("module", "signal").Str("conn", string(id)).Str("room", string(room)).Msg("join")
	prior := ctl.Rooms.Join(room, id, user)

	members := make([]protocol.MemberInfo, 0, len(prior))
	for _, peer := range prior {
		members = append(members, protocol.NewMemberInfo(peer))
	}
	_ = c.TrySend(protocol.Marshal(protocol.RoomMembers{
		Type:    protocol.TypeRoomMembers,
		RoomID:  string(room),
		Members: members,
	}))
}
