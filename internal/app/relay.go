package app

import (
	"github.com/rs/zerolog/log"

	"github.com/medbridge/callcore/internal/domain"
	"github.com/medbridge/callcore/internal/protocol"
)

// Relay forwards offer/answer/ICE envelopes to the connection named by To.
// It keeps no state of its own: no delivery guarantee, no retry. Loss shows
// up to the sender only as a negotiation that never completes.
type Relay struct {
	conns *Registry
}

func NewRelay(conns *Registry) *Relay {
	return &Relay{conns: conns}
}

// Forward rewrites From with the relay's own record of the sender and passes
// the envelope on verbatim otherwise. A caller-supplied From is never
// trusted. Envelopes addressed to a dead connection are dropped silently.
func (r *Relay) Forward(from domain.ConnID, env protocol.SignalEnvelope) {
	env.From = string(from)
	to := domain.ConnID(env.To)
	if !r.conns.Send(to, protocol.Marshal(env)) {
		log.Debug().Str("module", "app.relay").Str("type", env.Type).Str("from", string(from)).Str("to", env.To).Msg("dropped: target not live")
	}
}
