package app

import (
	"github.com/rs/zerolog/log"

	"github.com/medbridge/callcore/internal/core"
	"github.com/medbridge/callcore/internal/domain"
	"github.com/medbridge/callcore/internal/protocol"
)

// RoomRegistry tracks room membership and announces arrivals and departures.
// The store's atomic Add/Remove keep a joiner's snapshot and the broadcast
// recipients on one consistent registry state.
type RoomRegistry struct {
	store core.MemberStore
	conns *Registry
}

func NewRoomRegistry(store core.MemberStore, conns *Registry) *RoomRegistry {
	return &RoomRegistry{store: store, conns: conns}
}

// Join inserts the member, creating the room if absent, notifies pre-existing
// members of the arrival and returns the pre-join snapshot for the joiner.
// Joining a room twice is a no-op that re-returns the current snapshot.
func (r *RoomRegistry) Join(room domain.RoomID, conn domain.ConnID, user domain.UserID) []domain.Member {
	m := domain.NewMember(conn, user)
	prior, ok := r.store.Add(room, m)
	if !ok {
		log.Info().Str("module", "app.rooms").Str("room", string(room)).Str("conn", string(conn)).Msg("already a member")
		return prior
	}
	log.Info().Str("module", "app.rooms").Str("room", string(room)).Str("conn", string(conn)).Str("user", string(user)).Msg("member joined")

	ev := protocol.Marshal(protocol.MemberEvent{
		Type:         protocol.TypeMemberJoined,
		RoomID:       string(room),
		ConnectionID: string(conn),
		UserID:       string(user),
	})
	for _, peer := range prior {
		r.conns.Send(peer.Conn, ev)
	}
	return prior
}

// Leave removes the member if present, deleting the room when emptied, and
// notifies the remainder. A no-op, never an error, for non-members.
func (r *RoomRegistry) Leave(room domain.RoomID, conn domain.ConnID) {
	removed, rest, ok := r.store.Remove(room, conn)
	if !ok {
		return
	}
	log.Info().Str("module", "app.rooms").Str("room", string(room)).Str("conn", string(conn)).Msg("member left")

	ev := protocol.Marshal(protocol.MemberEvent{
		Type:         protocol.TypeMemberLeft,
		RoomID:       string(room),
		ConnectionID: string(removed.Conn),
		UserID:       string(removed.User),
	})
	for _, peer := range rest {
		r.conns.Send(peer.Conn, ev)
	}
}

// DisconnectCleanup applies Leave semantics to every room holding the
// connection; a no-op if none. Each affected room gets exactly one
// member-left for the connection.
func (r *RoomRegistry) DisconnectCleanup(conn domain.ConnID) {
	for _, room := range r.store.RoomsOf(conn) {
		r.Leave(room, conn)
	}
}

// Members exposes one room's snapshot for the operational API.
func (r *RoomRegistry) Members(room domain.RoomID) ([]domain.Member, bool) {
	return r.store.Members(room)
}

// Rooms lists live rooms for the operational API.
func (r *RoomRegistry) Rooms() []core.RoomInfo {
	return r.store.Rooms()
}
