// Package core holds the interfaces shared between the application layer and
// transport adapters.
package core

import "github.com/medbridge/callcore/internal/domain"

// Frame is one encoded signaling message.
type Frame []byte

// SignalConnection is the outbound half of a gateway connection.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// RoomInfo is a read-only view for the operational API.
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
}

// MemberStore owns room membership state. Mutating calls are atomic: the
// snapshots they return and the membership change they apply observe one
// consistent state, which is what keeps a joiner's view and the broadcast
// recipients from drifting apart under concurrent joins.
//
// An in-memory implementation ships with the registry; a shared backend for
// multi-instance deployments plugs in here.
type MemberStore interface {
	// Add inserts the member, creating the room if absent, and returns the
	// pre-join snapshot. ok is false when the connection already is a member;
	// the store never holds two members with the same ConnID in one room.
	Add(room domain.RoomID, m domain.Member) (prior []domain.Member, ok bool)

	// Remove deletes the member if present, deleting the room when emptied,
	// and returns the removed member plus the remaining snapshot.
	// ok is false when the connection was not a member.
	Remove(room domain.RoomID, conn domain.ConnID) (removed domain.Member, rest []domain.Member, ok bool)

	// RoomsOf lists every room currently holding the connection.
	RoomsOf(conn domain.ConnID) []domain.RoomID

	// Members returns the current snapshot of one room.
	Members(room domain.RoomID) ([]domain.Member, bool)

	// Rooms lists all live rooms.
	Rooms() []RoomInfo
}
