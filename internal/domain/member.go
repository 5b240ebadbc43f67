package domain

import "errors"

const (
	MaxRoomIDLen = 64
	MaxUserIDLen = 64
)

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
)

// Member is one connection's participation record within a single room.
type Member struct {
	Conn ConnID `json:"connectionId"`
	User UserID `json:"userId"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(conn ConnID, user UserID) Member {
	return Member{Conn: conn, User: user}
}

// CheckRoomID validates a caller-supplied room id before it reaches the registry.
func CheckRoomID(id RoomID) error {
	if len(id) == 0 {
		return ErrRoomIDEmpty
	}
	if len(id) > MaxRoomIDLen {
		return ErrRoomIDTooLong
	}
	return nil
}
