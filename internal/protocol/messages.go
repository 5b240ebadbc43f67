// Package protocol defines the closed set of messages spoken over the
// signaling websocket. Every wire event has exactly one tagged variant here;
// Decode rejects anything else before it reaches a handler.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/medbridge/callcore/internal/domain"
)

const (
	TypeIdentify     = "identify"
	TypeJoin         = "join"
	TypeLeave        = "leave"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeSignalOffer  = "signal-offer"
	TypeSignalAnswer = "signal-answer"
	TypeSignalICE    = "signal-ice"
	TypeWelcome      = "welcome"
	TypeRoomMembers  = "room-members"
	TypeMemberJoined = "member-joined"
	TypeMemberLeft   = "member-left"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrBadPayload  = errors.New("bad payload")

	validate = validator.New()
)

// Identify associates a user identity with the sending connection.
type Identify struct {
	Type   string `json:"type"`
	UserID string `json:"userId" validate:"required,max=64"`
}

// Join asks to enter a room, creating it if absent.
type Join struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId" validate:"required,max=64"`
	UserID string `json:"userId" validate:"max=64"`
}

// Leave asks to exit a room; a no-op for non-members.
type Leave struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId" validate:"required,max=64"`
	UserID string `json:"userId" validate:"max=64"`
}

// Ping is an application-level keepalive; the server answers with Pong.
type Ping struct {
	Type string `json:"type"`
}

type Pong struct {
	Type string `json:"type"`
}

// SignalEnvelope carries an offer, answer or ICE candidate to the connection
// named by To. The relay always overwrites From with its own record of the
// sender, so a forged From never reaches the recipient.
type SignalEnvelope struct {
	Type      string          `json:"type" validate:"required,oneof=signal-offer signal-answer signal-ice"`
	To        string          `json:"to" validate:"required"`
	From      string          `json:"from,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty" validate:"required_if=Type signal-offer"`
	Answer    json.RawMessage `json:"answer,omitempty" validate:"required_if=Type signal-answer"`
	Candidate json.RawMessage `json:"candidate,omitempty" validate:"required_if=Type signal-ice"`
}

// Welcome tells a fresh connection the id the server assigned to it.
// Clients need their own id for the initiator tie-break.
type Welcome struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

// MemberInfo is the wire view of one room member.
type MemberInfo struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// RoomMembers is the pre-join snapshot sent only to the joiner.
type RoomMembers struct {
	Type    string       `json:"type"`
	RoomID  string       `json:"roomId"`
	Members []MemberInfo `json:"members"`
}

// MemberEvent announces an arrival or departure to the rest of the room.
type MemberEvent struct {
	Type         string `json:"type"`
	RoomID       string `json:"roomId"`
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// Decode parses one inbound frame into its tagged variant and validates it.
func Decode(data []byte) (any, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	switch tag.Type {
	case TypeIdentify:
		return decodeInto[Identify](data)
	case TypeJoin:
		return decodeInto[Join](data)
	case TypeLeave:
		return decodeInto[Leave](data)
	case TypePing:
		return Ping{Type: TypePing}, nil
	case TypePong:
		return Pong{Type: TypePong}, nil
	case TypeSignalOffer, TypeSignalAnswer, TypeSignalICE:
		return decodeInto[SignalEnvelope](data)
	case TypeWelcome:
		return decodeInto[Welcome](data)
	case TypeRoomMembers:
		return decodeInto[RoomMembers](data)
	case TypeMemberJoined, TypeMemberLeft:
		return decodeInto[MemberEvent](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag.Type)
	}
}

func decodeInto[T any](data []byte) (T, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if err := validate.Struct(m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return m, nil
}

// Marshal encodes an outbound message, panicking on programmer error only.
func Marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: marshal %T: %v", v, err))
	}
	return b
}

// NewMemberInfo converts a domain member to its wire view.
func NewMemberInfo(m domain.Member) MemberInfo {
	return MemberInfo{ConnectionID: string(m.Conn), UserID: string(m.User)}
}
