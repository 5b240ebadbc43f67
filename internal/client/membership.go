// Package client implements the call side: the room membership client and the
// per-peer session lifecycle built on pion.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/medbridge/callcore/internal/core"
	"github.com/medbridge/callcore/internal/domain"
	"github.com/medbridge/callcore/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	welcomeWait    = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// RoomClient wraps join/leave, maintains the locally observed member list
// from registry notifications and drives the session lifecycle. A transport
// drop invalidates the whole client; reconnecting means a fresh Dial and a
// fresh join, never session resumption.
type RoomClient struct {
	conn *websocket.Conn
	self domain.ConnID
	user domain.UserID
	call *Call

	send chan core.Frame
	done chan struct{}
	once sync.Once

	// Optional observers for the presentation layer.
	OnMemberJoined func(room domain.RoomID, m domain.Member)
	OnMemberLeft   func(room domain.RoomID, m domain.Member)

	mu      sync.Mutex
	members map[domain.RoomID]map[domain.ConnID]domain.UserID
}

// Dial connects to the gateway, acquires local media through capture, learns
// the server-assigned connection id and starts the pumps. Media denial aborts
// the dial before any transport work.
func Dial(ctx context.Context, serverURL string, user domain.UserID, capture Capture, stun []string) (*RoomClient, error) {
	media, err := capture.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire media: %w", err)
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		media.Stop()
		return nil, fmt.Errorf("dial signaling: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)

	self, err := readWelcome(ws)
	if err != nil {
		media.Stop()
		_ = ws.Close()
		return nil, err
	}
	log.Info().Str("module", "client").Str("conn", string(self)).Msg("connected")

	c := &RoomClient{
		conn:    ws,
		self:    self,
		user:    user,
		send:    make(chan core.Frame, 32),
		done:    make(chan struct{}),
		members: make(map[domain.RoomID]map[domain.ConnID]domain.UserID),
	}
	c.call = NewCall(self, stun, media, func(env protocol.SignalEnvelope) {
		c.enqueue(protocol.Marshal(env))
	})

	go c.writeLoop()
	go c.readLoop()

	if user != "" {
		c.enqueue(protocol.Marshal(protocol.Identify{Type: protocol.TypeIdentify, UserID: string(user)}))
	}
	return c, nil
}

func readWelcome(ws *websocket.Conn) (domain.ConnID, error) {
	_ = ws.SetReadDeadline(time.Now().Add(welcomeWait))
	defer ws.SetReadDeadline(time.Time{})

	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read welcome: %w", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		return "", fmt.Errorf("read welcome: %w", err)
	}
	w, ok := msg.(protocol.Welcome)
	if !ok {
		return "", fmt.Errorf("read welcome: unexpected %T", msg)
	}
	return domain.ConnID(w.ConnectionID), nil
}

// ConnID returns the server-assigned connection id.
func (c *RoomClient) ConnID() domain.ConnID { return c.self }

// Call returns the call scope for stream access and hang-up.
func (c *RoomClient) Call() *Call { return c.call }

// Join requests room entry; the member snapshot arrives asynchronously and
// triggers a dial toward every existing member.
func (c *RoomClient) Join(room domain.RoomID) {
	c.enqueue(protocol.Marshal(protocol.Join{
		Type:   protocol.TypeJoin,
		RoomID: string(room),
		UserID: string(c.user),
	}))
}

// Leave exits the room and cancels every in-flight negotiation toward that
// room's members.
func (c *RoomClient) Leave(room domain.RoomID) {
	c.enqueue(protocol.Marshal(protocol.Leave{
		Type:   protocol.TypeLeave,
		RoomID: string(room),
		UserID: string(c.user),
	}))

	c.mu.Lock()
	view := c.members[room]
	delete(c.members, room)
	c.mu.Unlock()
	for conn := range view {
		c.call.ClosePeer(conn, nil)
	}
}

// Members returns the locally observed view of one room.
func (c *RoomClient) Members(room domain.RoomID) []domain.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	view := c.members[room]
	out := make([]domain.Member, 0, len(view))
	for conn, user := range view {
		out = append(out, domain.NewMember(conn, user))
	}
	return out
}

// Close ends the call and tears down the transport. Idempotent.
func (c *RoomClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.call.Hangup()
		_ = c.conn.Close()
		log.Info().Str("module", "client").Str("conn", string(c.self)).Msg("closed")
	})
}

func (c *RoomClient) enqueue(f core.Frame) {
	select {
	case c.send <- f:
	case <-c.done:
	default:
		log.Warn().Str("module", "client").Msg("send buffer full, dropping frame")
	}
}

func (c *RoomClient) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "client").Msg("write error")
				c.Close()
				return
			}
		}
	}
}

func (c *RoomClient) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Info().Err(err).Str("module", "client").Msg("transport closed")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *RoomClient) dispatch(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("rejected server message")
		return
	}

	switch m := msg.(type) {
	case protocol.RoomMembers:
		c.handleSnapshot(m)
	case protocol.MemberEvent:
		c.handleMemberEvent(m)
	case protocol.SignalEnvelope:
		if err := c.call.HandleSignal(m); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("from", m.From).Msg("signal handling failed")
		}
	case protocol.Pong:
	default:
		log.Warn().Str("module", "client").Msgf("unexpected message %T", msg)
	}
}

// handleSnapshot installs the pre-join view and dials every existing member;
// the newcomer initiates, existing members answer.
func (c *RoomClient) handleSnapshot(m protocol.RoomMembers) {
	room := domain.RoomID(m.RoomID)
	view := make(map[domain.ConnID]domain.UserID, len(m.Members))
	for _, info := range m.Members {
		view[domain.ConnID(info.ConnectionID)] = domain.UserID(info.UserID)
	}
	c.mu.Lock()
	c.members[room] = view
	c.mu.Unlock()

	for conn := range view {
		if err := c.call.Dial(conn); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("remote", string(conn)).Msg("dial failed")
		}
	}
}

func (c *RoomClient) handleMemberEvent(m protocol.MemberEvent) {
	room := domain.RoomID(m.RoomID)
	member := domain.NewMember(domain.ConnID(m.ConnectionID), domain.UserID(m.UserID))

	switch m.Type {
	case protocol.TypeMemberJoined:
		c.mu.Lock()
		if c.members[room] == nil {
			c.members[room] = make(map[domain.ConnID]domain.UserID)
		}
		c.members[room][member.Conn] = member.User
		c.mu.Unlock()
		// The newcomer initiates; our session forms on their offer.
		log.Info().Str("module", "client").Str("room", string(room)).Str("conn", string(member.Conn)).Msg("member joined")
		if c.OnMemberJoined != nil {
			c.OnMemberJoined(room, member)
		}
	case protocol.TypeMemberLeft:
		c.mu.Lock()
		delete(c.members[room], member.Conn)
		c.mu.Unlock()
		log.Info().Str("module", "client").Str("room", string(room)).Str("conn", string(member.Conn)).Msg("member left")
		c.call.ClosePeer(member.Conn, nil)
		if c.OnMemberLeft != nil {
			c.OnMemberLeft(room, member)
		}
	}
}
