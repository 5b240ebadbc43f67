package client

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/medbridge/callcore/internal/domain"
	"github.com/medbridge/callcore/internal/protocol"
)

// ErrCallEnded means the call scope was hung up; no new sessions may form.
var ErrCallEnded = errors.New("call ended")

// Call is the call scope: it owns the local capture, keeps at most one
// session per remote connection and holds the by-peer remote stream map the
// presentation layer reads.
type Call struct {
	self  domain.ConnID
	stun  []string
	media *LocalMedia
	send  func(protocol.SignalEnvelope)

	mu       sync.Mutex
	sessions map[domain.ConnID]*PeerSession
	remote   map[domain.ConnID][]*webrtc.TrackRemote
	ended    bool
}

func NewCall(self domain.ConnID, stun []string, media *LocalMedia, send func(protocol.SignalEnvelope)) *Call {
	return &Call{
		self:     self,
		stun:     stun,
		media:    media,
		send:     send,
		sessions: make(map[domain.ConnID]*PeerSession),
		remote:   make(map[domain.ConnID][]*webrtc.TrackRemote),
	}
}

// session returns the session for the remote, creating it when absent. The
// per-remote uniqueness here is what makes a second initiation attach instead
// of spawning a duplicate.
func (c *Call) session(remote domain.ConnID) (*PeerSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return nil, ErrCallEnded
	}
	if s, ok := c.sessions[remote]; ok {
		return s, nil
	}
	s, err := newPeerSession(
		c.self, remote,
		func() (*peerConn, error) { return newPeerConn(c.stun, c.media.Tracks) },
		c.send,
		c.addRemoteTrack,
		c.dropPeer,
	)
	if err != nil {
		return nil, err
	}
	c.sessions[remote] = s
	return s, nil
}

// existing returns the session for the remote without creating one.
func (c *Call) existing(remote domain.ConnID) (*PeerSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[remote]
	return s, ok
}

// Dial initiates (or attaches to) a session toward the remote.
func (c *Call) Dial(remote domain.ConnID) error {
	s, err := c.session(remote)
	if err != nil {
		return err
	}
	return s.Initiate()
}

// HandleSignal routes one relayed envelope to the owning session. An offer
// may create the session (inbound call); answers and candidates for unknown
// or closed sessions are stale and dropped.
func (c *Call) HandleSignal(env protocol.SignalEnvelope) error {
	remote := domain.ConnID(env.From)
	switch env.Type {
	case protocol.TypeSignalOffer:
		s, err := c.session(remote)
		if err != nil {
			if errors.Is(err, ErrCallEnded) {
				return nil
			}
			return err
		}
		return s.HandleOffer(env.Offer)
	case protocol.TypeSignalAnswer:
		s, ok := c.existing(remote)
		if !ok {
			log.Debug().Str("module", "client.call").Str("from", env.From).Msg("dropping answer for unknown session")
			return nil
		}
		return s.HandleAnswer(env.Answer)
	case protocol.TypeSignalICE:
		s, ok := c.existing(remote)
		if !ok {
			log.Debug().Str("module", "client.call").Str("from", env.From).Msg("dropping candidate for unknown session")
			return nil
		}
		return s.HandleCandidate(env.Candidate)
	}
	return nil
}

// ClosePeer tears down the session toward one remote, if any.
func (c *Call) ClosePeer(remote domain.ConnID, err error) {
	if s, ok := c.existing(remote); ok {
		s.Close(err)
	}
}

func (c *Call) addRemoteTrack(remote domain.ConnID, track *webrtc.TrackRemote) {
	c.mu.Lock()
	c.remote[remote] = append(c.remote[remote], track)
	c.mu.Unlock()
}

// dropPeer runs when a session closes: the session entry and the remote
// stream entry go away together, so a later re-dial starts fresh.
func (c *Call) dropPeer(remote domain.ConnID, err error) {
	c.mu.Lock()
	delete(c.sessions, remote)
	delete(c.remote, remote)
	c.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("module", "client.call").Str("remote", string(remote)).Msg("peer dropped")
	}
}

// RemoteTracks returns the remote streams for one peer, nil when none.
func (c *Call) RemoteTracks(remote domain.ConnID) []*webrtc.TrackRemote {
	c.mu.Lock()
	defer c.mu.Unlock()
	tracks := c.remote[remote]
	out := make([]*webrtc.TrackRemote, len(tracks))
	copy(out, tracks)
	return out
}

// PeerState reports the session state for one remote.
func (c *Call) PeerState(remote domain.ConnID) (State, bool) {
	s, ok := c.existing(remote)
	if !ok {
		return StateClosed, false
	}
	return s.State(), true
}

// Hangup ends the whole call: every session closes and only then the local
// capture stops, because the capture is shared across sessions.
func (c *Call) Hangup() {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	sessions := make([]*PeerSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close(nil)
	}
	c.media.Stop()
	log.Info().Str("module", "client.call").Msg("call ended")
}
