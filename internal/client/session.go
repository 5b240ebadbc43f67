package client

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/medbridge/callcore/internal/domain"
	"github.com/medbridge/callcore/internal/protocol"
)

// ErrNegotiationFailed reports that the underlying peer connection gave up.
var ErrNegotiationFailed = errors.New("peer negotiation failed")

// State is the lifecycle of one peer session.
type State int32

const (
	StateIdle State = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// PeerSession is the client-side state for one negotiated link to a specific
// remote connection. All transitions funnel through one mutex, so an incoming
// answer can never interleave with a concurrent local close; anything that
// arrives for a closed session is dropped.
type PeerSession struct {
	self   domain.ConnID
	remote domain.ConnID

	newPC      func() (*peerConn, error)
	sendSignal func(protocol.SignalEnvelope)
	onTrack    func(remote domain.ConnID, track *webrtc.TrackRemote)
	onClosed   func(remote domain.ConnID, err error)

	mu        sync.Mutex
	state     State
	initiator bool
	pc        *peerConn
}

func newPeerSession(
	self, remote domain.ConnID,
	newPC func() (*peerConn, error),
	sendSignal func(protocol.SignalEnvelope),
	onTrack func(domain.ConnID, *webrtc.TrackRemote),
	onClosed func(domain.ConnID, error),
) (*PeerSession, error) {
	s := &PeerSession{
		self:       self,
		remote:     remote,
		newPC:      newPC,
		sendSignal: sendSignal,
		onTrack:    onTrack,
		onClosed:   onClosed,
	}
	pc, err := newPC()
	if err != nil {
		return nil, err
	}
	s.pc = pc
	s.bind(pc)
	return s, nil
}

// bind wires pion callbacks for one peerConn generation. Handlers compare the
// generation pointer so a replaced connection cannot haunt the session.
func (s *PeerSession) bind(pc *peerConn) {
	pc.onICECandidate(func(ci webrtc.ICECandidateInit) {
		s.mu.Lock()
		stale := s.pc != pc || s.state == StateClosed
		s.mu.Unlock()
		if stale {
			return
		}
		s.sendSignal(protocol.SignalEnvelope{
			Type:      protocol.TypeSignalICE,
			To:        string(s.remote),
			Candidate: protocol.Marshal(ci),
		})
	})
	pc.onTrack(func(track *webrtc.TrackRemote) {
		s.handleTrack(pc, track)
	})
	pc.onStateChange(func(st webrtc.PeerConnectionState) {
		s.handlePCState(pc, st)
	})
}

// Initiate starts negotiation as the offering side. When a session for the
// remote already exists in any non-idle state, the call attaches to it
// instead of spawning a duplicate.
func (s *PeerSession) Initiate() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StateNegotiating
	s.initiator = true
	offer, err := s.pc.createOffer()
	s.mu.Unlock()
	if err != nil {
		s.Close(err)
		return err
	}

	log.Debug().Str("module", "client.session").Str("remote", string(s.remote)).Msg("sending offer")
	s.sendSignal(protocol.SignalEnvelope{
		Type:  protocol.TypeSignalOffer,
		To:    string(s.remote),
		Offer: protocol.Marshal(offer),
	})
	return nil
}

// HandleOffer answers an inbound offer. Glare resolves deterministically: the
// side with the lower connection id keeps the initiator role, the other side
// abandons its own offer and answers instead.
func (s *PeerSession) HandleOffer(raw json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return err
	}

	var old *peerConn
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateConnected:
		s.mu.Unlock()
		log.Debug().Str("module", "client.session").Str("remote", string(s.remote)).Stringer("state", s.state).Msg("dropping stale offer")
		return nil
	case StateNegotiating:
		if !s.initiator {
			s.mu.Unlock()
			log.Debug().Str("module", "client.session").Str("remote", string(s.remote)).Msg("dropping duplicate offer")
			return nil
		}
		if s.self < s.remote {
			// We win the tie-break; the remote abandons its offer and
			// answers ours, so theirs is dropped here.
			s.mu.Unlock()
			log.Debug().Str("module", "client.session").Str("remote", string(s.remote)).Msg("glare: keeping initiator role")
			return nil
		}
		// We lose: discard our pending offer and answer on a fresh
		// peer connection.
		log.Debug().Str("module", "client.session").Str("remote", string(s.remote)).Msg("glare: yielding initiator role")
		old = s.pc
		pc, err := s.newPC()
		if err != nil {
			s.mu.Unlock()
			s.Close(err)
			return err
		}
		s.pc = pc
		s.initiator = false
		s.bind(pc)
	case StateIdle:
		s.state = StateNegotiating
		s.initiator = false
	}
	answer, err := s.pc.setRemoteAndAnswer(offer)
	s.mu.Unlock()
	if old != nil {
		old.close()
	}
	if err != nil {
		s.Close(err)
		return err
	}

	log.Debug().Str("module", "client.session").Str("remote", string(s.remote)).Msg("sending answer")
	s.sendSignal(protocol.SignalEnvelope{
		Type:   protocol.TypeSignalAnswer,
		To:     string(s.remote),
		Answer: protocol.Marshal(answer),
	})
	return nil
}

// HandleAnswer applies the remote answer to our pending offer. Answers for a
// session that is not negotiating as initiator are stale and dropped.
func (s *PeerSession) HandleAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateNegotiating || !s.initiator {
		s.mu.Unlock()
		log.Debug().Str("module", "client.session").Str("remote", string(s.remote)).Stringer("state", s.state).Msg("dropping stale answer")
		return nil
	}
	err := s.pc.applyAnswer(answer)
	s.mu.Unlock()
	if err != nil {
		s.Close(err)
		return err
	}
	return nil
}

// HandleCandidate applies a trickled remote ICE candidate.
func (s *PeerSession) HandleCandidate(raw json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	pc := s.pc
	s.mu.Unlock()
	return pc.addCandidate(ci)
}

func (s *PeerSession) handleTrack(pc *peerConn, track *webrtc.TrackRemote) {
	s.mu.Lock()
	if s.pc != pc || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.state == StateNegotiating {
		s.state = StateConnected
	}
	s.mu.Unlock()

	log.Info().Str("module", "client.session").Str("remote", string(s.remote)).Str("kind", track.Kind().String()).Msg("remote track")
	if s.onTrack != nil {
		s.onTrack(s.remote, track)
	}
}

func (s *PeerSession) handlePCState(pc *peerConn, st webrtc.PeerConnectionState) {
	s.mu.Lock()
	if s.pc != pc || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	log.Debug().Str("module", "client.session").Str("remote", string(s.remote)).Str("pc_state", st.String()).Msg("peer state")
	switch st {
	case webrtc.PeerConnectionStateConnected:
		if s.state == StateNegotiating {
			s.state = StateConnected
		}
		s.mu.Unlock()
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		s.mu.Unlock()
		s.Close(ErrNegotiationFailed)
	default:
		s.mu.Unlock()
	}
}

// Close moves the session to Closed and releases session-owned resources.
// The local capture is owned by the call scope and stays untouched.
// Idempotent; late signals for a closed session are dropped by the handlers.
func (s *PeerSession) Close(err error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	pc := s.pc
	s.mu.Unlock()

	log.Info().Str("module", "client.session").Str("remote", string(s.remote)).Err(err).Msg("session closed")
	if pc != nil {
		pc.close()
	}
	if s.onClosed != nil {
		s.onClosed(s.remote, err)
	}
}

// Remote returns the remote connection id the session is keyed by.
func (s *PeerSession) Remote() domain.ConnID { return s.remote }

// State returns the current lifecycle state.
func (s *PeerSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
