package app

import (
	"encoding/json"
	"testing"

	"github.com/medbridge/callcore/internal/protocol"
)

func TestForwardRewritesFrom(t *testing.T) {
	conns := NewRegistry()
	bind(conns, "conn-a")
	fb := bind(conns, "conn-b")
	relay := NewRelay(conns)

	relay.Forward("conn-a", protocol.SignalEnvelope{
		Type:  protocol.TypeSignalOffer,
		To:    "conn-b",
		From:  "forged-id",
		Offer: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.frames) != 1 {
		t.Fatalf("expected one delivery, got %d", len(fb.frames))
	}
	var env protocol.SignalEnvelope
	if err := json.Unmarshal(fb.frames[0], &env); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if env.From != "conn-a" {
		t.Errorf("relay must overwrite from with the true sender, got %q", env.From)
	}
	if string(env.Offer) != `{"type":"offer","sdp":"v=0"}` {
		t.Errorf("payload must pass verbatim, got %s", env.Offer)
	}
}

func TestForwardDeadTargetSilent(t *testing.T) {
	conns := NewRegistry()
	relay := NewRelay(conns)

	// Must neither panic nor surface an error to the caller.
	relay.Forward("conn-a", protocol.SignalEnvelope{
		Type:      protocol.TypeSignalICE,
		To:        "stale-id",
		Candidate: json.RawMessage(`{"candidate":"candidate:1"}`),
	})
}
