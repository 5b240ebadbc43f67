package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	router "github.com/medbridge/callcore/internal/adapters/http"
	"github.com/medbridge/callcore/internal/adapters/signal"
	"github.com/medbridge/callcore/internal/app"
	"github.com/medbridge/callcore/internal/config"
	"github.com/medbridge/callcore/internal/domain"
)

func newTestStack(t *testing.T) string {
	t.Helper()
	cfg := &config.Config{
		Mode:         "release",
		Secret:       "test-secret",
		ReadLimit:    32768,
		PingPeriod:   54 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   32,
		JoinLimit:    10,
		JoinInterval: time.Minute,
	}
	conns := app.NewRegistry()
	rooms := app.NewRoomRegistry(app.NewMemStore(), conns)
	ctl := signal.NewController(cfg, conns, rooms, app.NewRelay(conns))

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, ctl))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
}

func newTestClient(t *testing.T, url string, user domain.UserID) *RoomClient {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "capture-"+string(user),
	)
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	feedTrack(t, track)

	c, err := Dial(context.Background(), url, user, StaticCapture{Tracks: []webrtc.TrackLocal{track}}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func hasMember(c *RoomClient, room domain.RoomID, conn domain.ConnID) bool {
	for _, m := range c.Members(room) {
		if m.Conn == conn {
			return true
		}
	}
	return false
}

func TestRoomCallEndToEnd(t *testing.T) {
	url := newTestStack(t)

	x := newTestClient(t, url, "dr-lee")
	x.Join("apt-42")

	y := newTestClient(t, url, "pat-9")
	y.Join("apt-42")

	// Both sides converge on each other: Y dials from its snapshot, X learns
	// of Y from the arrival event and answers.
	waitUntil(t, 15*time.Second, "views to converge", func() bool {
		return hasMember(x, "apt-42", y.ConnID()) && hasMember(y, "apt-42", x.ConnID())
	})
	waitUntil(t, 15*time.Second, "x->y connected", func() bool {
		st, ok := x.Call().PeerState(y.ConnID())
		return ok && st == StateConnected
	})
	waitUntil(t, 15*time.Second, "y->x connected", func() bool {
		st, ok := y.Call().PeerState(x.ConnID())
		return ok && st == StateConnected
	})
	waitUntil(t, 15*time.Second, "media flowing both ways", func() bool {
		return len(x.Call().RemoteTracks(y.ConnID())) > 0 &&
			len(y.Call().RemoteTracks(x.ConnID())) > 0
	})

	x.Leave("apt-42")

	// Y observes the departure, its session toward X closes and the remote
	// stream entry disappears.
	waitUntil(t, 15*time.Second, "y forgets x", func() bool {
		if hasMember(y, "apt-42", x.ConnID()) {
			return false
		}
		_, ok := y.Call().PeerState(x.ConnID())
		return !ok && len(y.Call().RemoteTracks(x.ConnID())) == 0
	})

	// X closed its own side on leave too.
	if _, ok := x.Call().PeerState(y.ConnID()); ok {
		t.Error("leaving must close the sessions toward that room")
	}
	if hasMember(x, "apt-42", y.ConnID()) {
		t.Error("leaving must drop the local room view")
	}
}

func TestLateJoinerSeesIdentifiedSnapshot(t *testing.T) {
	url := newTestStack(t)

	x := newTestClient(t, url, "dr-lee")
	x.Join("apt-42")

	y := newTestClient(t, url, "pat-9")
	y.Join("apt-42")
	waitUntil(t, 15*time.Second, "y to see x", func() bool {
		return hasMember(y, "apt-42", x.ConnID())
	})

	for _, m := range y.Members("apt-42") {
		if m.Conn == x.ConnID() && m.User != "dr-lee" {
			t.Errorf("snapshot should carry the identity, got %q", m.User)
		}
	}
}

func TestDialMediaDenied(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/api/ws/signal", "dr-lee",
		StaticCapture{Err: ErrMediaAccessDenied}, nil)
	if !errors.Is(err, ErrMediaAccessDenied) {
		t.Fatalf("expected ErrMediaAccessDenied, got %v", err)
	}
}
