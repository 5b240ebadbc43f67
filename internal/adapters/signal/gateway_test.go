package signal_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	router "github.com/medbridge/callcore/internal/adapters/http"
	"github.com/medbridge/callcore/internal/adapters/signal"
	"github.com/medbridge/callcore/internal/app"
	"github.com/medbridge/callcore/internal/config"
	"github.com/medbridge/callcore/internal/protocol"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:         "release",
		Secret:       "test-secret",
		ReadLimit:    32768,
		PingPeriod:   54 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   32,
		JoinLimit:    10,
		JoinInterval: time.Minute,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *app.RoomRegistry) {
	t.Helper()
	conns := app.NewRegistry()
	rooms := app.NewRoomRegistry(app.NewMemStore(), conns)
	relay := app.NewRelay(conns)
	ctl := signal.NewController(cfg, conns, rooms, relay)

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, ctl))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, rooms
}

func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	w := readMessage[protocol.Welcome](t, ws)
	if w.ConnectionID == "" {
		t.Fatal("welcome without connection id")
	}
	return ws, w.ConnectionID
}

// readMessage reads frames until one decodes to T, failing on timeout.
func readMessage[T any](t *testing.T, ws *websocket.Conn) T {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = ws.SetReadDeadline(deadline)
		_, data, err := ws.ReadMessage()
		if err != nil {
			var zero T
			t.Fatalf("read (waiting for %T): %v", zero, err)
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if m, ok := msg.(T); ok {
			return m
		}
	}
}

func sendJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func join(t *testing.T, ws *websocket.Conn, room, user string) {
	t.Helper()
	sendJSON(t, ws, protocol.Join{Type: protocol.TypeJoin, RoomID: room, UserID: user})
}

func TestJoinFlow(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	wsX, idX := dial(t, srv)
	join(t, wsX, "apt-42", "dr-lee")
	snap := readMessage[protocol.RoomMembers](t, wsX)
	if len(snap.Members) != 0 {
		t.Errorf("first joiner should see an empty room, got %v", snap.Members)
	}

	wsY, idY := dial(t, srv)
	join(t, wsY, "apt-42", "pat-9")
	snap = readMessage[protocol.RoomMembers](t, wsY)
	if len(snap.Members) != 1 || snap.Members[0].ConnectionID != idX {
		t.Errorf("second joiner should see [%s], got %v", idX, snap.Members)
	}
	if snap.Members[0].UserID != "dr-lee" {
		t.Errorf("snapshot should carry the identity, got %q", snap.Members[0].UserID)
	}

	ev := readMessage[protocol.MemberEvent](t, wsX)
	if ev.Type != protocol.TypeMemberJoined || ev.ConnectionID != idY || ev.UserID != "pat-9" {
		t.Errorf("unexpected arrival event: %+v", ev)
	}
}

func TestRelayRewritesForgedFrom(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	wsA, idA := dial(t, srv)
	wsB, idB := dial(t, srv)

	sendJSON(t, wsA, protocol.SignalEnvelope{
		Type:  protocol.TypeSignalOffer,
		To:    idB,
		From:  "forged-id",
		Offer: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})

	env := readMessage[protocol.SignalEnvelope](t, wsB)
	if env.From != idA {
		t.Errorf("recipient must see the true sender %s, got %q", idA, env.From)
	}
}

func TestStaleTargetDroppedSilently(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	wsZ, _ := dial(t, srv)
	sendJSON(t, wsZ, protocol.SignalEnvelope{
		Type:      protocol.TypeSignalICE,
		To:        "stale-id",
		Candidate: json.RawMessage(`{"candidate":"candidate:1"}`),
	})

	// The connection must stay healthy: no error reply, ping still answered.
	sendJSON(t, wsZ, protocol.Ping{Type: protocol.TypePing})
	readMessage[protocol.Pong](t, wsZ)
}

func TestIdentifyOverwritesIdentity(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	wsX, idX := dial(t, srv)
	sendJSON(t, wsX, protocol.Identify{Type: protocol.TypeIdentify, UserID: "dr-lee"})
	join(t, wsX, "apt-42", "")
	readMessage[protocol.RoomMembers](t, wsX)

	wsY, _ := dial(t, srv)
	join(t, wsY, "apt-42", "pat-9")
	snap := readMessage[protocol.RoomMembers](t, wsY)
	if len(snap.Members) != 1 || snap.Members[0].ConnectionID != idX || snap.Members[0].UserID != "dr-lee" {
		t.Errorf("expected identified member, got %v", snap.Members)
	}
}

func TestAbruptDisconnectBroadcastsDeparture(t *testing.T) {
	srv, rooms := newTestServer(t, testConfig())

	wsX, idX := dial(t, srv)
	join(t, wsX, "apt-42", "dr-lee")
	readMessage[protocol.RoomMembers](t, wsX)

	wsY, _ := dial(t, srv)
	join(t, wsY, "apt-42", "pat-9")
	readMessage[protocol.RoomMembers](t, wsY)

	wsX.Close()

	ev := readMessage[protocol.MemberEvent](t, wsY)
	if ev.Type != protocol.TypeMemberLeft || ev.ConnectionID != idX {
		t.Errorf("unexpected departure event: %+v", ev)
	}

	members, ok := rooms.Members("apt-42")
	if !ok || len(members) != 1 {
		t.Errorf("room should hold only the survivor, got %v", members)
	}
}

func TestLeaveIsIdempotentOverWire(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	ws, _ := dial(t, srv)
	sendJSON(t, ws, protocol.Leave{Type: protocol.TypeLeave, RoomID: "apt-42"})

	// No error; the connection keeps working.
	sendJSON(t, ws, protocol.Ping{Type: protocol.TypePing})
	readMessage[protocol.Pong](t, ws)
}

func TestJoinRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.JoinLimit = 2
	srv, rooms := newTestServer(t, cfg)

	ws, _ := dial(t, srv)
	join(t, ws, "apt-1", "u")
	readMessage[protocol.RoomMembers](t, ws)
	join(t, ws, "apt-2", "u")
	readMessage[protocol.RoomMembers](t, ws)
	join(t, ws, "apt-3", "u")

	// The third join is dropped: the connection stays alive but no room forms.
	sendJSON(t, ws, protocol.Ping{Type: protocol.TypePing})
	readMessage[protocol.Pong](t, ws)
	if got := rooms.Rooms(); len(got) != 2 {
		t.Errorf("expected the third join to be rate limited, rooms: %v", got)
	}
}
