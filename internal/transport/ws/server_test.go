package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/annel0/place3d/internal/auth"
	"github.com/annel0/place3d/internal/broadcast"
	"github.com/annel0/place3d/internal/clock"
	"github.com/annel0/place3d/internal/coords"
	"github.com/annel0/place3d/internal/cooldown"
	"github.com/annel0/place3d/internal/leaderboard"
	"github.com/annel0/place3d/internal/placement"
	"github.com/annel0/place3d/internal/protocol"
	"github.com/annel0/place3d/internal/session"
	"github.com/annel0/place3d/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const world = "post_1"

type fixture struct {
	url      string
	srv      *Server
	issuer   *auth.Issuer
	clock    *clock.Manual
	sessions *session.MemorySessions
}

func newFixture(t *testing.T, window time.Duration) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := clock.NewManual(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	sessions := session.NewMemorySessions(clk)
	_, err := sessions.Create(context.Background(), world, nil)
	require.NoError(t, err)

	codec, err := coords.NewCodec(30)
	require.NoError(t, err)
	bus := broadcast.NewMemoryBus(64, 16)
	t.Cleanup(func() { _ = bus.Close() })

	svc, err := placement.NewService(placement.Config{Window: window, LeaderboardTopK: 6}, placement.Deps{
		Sessions: sessions,
		Gate:     cooldown.NewMemoryGate(clk),
		Codec:    codec,
		Grid:     storage.NewMemoryGridStore(),
		Board:    leaderboard.NewMemoryBoard(),
		Bus:      bus,
		Clock:    clk,
		Metrics:  placement.NewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	issuer, err := auth.NewIssuer("", time.Hour)
	require.NoError(t, err)
	ser, err := protocol.NewMessageSerializer()
	require.NoError(t, err)

	srv, err := NewServer(Config{
		Service:    svc,
		Bus:        bus,
		Issuer:     issuer,
		Serializer: ser,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	router := gin.New()
	srv.Register(router)
	hs := httptest.NewServer(router)
	t.Cleanup(hs.Close)

	return &fixture{
		url:      "ws" + strings.TrimPrefix(hs.URL, "http"),
		srv:      srv,
		issuer:   issuer,
		clock:    clk,
		sessions: sessions,
	}
}

func (f *fixture) dial(t *testing.T, worldID, username string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	token, err := f.issuer.Issue(username)
	require.NoError(t, err)
	return websocket.DefaultDialer.Dial(f.url+"/ws/worlds/"+worldID+"?token="+token, nil)
}

func (f *fixture) connect(t *testing.T, username string) *websocket.Conn {
	t.Helper()
	conn, _, err := f.dial(t, world, username)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	msg := read(t, conn)
	require.Equal(t, "world_snapshot", msg["type"])
	assert.Equal(t, username, msg["username"])
	return conn
}

func read(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readReply пропускает cube_update: эхо собственного размещения может
// обогнать ответ на запрос.
func readReply(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	for {
		msg := read(t, conn)
		if msg["type"] != "cube_update" {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func TestRejectsMissingToken(t *testing.T) {
	f := newFixture(t, 20*time.Second)

	_, resp, err := websocket.DefaultDialer.Dial(f.url+"/ws/worlds/"+world, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRejectsUnknownWorld(t *testing.T) {
	f := newFixture(t, 20*time.Second)

	_, resp, err := f.dial(t, "missing", "alice")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPlaceAndFanOut(t *testing.T) {
	f := newFixture(t, 20*time.Second)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	send(t, alice, `{"type":"place","request_id":"a1","position":{"x":1,"y":1,"z":1},"color":"#ff0000"}`)

	ack := readReply(t, alice)
	assert.Equal(t, "placement_accepted", ack["type"])
	assert.Equal(t, "a1", ack["request_id"])
	assert.EqualValues(t, 20, ack["cooldown_seconds"])

	update := read(t, bob)
	require.Equal(t, "cube_update", update["type"])
	cube := update["cube"].(map[string]interface{})
	assert.Equal(t, "alice", cube["placed_by"])
	assert.Equal(t, "#ff0000", cube["color"])
	assert.Equal(t, map[string]interface{}{"x": -14.5, "y": 0.5, "z": -14.5}, cube["world_position"])

	// второе размещение в окне кулдауна
	f.clock.Advance(time.Second)
	send(t, alice, `{"type":"place","request_id":"a2","position":{"x":2,"y":1,"z":1},"color":"#ff0000"}`)
	denied := readReply(t, alice)
	assert.Equal(t, "placement_denied", denied["type"])
	assert.Equal(t, "cooldown_active", denied["reason"])
	assert.EqualValues(t, 19, denied["remaining_seconds"])
}

func TestPingAfterPlacement(t *testing.T) {
	f := newFixture(t, 0)
	alice := f.connect(t, "alice")

	send(t, alice, `{"type":"place","position":{"x":3,"y":3,"z":3},"color":"#00ff00"}`)
	assert.Equal(t, "placement_accepted", readReply(t, alice)["type"])

	send(t, alice, `{"type":"ping"}`)
	assert.Equal(t, "pong", readReply(t, alice)["type"])
}

func TestInvalidMessages(t *testing.T) {
	f := newFixture(t, 20*time.Second)
	alice := f.connect(t, "alice")

	send(t, alice, `not json`)
	assert.Equal(t, "error", read(t, alice)["type"])

	send(t, alice, `{"type":"place","position":{"x":1.5,"y":1,"z":1},"color":"#ff0000"}`)
	assert.Equal(t, "error", read(t, alice)["type"])

	send(t, alice, `{"type":"place","position":{"x":31,"y":1,"z":1},"color":"#ff0000"}`)
	denied := read(t, alice)
	assert.Equal(t, "placement_denied", denied["type"])
	assert.Equal(t, "out_of_bounds", denied["reason"])
}

func TestSnapshotRequestAfterEnd(t *testing.T) {
	f := newFixture(t, 20*time.Second)
	alice := f.connect(t, "alice")

	send(t, alice, `{"type":"place","position":{"x":1,"y":1,"z":1},"color":"#ff0000"}`)
	require.Equal(t, "placement_accepted", readReply(t, alice)["type"])

	_, err := f.sessions.End(context.Background(), world)
	require.NoError(t, err)

	send(t, alice, `{"type":"snapshot_request"}`)
	snap := readReply(t, alice)
	require.Equal(t, "world_snapshot", snap["type"])
	assert.Equal(t, "ended", snap["world_status"])
	assert.Len(t, snap["cubes"], 1)

	send(t, alice, `{"type":"place","position":{"x":2,"y":1,"z":1},"color":"#ff0000"}`)
	assert.Equal(t, "world_ended", readReply(t, alice)["reason"])
}

func TestConnectionGauge(t *testing.T) {
	f := newFixture(t, 20*time.Second)
	alice := f.connect(t, "alice")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.srv.connections))

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.srv.connections) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
