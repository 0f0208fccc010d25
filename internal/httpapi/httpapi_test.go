package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/skirmish-backend/internal/client"
	"github.com/DoyleJ11/skirmish-backend/internal/engine"
	"github.com/DoyleJ11/skirmish-backend/internal/hub"
	"github.com/DoyleJ11/skirmish-backend/internal/room"
	"github.com/DoyleJ11/skirmish-backend/internal/session"
	"github.com/DoyleJ11/skirmish-backend/internal/types"
)

const testToken = "s3cret"

func newTestServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	srv, _ := newTestServerWithHub(t, token)
	return srv
}

func newTestServerWithHub(t *testing.T, token string) (*httptest.Server, *hub.Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// Socket handlers outlive the test body, so they must not log through t.
	log := zap.NewNop()
	h := hub.NewHub(ctx, session.Options{
		Logger: log,
		Random: func() float64 { return 0 },
	})
	srv := httptest.NewServer(SetupRoutes(h, Options{Logger: log, BearerToken: token}))
	t.Cleanup(srv.Close)
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server, roomID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms/" + roomID
	if token != "" {
		url += "?token=" + token
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func send(t *testing.T, c *websocket.Conn, msg types.ClientMessage) {
	t.Helper()
	raw, err := types.EncodeClient(msg)
	require.NoError(t, err)
	sendRaw(t, c, raw)
}

func sendRaw(t *testing.T, c *websocket.Conn, raw []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, raw))
}

// recv only belongs where a frame is expected: a timed out read closes the
// socket.
func recv(t *testing.T, c *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	msg, err := types.Decode(data)
	require.NoError(t, err)
	return msg
}

func recvInto(t *testing.T, c *websocket.Conn, rep *client.Replica) types.ServerMessage {
	t.Helper()
	msg := recv(t, c)
	rep.Apply(msg)
	return msg
}

func TestHealthz_IsPublic(t *testing.T) {
	srv := newTestServer(t, testToken)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string `json:"status"`
		Rooms  int    `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Zero(t, body.Rooms)
}

func TestCreateRoom(t *testing.T) {
	srv := newTestServer(t, testToken)

	resp, err := http.Post(srv.URL+"/rooms", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/rooms", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.RoomID, 6)
}

func TestCreateRoom_AfterHubShutdown(t *testing.T) {
	srv, h := newTestServerWithHub(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	cl := &http.Client{Timeout: 2 * time.Second}
	resp, err := cl.Post(srv.URL+"/rooms", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = cl.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebsocket_RequiresToken(t *testing.T) {
	srv := newTestServer(t, testToken)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms/room-1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	c := dial(t, srv, "room-1", testToken)
	send(t, c, types.Hello{PlayerID: "p1"})
	assert.IsType(t, types.Welcome{}, recv(t, c))
}

func TestMatch_EndToEnd(t *testing.T) {
	srv := newTestServer(t, "")
	c1 := dial(t, srv, "arena", "")
	c2 := dial(t, srv, "arena", "")
	var r1, r2 client.Replica

	send(t, c1, types.Hello{PlayerID: "p1"})
	w := recvInto(t, c1, &r1).(types.Welcome)
	assert.Equal(t, "arena", w.RoomID)
	assert.Equal(t, room.LifecycleWaiting, w.RoomStatus)

	send(t, c2, types.Hello{PlayerID: "p2"})
	recvInto(t, c2, &r2)
	recvInto(t, c1, &r1)
	require.Equal(t, room.LifecycleStarted, r1.RoomStatus)
	require.True(t, r1.MyTurn())
	require.False(t, r2.MyTurn())

	// Garbage is dropped silently; the next frame c1 sees answers the move.
	sendRaw(t, c1, []byte(`{"type":"INTENT","payload":{}}`))
	sendRaw(t, c1, []byte(`not json`))

	send(t, c1, r1.Intent(engine.Move{PieceID: "p1_ameba_0_0", To: engine.Coord{X: 0, Y: 1}}))
	for _, tc := range []struct {
		conn *websocket.Conn
		rep  *client.Replica
	}{{c1, &r1}, {c2, &r2}} {
		evt := recvInto(t, tc.conn, tc.rep).(types.EventMessage)
		assert.Equal(t, uint64(1), evt.Seq)
		assert.Equal(t, engine.EvtPieceMoved, evt.Event.EventType())
	}

	// Stale turn: only the sender hears about it.
	send(t, c1, types.Intent{ExpectedTurn: 9, Command: engine.Command{Actor: "p1", Intent: engine.EndTurn{}}})
	rej := recvInto(t, c1, &r1).(types.Reject)
	assert.Equal(t, room.ErrTurnMismatch, rej.Reason)
	assert.Equal(t, 1, rej.ExpectedTurn)

	send(t, c1, r1.Intent(engine.EndTurn{}))
	recvInto(t, c1, &r1)
	recvInto(t, c2, &r2)
	assert.Equal(t, uint64(2), r2.Seq)
	assert.True(t, r2.MyTurn())
	assert.Equal(t, r1.State, r2.State)

	// Both replicas are current, so an explicit resync answers with the
	// tail from seq 1.
	send(t, c2, types.ResyncRequest{FromSeq: 1})
	evt := recv(t, c2).(types.EventMessage)
	assert.Equal(t, uint64(2), evt.Seq)
}

func TestReconnect_ClosesOlderSocket(t *testing.T) {
	srv := newTestServer(t, "")
	c1 := dial(t, srv, "arena", "")
	send(t, c1, types.Hello{PlayerID: "p1"})
	recv(t, c1)

	c3 := dial(t, srv, "arena", "")
	send(t, c3, types.Hello{PlayerID: "p1"})
	w := recv(t, c3).(types.Welcome)
	assert.Equal(t, engine.PlayerID("p1"), w.You)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c1.Read(ctx)
	require.Error(t, err)

	var closeErr websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, websocket.StatusNormalClosure, closeErr.Code)
	assert.Equal(t, session.CloseReasonReconnected, closeErr.Reason)
}

func TestAdmin_DestroyClosesEveryone(t *testing.T) {
	srv := newTestServer(t, "")
	c1 := dial(t, srv, "arena", "")
	c2 := dial(t, srv, "arena", "")
	send(t, c1, types.Hello{PlayerID: "p1"})
	recv(t, c1)
	send(t, c2, types.Hello{PlayerID: "p2"})
	recv(t, c2)
	recv(t, c1)

	send(t, c2, types.Admin{Action: types.ActionDestroyRoom})
	for _, c := range []*websocket.Conn{c1, c2} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, _, err := c.Read(ctx)
		cancel()
		var closeErr websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "got %v", err)
		assert.Equal(t, session.CloseReasonRoomDestroyed, closeErr.Reason)
	}

	// The room id is reusable straight away, from a fresh game.
	c4 := dial(t, srv, "arena", "")
	send(t, c4, types.Hello{PlayerID: "p1"})
	w := recv(t, c4).(types.Welcome)
	assert.Equal(t, "arena", w.RoomID)
	assert.Zero(t, w.Seq)
	assert.Equal(t, room.LifecycleWaiting, w.RoomStatus)
}
