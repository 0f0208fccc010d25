package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/skirmish-backend/internal/session"
	"github.com/DoyleJ11/skirmish-backend/internal/types"
)

type stubConn struct {
	id string

	mu     sync.Mutex
	closed chan string
}

func newStubConn(id string) *stubConn {
	return &stubConn{id: id, closed: make(chan string, 1)}
}

func (c *stubConn) ID() string                    { return c.id }
func (c *stubConn) Send(types.ServerMessage) error { return nil }

func (c *stubConn) Close(_ session.CloseCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case c.closed <- reason:
	default:
	}
	return nil
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(context.Background(), session.Options{Logger: zaptest.NewLogger(t)})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

func count(t *testing.T, h *Hub) int {
	t.Helper()
	n, err := h.Count(testCtx(t))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	h := newTestHub(t)
	ctx := testCtx(t)

	s1, err := h.Create(ctx, "ZED123")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s2, err := h.Get(ctx, "ZED123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if s1 == nil || s2 == nil || s1 != s2 {
		t.Fatalf("expected same session pointer")
	}
	if s1.ID() != "ZED123" {
		t.Fatalf("want id ZED123, got %q", s1.ID())
	}
}

func TestHub_GetMissingRoomIsNil(t *testing.T) {
	h := newTestHub(t)

	s, err := h.Get(testCtx(t), "NOPE")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil for unknown room, got %v", s.ID())
	}
}

func TestHub_JoinCreatesOnceAndRegisters(t *testing.T) {
	h := newTestHub(t)
	ctx := testCtx(t)

	s1, err := h.Join(ctx, "room-a", newStubConn("c1"))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	s2, err := h.Join(ctx, "room-a", newStubConn("c2"))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("join created a second session for the same id")
	}
	if _, err := h.Join(ctx, "room-b", newStubConn("c3")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if n := count(t, h); n != 2 {
		t.Fatalf("want 2 rooms, got %d", n)
	}

	reply := make(chan session.View, 1)
	if err := s1.Post(ctx, session.GetState{Reply: reply}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if v := <-reply; v.NumConns != 2 {
		t.Fatalf("want 2 connections in room-a, got %d", v.NumConns)
	}
}

func TestHub_RemoveStopsSession(t *testing.T) {
	h := newTestHub(t)
	s, err := h.Create(testCtx(t), "room-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h.Inbox() <- RemoveRoom{ID: "room-a"}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("removed session still running")
	}
	if n := count(t, h); n != 0 {
		t.Fatalf("want 0 rooms, got %d", n)
	}
}

func TestHub_DestroyedRoomIsEvicted(t *testing.T) {
	h := newTestHub(t)
	ctx := testCtx(t)
	conn := newStubConn("c1")

	s, err := h.Join(ctx, "room-a", conn)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Post(ctx, session.Inbound{ConnID: "c1", Message: types.Hello{PlayerID: "p1"}}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := s.Post(ctx, session.Inbound{ConnID: "c1", Message: types.Admin{Action: types.ActionDestroyRoom}}); err != nil {
		t.Fatalf("post: %v", err)
	}

	select {
	case reason := <-conn.closed:
		if reason != session.CloseReasonRoomDestroyed {
			t.Fatalf("want %s, got %s", session.CloseReasonRoomDestroyed, reason)
		}
	case <-time.After(time.Second):
		t.Fatalf("connection was not closed")
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("destroyed room was not retired")
	}
	if n := count(t, h); n != 0 {
		t.Fatalf("want 0 rooms after eviction, got %d", n)
	}

	fresh, err := h.Join(ctx, "room-a", newStubConn("c2"))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if fresh == s {
		t.Fatalf("retired session was handed out again")
	}
}

func TestHub_ShutdownStopsEverything(t *testing.T) {
	h := newTestHub(t)
	s, err := h.Create(testCtx(t), "room-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := h.Shutdown(testCtx(t)); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case <-s.Done():
	default:
		t.Fatalf("session survived hub shutdown")
	}
	if _, err := h.Get(context.Background(), "room-a"); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("want ErrHubClosed from Get after shutdown, got %v", err)
	}
	if _, err := h.Create(context.Background(), "room-b"); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("want ErrHubClosed from Create after shutdown, got %v", err)
	}
	if _, err := h.Join(context.Background(), "room-b", newStubConn("c1")); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("want ErrHubClosed from Join after shutdown, got %v", err)
	}
}
