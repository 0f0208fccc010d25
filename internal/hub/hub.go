package hub

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/skirmish-backend/internal/session"
)

var ErrHubClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	ID    string
	Reply chan *session.Session
}

type GetRoom struct {
	ID    string
	Reply chan *session.Session
}

// JoinRoom ensures the room for ID and registers Conn with it before
// replying, so a retirement can never slip in between the two.
type JoinRoom struct {
	ID    string
	Conn  session.Conn
	Reply chan *session.Session
}

// RemoveRoom drops a room. With Session set the room is only removed if it
// is still that session and the session agrees it is idle.
type RemoveRoom struct {
	ID      string
	Session *session.Session
}

type CountRooms struct {
	Reply chan int
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (JoinRoom) isHubMsg()    {}
func (RemoveRoom) isHubMsg()  {}
func (CountRooms) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

// Hub owns the room id -> session registry.
type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*session.Session
	opts   session.Options
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(parent context.Context, opts session.Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*session.Session),
		log:    opts.Logger.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	opts.OnIdle = h.evict
	h.opts = opts
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub has stopped and every room has shut down.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) Get(ctx context.Context, id string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	return request(ctx, h, GetRoom{ID: id, Reply: reply}, reply)
}

func (h *Hub) Create(ctx context.Context, id string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	return request(ctx, h, CreateRoom{ID: id, Reply: reply}, reply)
}

func (h *Hub) Join(ctx context.Context, id string, conn session.Conn) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	s, err := request(ctx, h, JoinRoom{ID: id, Conn: conn, Reply: reply}, reply)
	if err == nil && s == nil {
		return nil, ErrHubClosed
	}
	return s, err
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	return request(ctx, h, CountRooms{Reply: reply}, reply)
}

// request sends m and waits for its reply, giving up once the hub has
// stopped or ctx is done.
func request[T any](ctx context.Context, h *Hub, m HubMsg, reply chan T) (T, error) {
	var zero T
	select {
	case <-h.done:
		return zero, ErrHubClosed
	default:
	}
	select {
	case h.inbox <- m:
	case <-h.done:
		return zero, ErrHubClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-h.done:
		return zero, ErrHubClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Shutdown stops every room and waits for them, or for ctx.
func (h *Hub) Shutdown(ctx context.Context) error {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				msg.Reply <- h.ensure(msg.ID)

			case GetRoom:
				msg.Reply <- h.rooms[msg.ID] // may be nil

			case JoinRoom:
				s := h.ensure(msg.ID)
				if err := s.Post(h.ctx, session.Connect{Conn: msg.Conn}); err != nil {
					h.log.Warn("join failed", zap.String("room_id", msg.ID), zap.Error(err))
					delete(h.rooms, msg.ID)
					msg.Reply <- nil
					break
				}
				msg.Reply <- s

			case RemoveRoom:
				h.remove(msg)

			case CountRooms:
				msg.Reply <- len(h.rooms)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) ensure(id string) *session.Session {
	if s := h.rooms[id]; s != nil {
		return s
	}
	s := session.New(h.ctx, id, h.opts)
	h.rooms[id] = s
	h.log.Info("room created", zap.String("room_id", id))
	return s
}

func (h *Hub) remove(msg RemoveRoom) {
	s := h.rooms[msg.ID]
	if s == nil || (msg.Session != nil && msg.Session != s) {
		return
	}

	if msg.Session == nil {
		delete(h.rooms, msg.ID)
		_ = s.Post(h.ctx, session.Shutdown{})
		h.log.Info("room removed", zap.String("room_id", msg.ID))
		return
	}

	reply := make(chan bool, 1)
	if err := s.Post(h.ctx, session.Retire{Reply: reply}); err != nil {
		delete(h.rooms, msg.ID)
		return
	}
	select {
	case retired := <-reply:
		if !retired {
			return
		}
	case <-s.Done():
	case <-h.ctx.Done():
		return
	}
	delete(h.rooms, msg.ID)
	h.log.Info("idle room evicted", zap.String("room_id", msg.ID))
}

// evict runs on a session goroutine, so it hands off without blocking.
func (h *Hub) evict(s *session.Session) {
	go func() {
		select {
		case h.inbox <- RemoveRoom{ID: s.ID(), Session: s}:
		case <-h.done:
		}
	}()
}

func (h *Hub) shutdown() {
	h.cancel()
	for _, s := range h.rooms {
		<-s.Done()
	}
	h.log.Info("hub stopped", zap.Int("rooms", len(h.rooms)))
	clear(h.rooms)
}
