package session

import (
	"context"
	"errors"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/skirmish-backend/internal/engine"
	"github.com/DoyleJ11/skirmish-backend/internal/room"
	"github.com/DoyleJ11/skirmish-backend/internal/types"
)

var ErrClosed = errors.New("session closed")

// CloseCode mirrors the websocket close status sent to a peer.
type CloseCode int

const (
	CloseNormal          CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	ClosePolicyViolation CloseCode = 1008
)

const (
	CloseReasonReconnected   = "RECONNECTED"
	CloseReasonRoomFull      = "ROOM_FULL"
	CloseReasonRoomDestroyed = "ROOM_DESTROYED"
	CloseReasonShutdown      = "SERVER_SHUTDOWN"
)

// Conn is one client connection as seen by a session. Send must not block:
// a transport that cannot keep up drops the connection rather than stall
// the room.
type Conn interface {
	ID() string
	Send(msg types.ServerMessage) error
	Close(code CloseCode, reason string) error
}

type Msg interface{ isSessionMsg() }

// Connect registers a live connection. It holds no seat until it says HELLO.
type Connect struct {
	Conn Conn
}

func (Connect) isSessionMsg() {}

// Disconnect reports that the transport closed a connection.
type Disconnect struct {
	ConnID string
}

func (Disconnect) isSessionMsg() {}

// Inbound carries one decoded client frame.
type Inbound struct {
	ConnID  string
	Message types.ClientMessage
}

func (Inbound) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

// Retire stops the session only if it is idle: no live connections and a
// room that is finished or was destroyed. Reply reports whether it stopped.
type Retire struct {
	Reply chan bool
}

func (Retire) isSessionMsg() {}

type View struct {
	RoomID    string
	Seq       uint64
	Lifecycle room.Lifecycle
	Game      engine.State
	NumConns  int
	Seats     map[engine.PlayerID]string // seat -> conn id
}

type Options struct {
	Logger      *zap.Logger
	Random      room.RandomSource
	LogCapacity int
	InboxSize   int

	// OnIdle is called from the session goroutine when the last connection
	// leaves a finished or destroyed room. It must not block.
	OnIdle func(*Session)
}

type peer struct {
	conn Conn
	seat engine.PlayerID
}

// Session is the single owner of one room. Every mutation happens on its
// loop goroutine, one inbox message at a time.
type Session struct {
	id     string
	inbox  chan Msg
	room   *room.Room
	conns  map[string]*peer
	seats  map[engine.PlayerID]*peer
	random room.RandomSource
	onIdle func(*Session)
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, id string, opts Options) *Session {
	ctx, cancel := context.WithCancel(parent)

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Random == nil {
		opts.Random = room.DefaultRandom
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 64
	}

	s := &Session{
		id:     id,
		inbox:  make(chan Msg, opts.InboxSize),
		room:   room.New(id, opts.LogCapacity),
		conns:  make(map[string]*peer),
		seats:  make(map[engine.PlayerID]*peer),
		random: opts.Random,
		onIdle: opts.OnIdle,
		log:    opts.Logger.With(zap.String("room_id", id)),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.loop()
	return s
}

func (s *Session) ID() string { return s.id }

// Post queues m for the session. It fails once the session has stopped or
// ctx is cancelled, so callers never block on a dead room.
func (s *Session) Post(ctx context.Context, m Msg) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed after the loop has exited and every connection was closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Connect:
				s.connect(msg.Conn)

			case Disconnect:
				s.disconnect(msg.ConnID)

			case Inbound:
				s.handleInbound(msg.ConnID, msg.Message)

			case GetState:
				// test-only: reflect internal state without data races
				msg.Reply <- s.view()

			case Shutdown:
				s.shutdown()
				return

			case Retire:
				if len(s.conns) == 0 && s.retirable() {
					msg.Reply <- true
					s.log.Info("room retired")
					s.shutdown()
					return
				}
				msg.Reply <- false
			}
		}
	}
}

func (s *Session) connect(c Conn) {
	if s.room.Reopen(s.id) {
		s.log.Info("room reopened")
	}
	s.conns[c.ID()] = &peer{conn: c}
	s.log.Debug("connection registered", zap.String("conn_id", c.ID()))
}

func (s *Session) disconnect(connID string) {
	p, ok := s.conns[connID]
	if !ok {
		return
	}
	delete(s.conns, connID)

	// A superseded connection no longer holds its seat.
	if p.seat != "" && s.seats[p.seat] == p {
		delete(s.seats, p.seat)
		s.log.Info("seat released", zap.String("conn_id", connID), zap.String("seat", string(p.seat)))
	}
	s.notifyIfIdle()
}

func (s *Session) handleInbound(connID string, m types.ClientMessage) {
	p, ok := s.conns[connID]
	if !ok {
		s.log.Debug("message from unknown connection dropped", zap.String("conn_id", connID))
		return
	}

	if hello, ok := m.(types.Hello); ok {
		s.handleHello(p, hello.PlayerID)
		return
	}
	if p.seat == "" {
		s.reject(p, types.ErrSeatUnassigned)
		return
	}

	switch msg := m.(type) {
	case types.Intent:
		s.handleIntent(p, msg)
	case types.ResyncRequest:
		s.handleResync(p, msg.FromSeq)
	case types.Admin:
		s.destroy(p)
	default:
		s.log.Warn("unhandled client message", zap.String("type", string(m.MessageType())))
	}
}

func (s *Session) handleHello(p *peer, requested string) {
	seat, ok := s.room.ResolvePlayer(requested)
	if !ok {
		s.reject(p, types.ErrInvalidPlayerID)
		return
	}

	if p.seat != "" {
		if p.seat != seat {
			s.reject(p, types.ErrInvalidPlayerID)
			return
		}
		s.send(p, types.NewWelcome(s.room.Snapshot(), seat))
		return
	}

	// Last claim wins: the previous holder is closed and loses the seat.
	if existing, ok := s.seats[seat]; ok && existing != p {
		s.drop(existing)
		s.close(existing, CloseNormal, CloseReasonReconnected)
		s.log.Info("seat reclaimed",
			zap.String("seat", string(seat)),
			zap.String("old_conn_id", existing.conn.ID()),
			zap.String("conn_id", p.conn.ID()))
	}

	if len(s.seats) >= len(s.room.Game.Players) {
		s.reject(p, types.ErrRoomFull)
		s.drop(p)
		s.close(p, ClosePolicyViolation, CloseReasonRoomFull)
		return
	}

	p.seat = seat
	s.seats[seat] = p

	if len(s.seats) < len(s.room.Game.Players) {
		s.send(p, types.NewWelcome(s.room.Snapshot(), seat))
		return
	}

	if s.room.Start(s.random) {
		s.log.Info("room started", zap.String("active_seat", string(s.room.Game.ActivePlayer)))
	}
	snap := s.room.Snapshot()
	for _, seated := range s.seated() {
		s.send(seated, types.NewWelcome(snap, seated.seat))
	}
}

func (s *Session) handleIntent(p *peer, msg types.Intent) {
	if msg.Command.Actor != p.seat {
		s.reject(p, types.ErrInvalidPlayerID)
		return
	}

	events, err := s.room.HandleIntent(room.Envelope{ExpectedTurn: msg.ExpectedTurn, Command: msg.Command})
	if err != nil {
		var reason engine.Reason
		if !errors.As(err, &reason) {
			s.log.Error("intent failed without a reason", zap.Error(err))
			return
		}
		s.reject(p, reason)
		return
	}

	// State is committed; a failing peer below cannot undo it.
	for _, seated := range s.seated() {
		for _, evt := range events {
			s.send(seated, types.NewEvent(evt))
		}
	}

	s.log.Debug("intent accepted",
		zap.String("seat", string(p.seat)),
		zap.Int("events", len(events)),
		zap.Uint64("seq", s.room.Seq))
	if s.room.Lifecycle == room.LifecycleFinished {
		s.log.Info("room finished", zap.String("winner", string(s.room.Game.Winner)))
	}
}

func (s *Session) handleResync(p *peer, fromSeq uint64) {
	plan := s.room.PlanResync(fromSeq)
	s.log.Debug("resync planned",
		zap.String("conn_id", p.conn.ID()),
		zap.Uint64("from_seq", fromSeq),
		zap.Stringer("plan", plan))

	switch plan.Mode {
	case room.ResyncNone:
	case room.ResyncEvents:
		for _, evt := range plan.Events {
			s.send(p, types.NewEvent(evt))
		}
	case room.ResyncSnapshot:
		s.send(p, types.NewSync(s.room.Snapshot()))
	}
}

func (s *Session) destroy(by *peer) {
	s.log.Info("room destroyed", zap.String("seat", string(by.seat)), zap.Uint64("seq", s.room.Seq))
	s.room.Reset()
	if err := s.closeAll(CloseNormal, CloseReasonRoomDestroyed); err != nil {
		s.log.Warn("closing connections after destroy", zap.Error(err))
	}
	s.notifyIfIdle()
}

// drop forgets a connection the session is closing itself. Anything it
// still sends, and its eventual Disconnect, find no connection.
func (s *Session) drop(p *peer) {
	delete(s.conns, p.conn.ID())
	if p.seat != "" && s.seats[p.seat] == p {
		delete(s.seats, p.seat)
	}
	p.seat = ""
}

func (s *Session) retirable() bool {
	return s.room.ID == room.UninitializedID || s.room.Lifecycle == room.LifecycleFinished
}

func (s *Session) notifyIfIdle() {
	if s.onIdle != nil && len(s.conns) == 0 && s.retirable() {
		s.onIdle(s)
	}
}

func (s *Session) shutdown() {
	if err := s.closeAll(CloseGoingAway, CloseReasonShutdown); err != nil {
		s.log.Warn("closing connections on shutdown", zap.Error(err))
	}
	s.cancel()
}

func (s *Session) closeAll(code CloseCode, reason string) error {
	var err error
	for id, p := range s.conns {
		err = multierr.Append(err, p.conn.Close(code, reason))
		delete(s.conns, id)
	}
	clear(s.seats)
	return err
}

// seated returns the seated peers in seat order.
func (s *Session) seated() []*peer {
	out := make([]*peer, 0, len(s.seats))
	for _, seat := range s.room.Game.Players {
		if p, ok := s.seats[seat]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) reject(p *peer, reason engine.Reason) {
	s.log.Debug("rejected",
		zap.String("conn_id", p.conn.ID()),
		zap.String("reason", string(reason)))
	s.send(p, types.Reject{Reason: reason, ExpectedTurn: s.room.Game.Turn})
}

func (s *Session) send(p *peer, msg types.ServerMessage) {
	if err := p.conn.Send(msg); err != nil {
		s.log.Warn("send failed",
			zap.String("conn_id", p.conn.ID()),
			zap.String("type", string(msg.MessageType())),
			zap.Error(err))
	}
}

func (s *Session) close(p *peer, code CloseCode, reason string) {
	if err := p.conn.Close(code, reason); err != nil {
		s.log.Warn("close failed", zap.String("conn_id", p.conn.ID()), zap.Error(err))
	}
}

func (s *Session) view() View {
	seats := make(map[engine.PlayerID]string, len(s.seats))
	for seat, p := range s.seats {
		seats[seat] = p.conn.ID()
	}
	return View{
		RoomID:    s.room.ID,
		Seq:       s.room.Seq,
		Lifecycle: s.room.Lifecycle,
		Game:      s.room.Game.Clone(),
		NumConns:  len(s.conns),
		Seats:     seats,
	}
}
