package room

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/DoyleJ11/skirmish-backend/internal/engine"
)

// DefaultLogCapacity is how many sequenced events a room keeps for resync.
const DefaultLogCapacity = 64

// UninitializedID is the sentinel id of a room that has been reset.
const UninitializedID = "uninitialized"

// ErrTurnMismatch rejects an intent sent against a stale turn number.
const ErrTurnMismatch engine.Reason = "TURN_MISMATCH"

type Lifecycle string

const (
	LifecycleWaiting  Lifecycle = "waiting"
	LifecycleStarted  Lifecycle = "started"
	LifecycleFinished Lifecycle = "finished"
)

// RandomSource returns a uniform value in [0, 1).
type RandomSource func() float64

// DefaultRandom is the production random source.
var DefaultRandom RandomSource = rand.Float64

type SequencedEvent struct {
	Seq   uint64
	Event engine.Event
}

type sequencedEventJSON struct {
	Seq   uint64          `json:"seq"`
	Event json.RawMessage `json:"event"`
}

func (e SequencedEvent) MarshalJSON() ([]byte, error) {
	raw, err := engine.MarshalEvent(e.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sequencedEventJSON{Seq: e.Seq, Event: raw})
}

func (e *SequencedEvent) UnmarshalJSON(data []byte) error {
	var raw sequencedEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	evt, err := engine.UnmarshalEvent(raw.Event)
	if err != nil {
		return err
	}
	e.Seq, e.Event = raw.Seq, evt
	return nil
}

// Envelope is an intent as a client submits it: the command plus the turn
// number the client believed was current.
type Envelope struct {
	ExpectedTurn int
	Command      engine.Command
}

// Room is the authoritative state of one match. It is not safe for
// concurrent use; a single session goroutine owns it.
type Room struct {
	ID        string
	Seq       uint64
	Game      engine.State
	Lifecycle Lifecycle
	log       *EventLog
}

func New(id string, logCapacity int) *Room {
	if logCapacity <= 0 {
		logCapacity = DefaultLogCapacity
	}
	return &Room{
		ID:        id,
		Game:      engine.NewInitialState(),
		Lifecycle: LifecycleWaiting,
		log:       NewEventLog(logCapacity),
	}
}

// Snapshot is a point-in-time copy used for WELCOME and SYNC.
type Snapshot struct {
	RoomID    string
	Seq       uint64
	State     engine.State
	Lifecycle Lifecycle
}

func (r *Room) Snapshot() Snapshot {
	return Snapshot{RoomID: r.ID, Seq: r.Seq, State: r.Game.Clone(), Lifecycle: r.Lifecycle}
}

// ResolvePlayer matches a raw identity against the configured seats.
func (r *Room) ResolvePlayer(raw string) (engine.PlayerID, bool) {
	id := engine.PlayerID(raw)
	return id, r.Game.HasSeat(id)
}

// Start moves a waiting room to started and picks the first active seat.
// It is a no-op once the room has left waiting.
func (r *Room) Start(random RandomSource) bool {
	if r.Lifecycle != LifecycleWaiting {
		return false
	}
	if random == nil {
		random = DefaultRandom
	}
	first, second := r.Game.Players[0], r.Game.Players[1]
	r.Game = r.Game.Clone()
	if random() < 0.5 {
		r.Game.ActivePlayer = first
	} else {
		r.Game.ActivePlayer = second
	}
	r.Lifecycle = LifecycleStarted
	return true
}

// HandleIntent gates env by lifecycle and turn, runs it through the engine
// and, on success, sequences and logs the produced events. On rejection the
// room is unchanged and the error is an engine.Reason.
func (r *Room) HandleIntent(env Envelope) ([]SequencedEvent, error) {
	if r.Lifecycle != LifecycleStarted {
		return nil, engine.ErrPhaseMismatch
	}
	if env.ExpectedTurn != r.Game.Turn {
		return nil, ErrTurnMismatch
	}

	events, next, err := engine.Apply(r.Game, env.Command)
	if err != nil {
		return nil, err
	}

	sequenced := make([]SequencedEvent, len(events))
	for i, evt := range events {
		sequenced[i] = SequencedEvent{Seq: r.Seq + uint64(i) + 1, Event: evt}
	}
	r.log.Append(sequenced...)
	r.Seq += uint64(len(sequenced))
	r.Game = next
	if next.Status == engine.StatusFinished {
		r.Lifecycle = LifecycleFinished
	}
	return sequenced, nil
}

type ResyncMode string

const (
	ResyncNone     ResyncMode = "none"
	ResyncEvents   ResyncMode = "events"
	ResyncSnapshot ResyncMode = "snapshot"
)

type ResyncPlan struct {
	Mode   ResyncMode
	Events []SequencedEvent
}

// PlanResync decides how to bring a client that last saw fromSeq up to date.
func (r *Room) PlanResync(fromSeq uint64) ResyncPlan {
	if fromSeq == r.Seq {
		return ResyncPlan{Mode: ResyncNone}
	}
	// A client ahead of the authority is never trusted.
	if fromSeq > r.Seq {
		return ResyncPlan{Mode: ResyncSnapshot}
	}

	oldest := r.Seq + 1
	if evt, ok := r.log.Oldest(); ok {
		oldest = evt.Seq
	}
	if fromSeq+1 < oldest {
		return ResyncPlan{Mode: ResyncSnapshot}
	}
	return ResyncPlan{Mode: ResyncEvents, Events: r.log.Since(fromSeq)}
}

// Reset discards all progress and returns the room to the sentinel state.
func (r *Room) Reset() {
	r.ID = UninitializedID
	r.Seq = 0
	r.Game = engine.NewInitialState()
	r.Lifecycle = LifecycleWaiting
	r.log.Reset()
}

// Reopen gives a reset room its routed id back. It reports false when the
// room was not in the sentinel state.
func (r *Room) Reopen(id string) bool {
	if r.ID != UninitializedID {
		return false
	}
	r.ID = id
	return true
}

func (l Lifecycle) String() string { return string(l) }

func (p ResyncPlan) String() string {
	return fmt.Sprintf("%s(%d)", p.Mode, len(p.Events))
}
