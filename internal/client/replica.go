// Package client keeps a local copy of a room by folding the server's
// message stream, the way a game client does.
package client

import (
	"github.com/DoyleJ11/skirmish-backend/internal/engine"
	"github.com/DoyleJ11/skirmish-backend/internal/room"
	"github.com/DoyleJ11/skirmish-backend/internal/types"
)

// Replica is not safe for concurrent use.
type Replica struct {
	RoomID     string
	You        engine.PlayerID
	Seq        uint64
	State      engine.State
	RoomStatus room.Lifecycle
	LastReject *types.Reject

	welcomed    bool
	needsResync bool
}

// Apply folds one server message. It reports whether the local state
// changed.
func (r *Replica) Apply(msg types.ServerMessage) bool {
	switch m := msg.(type) {
	case types.Welcome:
		r.RoomID, r.You = m.RoomID, m.You
		r.reset(m.Seq, m.State, m.RoomStatus)
		r.welcomed = true
		return true

	case types.Sync:
		r.reset(m.Seq, m.State, m.RoomStatus)
		return true

	case types.EventMessage:
		if !r.welcomed || m.Seq <= r.Seq {
			return false
		}
		if m.Seq != r.Seq+1 {
			r.needsResync = true
			return false
		}
		r.State = engine.Replay(r.State, []engine.Event{m.Event})
		r.Seq = m.Seq
		if r.State.Status == engine.StatusFinished {
			r.RoomStatus = room.LifecycleFinished
		}
		return true

	case types.Reject:
		rej := m
		r.LastReject = &rej
		return false
	}
	return false
}

// NeedsResync reports that an event was skipped and the replica is stale.
func (r *Replica) NeedsResync() bool { return r.needsResync }

func (r *Replica) ResyncFrom() uint64 { return r.Seq }

func (r *Replica) ResyncRequest() types.ResyncRequest {
	return types.ResyncRequest{FromSeq: r.Seq}
}

// Intent wraps in as this replica's seat against the turn it last saw.
func (r *Replica) Intent(in engine.Intent) types.Intent {
	return types.Intent{
		ExpectedTurn: r.State.Turn,
		Command:      engine.Command{Actor: r.You, Intent: in},
	}
}

func (r *Replica) MyTurn() bool {
	return r.RoomStatus == room.LifecycleStarted && r.State.ActivePlayer == r.You
}

func (r *Replica) reset(seq uint64, state engine.State, status room.Lifecycle) {
	r.Seq = seq
	r.State = state
	r.RoomStatus = status
	r.needsResync = false
}
