package room

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/skirmish-backend/internal/engine"
)

func firstSeat() float64  { return 0 }
func secondSeat() float64 { return 0.99 }

func startedRoom(t *testing.T, capacity int) *Room {
	t.Helper()
	r := New("room-1", capacity)
	require.True(t, r.Start(firstSeat))
	return r
}

func endTurn(r *Room) Envelope {
	return Envelope{
		ExpectedTurn: r.Game.Turn,
		Command:      engine.Command{Actor: r.Game.ActivePlayer, Intent: engine.EndTurn{}},
	}
}

func TestStart_PicksSeatFromRandomSource(t *testing.T) {
	r := New("room-1", 0)
	require.True(t, r.Start(secondSeat))
	assert.Equal(t, engine.PlayerID("p2"), r.Game.ActivePlayer)
	assert.Equal(t, LifecycleStarted, r.Lifecycle)

	assert.False(t, r.Start(firstSeat), "second start must be a no-op")
	assert.Equal(t, engine.PlayerID("p2"), r.Game.ActivePlayer)
}

func TestHandleIntent_RejectsBeforeStart(t *testing.T) {
	r := New("room-1", 0)

	_, err := r.HandleIntent(endTurn(r))
	assert.True(t, errors.Is(err, engine.ErrPhaseMismatch), "got %v", err)
	assert.Zero(t, r.Seq)
}

func TestHandleIntent_TurnGate(t *testing.T) {
	r := startedRoom(t, 0)

	// Even a command the engine would reject is reported as a stale turn.
	_, err := r.HandleIntent(Envelope{
		ExpectedTurn: 7,
		Command:      engine.Command{Actor: "p2", Intent: engine.Move{PieceID: "nope"}},
	})
	assert.True(t, errors.Is(err, ErrTurnMismatch), "got %v", err)
	assert.Zero(t, r.Seq)
}

func TestHandleIntent_SurfacesEngineReason(t *testing.T) {
	r := startedRoom(t, 0)

	_, err := r.HandleIntent(Envelope{
		ExpectedTurn: 1,
		Command:      engine.Command{Actor: "p2", Intent: engine.EndTurn{}},
	})
	assert.True(t, errors.Is(err, engine.ErrNotActivePlayer), "got %v", err)
	assert.Zero(t, r.Seq)
	assert.Zero(t, r.log.Len())
}

func TestHandleIntent_MoveAssignsFirstSeq(t *testing.T) {
	r := startedRoom(t, 0)

	events, err := r.HandleIntent(Envelope{
		ExpectedTurn: 1,
		Command: engine.Command{
			Actor:  "p1",
			Intent: engine.Move{PieceID: "p1_ameba_0_0", To: engine.Coord{X: 0, Y: 1}},
		},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, engine.EvtPieceMoved, events[0].Event.EventType())
	assert.Equal(t, uint64(1), r.Seq)
}

func TestHandleIntent_SequenceIsGapless(t *testing.T) {
	r := startedRoom(t, 0)

	var last uint64
	for i := 0; i < 10; i++ {
		events, err := r.HandleIntent(endTurn(r))
		require.NoError(t, err)
		for _, evt := range events {
			require.Equal(t, last+1, evt.Seq)
			last = evt.Seq
		}
	}
	assert.Equal(t, last, r.Seq)
}

func TestHandleIntent_FinishesRoom(t *testing.T) {
	r := startedRoom(t, 0)
	r.Game.Pieces = []engine.Piece{
		engine.NewPiece("p1", engine.KindGoblin, engine.Coord{X: 3, Y: 3}),
		engine.NewPiece("p2", engine.KindAmeba, engine.Coord{X: 3, Y: 4}),
	}

	events, err := r.HandleIntent(Envelope{
		ExpectedTurn: 1,
		Command: engine.Command{
			Actor:  "p1",
			Intent: engine.Move{PieceID: "p1_goblin_3_3", To: engine.Coord{X: 3, Y: 4}},
		},
	})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, engine.EvtGameFinished, events[2].Event.EventType())
	assert.Equal(t, LifecycleFinished, r.Lifecycle)

	_, err = r.HandleIntent(endTurn(r))
	assert.True(t, errors.Is(err, engine.ErrPhaseMismatch), "finished rooms reject intents, got %v", err)
}

func TestPlanResync(t *testing.T) {
	r := startedRoom(t, 4)
	for i := 0; i < 6; i++ {
		_, err := r.HandleIntent(endTurn(r))
		require.NoError(t, err)
	}
	// seq 6, buffer holds 3..6

	cases := []struct {
		name     string
		fromSeq  uint64
		wantMode ResyncMode
		wantSeqs []uint64
	}{
		{name: "current", fromSeq: 6, wantMode: ResyncNone},
		{name: "ahead of authority", fromSeq: 9, wantMode: ResyncSnapshot},
		{name: "one behind", fromSeq: 5, wantMode: ResyncEvents, wantSeqs: []uint64{6}},
		{name: "edge of buffer", fromSeq: 2, wantMode: ResyncEvents, wantSeqs: []uint64{3, 4, 5, 6}},
		{name: "beyond buffer", fromSeq: 1, wantMode: ResyncSnapshot},
		{name: "from scratch", fromSeq: 0, wantMode: ResyncSnapshot},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := r.PlanResync(tc.fromSeq)
			require.Equal(t, tc.wantMode, plan.Mode)
			var seqs []uint64
			for _, evt := range plan.Events {
				seqs = append(seqs, evt.Seq)
			}
			assert.Equal(t, tc.wantSeqs, seqs)
		})
	}
}

func TestPlanResync_FreshRoom(t *testing.T) {
	r := startedRoom(t, 0)
	assert.Equal(t, ResyncNone, r.PlanResync(0).Mode)
	assert.Equal(t, ResyncSnapshot, r.PlanResync(1).Mode)
}

func TestReset_ReturnsToSentinel(t *testing.T) {
	r := startedRoom(t, 0)
	_, err := r.HandleIntent(endTurn(r))
	require.NoError(t, err)

	r.Reset()
	assert.Equal(t, UninitializedID, r.ID)
	assert.Zero(t, r.Seq)
	assert.Equal(t, LifecycleWaiting, r.Lifecycle)
	assert.Zero(t, r.log.Len())
	assert.Equal(t, 1, r.Game.Turn)

	assert.True(t, r.Reopen("room-1"))
	assert.Equal(t, "room-1", r.ID)
	assert.False(t, r.Reopen("room-2"))
}

func TestSequencedEventJSON(t *testing.T) {
	in := SequencedEvent{Seq: 4, Event: engine.TurnEnded{NextSeat: "p2", NextTurnNo: 3}}
	raw, err := in.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":4,"event":{"type":"TurnEnded","nextSeat":"p2","nextTurnNo":3}}`, string(raw))

	var out SequencedEvent
	require.NoError(t, out.UnmarshalJSON(raw))
	assert.Equal(t, in, out)
}
