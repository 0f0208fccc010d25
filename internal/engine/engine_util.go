package engine

import (
	"fmt"
	"slices"
	"strings"
)

func NewInitialState() State {
	return State{
		Turn:              1,
		Players:           [2]PlayerID{"p1", "p2"},
		ActivePlayer:      "p1",
		Phase:             PhaseMain,
		Status:            StatusInProgress,
		TurnState:         TurnState{MovedPieceIDs: []PieceID{}},
		PendingSuccessors: []PendingSuccessor{},
		Pieces: []Piece{
			NewPiece("p1", KindAmeba, Coord{X: 0, Y: 0}),
			NewPiece("p1", KindGoblin, Coord{X: 1, Y: 0}),
			NewPiece("p1", KindSoldier, Coord{X: 2, Y: 0}),
			NewPiece("p2", KindAmeba, Coord{X: 6, Y: 6}),
			NewPiece("p2", KindGoblin, Coord{X: 5, Y: 6}),
			NewPiece("p2", KindSoldier, Coord{X: 4, Y: 6}),
		},
	}
}

// NewPiece builds a full-health piece with the kind's base stats.
func NewPiece(owner PlayerID, kind CreatureKind, at Coord) Piece {
	stats := BaseStats[kind]
	return Piece{
		ID:        PieceID(fmt.Sprintf("%s_%s_%d_%d", owner, kind.slug(), at.X, at.Y)),
		Owner:     owner,
		Kind:      kind,
		Stats:     stats,
		CurrentHP: stats.MaxHP,
		Position:  at,
	}
}

func (k CreatureKind) slug() string { return strings.ToLower(string(k)) }

// Clone returns a deep copy so the copy can be changed without touching s.
func (s State) Clone() State {
	c := s
	c.TurnState.MovedPieceIDs = slices.Clone(s.TurnState.MovedPieceIDs)
	c.PendingSuccessors = slices.Clone(s.PendingSuccessors)
	c.Pieces = slices.Clone(s.Pieces)
	if c.TurnState.MovedPieceIDs == nil {
		c.TurnState.MovedPieceIDs = []PieceID{}
	}
	if c.PendingSuccessors == nil {
		c.PendingSuccessors = []PendingSuccessor{}
	}
	if c.Pieces == nil {
		c.Pieces = []Piece{}
	}
	return c
}

func (s State) Piece(id PieceID) (Piece, bool) {
	for _, p := range s.Pieces {
		if p.ID == id {
			return p, true
		}
	}
	return Piece{}, false
}

func (s State) PieceAt(at Coord) (Piece, bool) {
	for _, p := range s.Pieces {
		if p.Position == at {
			return p, true
		}
	}
	return Piece{}, false
}

func (s State) PieceCount(owner PlayerID) int {
	n := 0
	for _, p := range s.Pieces {
		if p.Owner == owner {
			n++
		}
	}
	return n
}

// HasSeat reports whether id is one of the two configured seats.
func (s State) HasSeat(id PlayerID) bool {
	return id != "" && (s.Players[0] == id || s.Players[1] == id)
}

func (s State) occupiedCells() map[Coord]bool {
	occupied := make(map[Coord]bool, len(s.Pieces))
	for _, p := range s.Pieces {
		occupied[p.Position] = true
	}
	return occupied
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.EventType() == eventType {
			return true
		}
	}
	return false
}
