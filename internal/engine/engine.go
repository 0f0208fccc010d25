package engine

import (
	"fmt"
	"slices"
)

// BoardSize is the width and height of the square board.
const BoardSize = 7

type PlayerID string

type PieceID string

type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coord) InBounds() bool {
	return c.X >= 0 && c.X < BoardSize && c.Y >= 0 && c.Y < BoardSize
}

type CreatureKind string

const (
	KindAmeba   CreatureKind = "Ameba"
	KindGoblin  CreatureKind = "Goblin"
	KindSoldier CreatureKind = "Soldier"
)

type Stats struct {
	MaxHP         int `json:"maxHp"`
	Attack        int `json:"attack"`
	SuccessorCost int `json:"successorCost"`
}

var BaseStats = map[CreatureKind]Stats{
	KindAmeba:   {MaxHP: 1, Attack: 1, SuccessorCost: 1},
	KindGoblin:  {MaxHP: 2, Attack: 2, SuccessorCost: 2},
	KindSoldier: {MaxHP: 3, Attack: 3, SuccessorCost: 3},
}

type Piece struct {
	ID        PieceID      `json:"id"`
	Owner     PlayerID     `json:"owner"`
	Kind      CreatureKind `json:"kind"`
	Stats     Stats        `json:"stats"`
	CurrentHP int          `json:"currentHp"`
	Position  Coord        `json:"position"`
}

type Phase string

const (
	PhaseReinforcement Phase = "Reinforcement"
	PhaseMain          Phase = "Main"
	PhaseEnd           Phase = "End"
)

type Status string

const (
	StatusInProgress Status = "InProgress"
	StatusFinished   Status = "Finished"
)

type TurnState struct {
	MovedPieceIDs []PieceID `json:"movedPieceIds"`
}

// PendingSuccessor is a defeated piece waiting to be replaced on its owner's
// home rows once TurnsRemaining reaches zero.
type PendingSuccessor struct {
	ID             string       `json:"id"`
	Owner          PlayerID     `json:"owner"`
	Kind           CreatureKind `json:"kind"`
	Stats          Stats        `json:"stats"`
	TurnsRemaining int          `json:"turnsRemaining"`
}

type State struct {
	Turn              int                `json:"turn"`
	Players           [2]PlayerID        `json:"players"`
	ActivePlayer      PlayerID           `json:"activePlayer"`
	Phase             Phase              `json:"phase"`
	Status            Status             `json:"status"`
	Winner            PlayerID           `json:"winner,omitempty"`
	TurnState         TurnState          `json:"turnState"`
	PendingSuccessors []PendingSuccessor `json:"pendingSuccessors"`
	Pieces            []Piece            `json:"pieces"`
}

// Intent is a player's requested action. The set of intents is closed:
// EndTurn and Move.
type Intent interface{ isIntent() }

type EndTurn struct{}

func (EndTurn) isIntent() {}

type Move struct {
	PieceID PieceID `json:"pieceId"`
	To      Coord   `json:"to"`
}

func (Move) isIntent() {}

type Command struct {
	Actor  PlayerID
	Intent Intent
}

/*
	EndTurn -> TurnEnded -> SuccessorSpawned*
	Move    -> PieceMoved
	Move    -> CombatResolved (-> PieceMoved if the defender fell) (-> GameFinished)
*/

type EventType string

const (
	EvtTurnEnded        EventType = "TurnEnded"
	EvtPieceMoved       EventType = "PieceMoved"
	EvtCombatResolved   EventType = "CombatResolved"
	EvtSuccessorSpawned EventType = "SuccessorSpawned"
	EvtGameFinished     EventType = "GameFinished"
)

// Event is an immutable fact about a state change. Fold is the only way an
// event changes a State.
type Event interface {
	EventType() EventType
}

type TurnEnded struct {
	NextSeat   PlayerID `json:"nextSeat"`
	NextTurnNo int      `json:"nextTurnNo"`
}

type PieceMoved struct {
	PieceID PieceID `json:"pieceId"`
	From    Coord   `json:"from"`
	To      Coord   `json:"to"`
}

type CombatResolved struct {
	AttackerID       PieceID `json:"attackerPieceId"`
	DefenderID       PieceID `json:"defenderPieceId"`
	Damage           int     `json:"damage"`
	DefenderHPAfter  int     `json:"defenderHpAfter"`
	DefenderDefeated bool    `json:"defenderDefeated"`
}

type SuccessorSpawned struct {
	PendingID string `json:"pendingId"`
	Piece     Piece  `json:"piece"`
}

type GameFinished struct {
	Winner PlayerID `json:"winner"`
}

func (TurnEnded) EventType() EventType        { return EvtTurnEnded }
func (PieceMoved) EventType() EventType       { return EvtPieceMoved }
func (CombatResolved) EventType() EventType   { return EvtCombatResolved }
func (SuccessorSpawned) EventType() EventType { return EvtSuccessorSpawned }
func (GameFinished) EventType() EventType     { return EvtGameFinished }

// Apply validates cmd against s and, when legal, returns the events it
// produced together with the resulting state. On rejection s is returned
// untouched alongside the Reason.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if err := Validate(s, cmd); err != nil {
		return nil, s, err
	}
	events, next := Transition(s, cmd)
	return events, next, nil
}

// Validate checks cmd against s without mutating it. The first failing check
// wins, in this order: finished game, active player, phase, then the move
// checks.
func Validate(s State, cmd Command) error {
	if s.Status == StatusFinished {
		return ErrGameAlreadyFinished
	}
	if cmd.Actor != s.ActivePlayer {
		return ErrNotActivePlayer
	}
	if s.Phase != PhaseMain {
		return ErrPhaseMismatch
	}

	switch intent := cmd.Intent.(type) {
	case EndTurn:
		return nil

	case Move:
		// One move per turn, whichever piece made it.
		if len(s.TurnState.MovedPieceIDs) > 0 {
			return ErrMoveAlreadyUsed
		}
		piece, ok := s.Piece(intent.PieceID)
		if !ok {
			return ErrPieceNotFound
		}
		if piece.Owner != cmd.Actor {
			return ErrPieceNotOwned
		}
		// Unreachable while the check above holds. Kept so the order
		// stays correct if moves ever become per piece.
		if slices.Contains(s.TurnState.MovedPieceIDs, piece.ID) {
			return ErrMoveAlreadyUsed
		}
		if piece.Position == intent.To {
			return ErrSamePosition
		}
		if !intent.To.InBounds() {
			return ErrOutOfBounds
		}
		if abs(intent.To.X-piece.Position.X) > 1 || abs(intent.To.Y-piece.Position.Y) > 1 {
			return ErrInvalidMoveDistance
		}
		if occupant, ok := s.PieceAt(intent.To); ok && occupant.Owner == cmd.Actor {
			return ErrCellOccupied
		}
		return nil

	default:
		return ErrUnsupportedIntent
	}
}

// Transition builds the events for an already validated command and folds
// them into the next state. It is deterministic and never mutates s.
func Transition(s State, cmd Command) ([]Event, State) {
	events := buildEvents(s, cmd)
	next := Replay(s, events)

	if next.Status == StatusInProgress {
		if winner, ok := determineWinner(next); ok {
			finished := GameFinished{Winner: winner}
			events = append(events, finished)
			next = Replay(next, []Event{finished})
		}
	}
	return events, next
}

func buildEvents(s State, cmd Command) []Event {
	switch intent := cmd.Intent.(type) {
	case EndTurn:
		return buildEndTurnEvents(s)

	case Move:
		attacker, ok := s.Piece(intent.PieceID)
		if !ok {
			panic(fmt.Sprintf("engine: transition on unknown piece %q", intent.PieceID))
		}

		defender, ok := s.PieceAt(intent.To)
		if !ok || defender.Owner == cmd.Actor {
			return []Event{PieceMoved{PieceID: attacker.ID, From: attacker.Position, To: intent.To}}
		}

		damage := attacker.Stats.Attack
		hpAfter := defender.CurrentHP - damage
		combat := CombatResolved{
			AttackerID:       attacker.ID,
			DefenderID:       defender.ID,
			Damage:           damage,
			DefenderHPAfter:  hpAfter,
			DefenderDefeated: hpAfter <= 0,
		}
		events := []Event{combat}
		if combat.DefenderDefeated {
			events = append(events, PieceMoved{PieceID: attacker.ID, From: attacker.Position, To: intent.To})
		}
		return events

	default:
		panic(fmt.Sprintf("engine: transition on unsupported intent %T", cmd.Intent))
	}
}

func buildEndTurnEvents(s State) []Event {
	nextSeat := s.Opponent(s.ActivePlayer)
	nextTurnNo := s.Turn + 1
	events := []Event{TurnEnded{NextSeat: nextSeat, NextTurnNo: nextTurnNo}}

	// Timers are decremented before the zero check, so a one-turn delay
	// spawns on the owner's very next turn.
	occupied := s.occupiedCells()
	for _, pending := range s.PendingSuccessors {
		if pending.Owner != nextSeat || max(0, pending.TurnsRemaining-1) != 0 {
			continue
		}
		at, ok := firstSpawnCell(s, pending.Owner, occupied)
		if !ok {
			continue
		}
		piece := Piece{
			ID:        PieceID(fmt.Sprintf("%s_%s_%d_%d", pending.Owner, pending.Kind.slug(), nextTurnNo, len(events))),
			Owner:     pending.Owner,
			Kind:      pending.Kind,
			Stats:     pending.Stats,
			CurrentHP: pending.Stats.MaxHP,
			Position:  at,
		}
		occupied[at] = true
		events = append(events, SuccessorSpawned{PendingID: pending.ID, Piece: piece})
	}
	return events
}

// determineWinner reports a winner when exactly one seat still has pieces.
func determineWinner(s State) (PlayerID, bool) {
	first, second := s.Players[0], s.Players[1]
	firstCount, secondCount := s.PieceCount(first), s.PieceCount(second)

	switch {
	case firstCount == 0 && secondCount > 0:
		return second, true
	case secondCount == 0 && firstCount > 0:
		return first, true
	default:
		return "", false
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
