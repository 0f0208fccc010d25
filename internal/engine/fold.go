package engine

import (
	"fmt"
	"slices"
)

// Fold applies a single event to s and returns the new state. s is never
// mutated.
func Fold(s State, event Event) State {
	next := s.Clone()

	switch evt := event.(type) {
	case TurnEnded:
		next.Turn = evt.NextTurnNo
		next.ActivePlayer = evt.NextSeat
		next.Phase = PhaseReinforcement
		next.TurnState.MovedPieceIDs = []PieceID{}
		for i, pending := range next.PendingSuccessors {
			if pending.Owner == evt.NextSeat {
				next.PendingSuccessors[i].TurnsRemaining = max(0, pending.TurnsRemaining-1)
			}
		}

	case PieceMoved:
		for i := range next.Pieces {
			if next.Pieces[i].ID == evt.PieceID {
				next.Pieces[i].Position = evt.To
			}
		}
		next.TurnState.MovedPieceIDs = markMoved(next.TurnState.MovedPieceIDs, evt.PieceID)

	case CombatResolved:
		next.TurnState.MovedPieceIDs = markMoved(next.TurnState.MovedPieceIDs, evt.AttackerID)
		defender, found := s.Piece(evt.DefenderID)
		if evt.DefenderDefeated {
			next.Pieces = slices.DeleteFunc(next.Pieces, func(p Piece) bool { return p.ID == evt.DefenderID })
		} else {
			for i := range next.Pieces {
				if next.Pieces[i].ID == evt.DefenderID {
					next.Pieces[i].CurrentHP = evt.DefenderHPAfter
				}
			}
		}
		if evt.DefenderDefeated && found {
			next.PendingSuccessors = append(next.PendingSuccessors, PendingSuccessor{
				ID:             fmt.Sprintf("%s_respawn_%d", defender.ID, s.Turn),
				Owner:          defender.Owner,
				Kind:           defender.Kind,
				Stats:          defender.Stats,
				TurnsRemaining: defender.Stats.SuccessorCost,
			})
		}

	case SuccessorSpawned:
		next.Pieces = append(next.Pieces, evt.Piece)
		next.PendingSuccessors = slices.DeleteFunc(next.PendingSuccessors, func(p PendingSuccessor) bool {
			return p.ID == evt.PendingID
		})

	case GameFinished:
		next.Status = StatusFinished
		next.Winner = evt.Winner
		next.Phase = PhaseEnd

	default:
		panic(fmt.Sprintf("engine: fold of unknown event %T", event))
	}

	return next
}

// Replay folds events over s in order, then settles the phase: a game left
// in Reinforcement after a turn change continues in Main. Folding the events
// a command produced over the state it ran against reproduces the state
// Transition returned.
func Replay(s State, events []Event) State {
	next := s
	for _, event := range events {
		next = Fold(next, event)
	}
	if next.Status == StatusInProgress && next.Phase == PhaseReinforcement {
		next = next.Clone()
		next.Phase = PhaseMain
	}
	return next
}

func markMoved(moved []PieceID, id PieceID) []PieceID {
	if slices.Contains(moved, id) {
		return moved
	}
	return append(moved, id)
}
