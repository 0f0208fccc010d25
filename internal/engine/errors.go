package engine

// Reason is a machine-readable rejection code. It implements error so
// callers can use errors.Is against the exported values below.
type Reason string

func (r Reason) Error() string { return string(r) }

const (
	ErrNotActivePlayer     Reason = "NOT_ACTIVE_PLAYER"
	ErrPieceNotFound       Reason = "PIECE_NOT_FOUND"
	ErrPieceNotOwned       Reason = "PIECE_NOT_OWNED_BY_ACTOR"
	ErrOutOfBounds         Reason = "OUT_OF_BOUNDS"
	ErrGameAlreadyFinished Reason = "GAME_ALREADY_FINISHED"
	ErrPhaseMismatch       Reason = "PHASE_MISMATCH"
	ErrInvalidMoveDistance Reason = "INVALID_MOVE_DISTANCE"
	ErrSamePosition        Reason = "SAME_POSITION"
	ErrCellOccupied        Reason = "CELL_OCCUPIED"
	ErrMoveAlreadyUsed     Reason = "MOVE_ALREADY_USED_THIS_TURN"
)

// ErrUnsupportedIntent is returned for an intent outside the closed set. The
// wire decoder never produces one, so it is not part of the reject surface.
const ErrUnsupportedIntent Reason = "UNSUPPORTED_INTENT"
