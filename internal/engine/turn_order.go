package engine

// HomeRows lists the rows a seat spawns successors on, in scan order.
var HomeRows = [2][]int{
	{0, 1},
	{BoardSize - 1, BoardSize - 2},
}

// SeatIndex returns the fixed index of id in s.Players, or -1.
func (s State) SeatIndex(id PlayerID) int {
	for i, p := range s.Players {
		if p == id {
			return i
		}
	}
	return -1
}

// Opponent returns the other seat.
func (s State) Opponent(id PlayerID) PlayerID {
	if id == s.Players[0] {
		return s.Players[1]
	}
	return s.Players[0]
}

// firstSpawnCell scans the owner's home rows row-major and returns the first
// cell not present in occupied.
func firstSpawnCell(s State, owner PlayerID, occupied map[Coord]bool) (Coord, bool) {
	seat := s.SeatIndex(owner)
	if seat < 0 {
		return Coord{}, false
	}
	for _, y := range HomeRows[seat] {
		for x := 0; x < BoardSize; x++ {
			at := Coord{X: x, Y: y}
			if !occupied[at] {
				return at, true
			}
		}
	}
	return Coord{}, false
}
