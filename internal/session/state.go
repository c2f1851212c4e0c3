package session

// monotonicityRank orders states so transitions never regress. Booting and
// working share a rank because boot promotion is allowed in both directions
// of the stall boundary; stalled never returns to booting, zombie is
// absorbing except toward completed.
var monotonicityRank = map[State]int{
	StateBooting:   0,
	StateWorking:   0,
	StateStalled:   1,
	StateZombie:    2,
	StateCompleted: 3,
}

// allowedEdges is the full transition relation.
var allowedEdges = map[State][]State{
	StateBooting:   {StateWorking, StateStalled, StateZombie, StateCompleted},
	StateWorking:   {StateStalled, StateZombie, StateCompleted},
	StateStalled:   {StateWorking, StateZombie, StateCompleted},
	StateZombie:    {StateCompleted},
	StateCompleted: {},
}

// Rank returns the monotonicity rank of a state.
func Rank(s State) int { return monotonicityRank[s] }

// TransitionState is the pure transition function: it returns the state the
// session should move to given the current state and the state proposed by
// a health check. Disallowed edges collapse to the current state, which
// makes concurrent observers idempotent.
func TransitionState(current, proposed State) State {
	if current == proposed {
		return current
	}
	for _, next := range allowedEdges[current] {
		if next == proposed {
			return proposed
		}
	}
	return current
}

// CanTransition reports whether the edge current -> proposed is allowed.
func CanTransition(current, proposed State) bool {
	if current == proposed {
		return true
	}
	return TransitionState(current, proposed) == proposed
}
