package domain

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusCreated: {RunStatusRunning, RunStatusCancelled, RunStatusError},
	RunStatusRunning: {RunStatusCompleted, RunStatusError, RunStatusCancelled},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to RunStatus) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
