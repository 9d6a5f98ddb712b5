package team

import "fmt"

// Status is a teammate's lifecycle state.
type Status string

const (
	StatusSpawning  Status = "spawning"
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// working→working covers reassignment of an already-active teammate.
// No path skips working: even instantaneous completions pass through it
// so observers polling mid-flight see a consistent status.
var statusTransitions = map[Status]map[Status]bool{
	StatusSpawning: {
		StatusWorking: true,
		StatusFailed:  true,
		StatusAborted: true,
	},
	StatusWorking: {
		StatusWorking:   true,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusAborted:   true,
	},
}

// CanTransition reports whether from→to is a legal status change.
func CanTransition(from, to Status) bool {
	return statusTransitions[from][to]
}

// ValidateTransition returns a descriptive error for illegal changes.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid teammate transition %s -> %s", from, to)
	}
	return nil
}
