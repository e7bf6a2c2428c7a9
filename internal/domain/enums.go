// Package domain defines the core domain models for the run orchestrator.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "created"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusError, RunStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusCreated, RunStatusRunning, RunStatusCompleted, RunStatusError, RunStatusCancelled:
		return true
	}
	return false
}

// InputMode controls how oversized input is fitted into the model context.
type InputMode string

const (
	InputModeFit      InputMode = "fit"
	InputModeTruncate InputMode = "truncate"
)

// Scope controls run visibility.
type Scope string

const (
	ScopePrivate Scope = "private"
	ScopeShared  Scope = "shared"
)

// Role of a RunLog entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)
