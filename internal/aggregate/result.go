package aggregate

import (
	"time"

	"github.com/gridrun/gridrun/internal/matrix"
	"github.com/gridrun/gridrun/internal/mode"
)

// State is the terminal state of a single cell×mode invocation.
//
// Lifecycle: pending → preparing → (prepared | prep_failed) →
// running → (completed | aborted). Only terminal states are recorded.
type State string

const (
	StatePending    State = "pending"
	StatePreparing  State = "preparing"
	StatePrepared   State = "prepared"
	StatePrepFailed State = "prep_failed"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
)

// ExitAborted is the sentinel exit code for invocations that never produced
// an exit status of their own.
const ExitAborted = -1

// Result is the recorded outcome of one invocation. Errors are stored in
// Err/Stage rather than returned, so the caller always has something to
// display.
type Result struct {
	Cell     matrix.Cell
	Config   mode.RunConfig
	State    State
	Stage    string // "prepare", "install", "test"
	ExitCode int
	Duration time.Duration
	Stderr   string
	Err      error
}

// Passed reports whether the invocation ran to completion successfully.
func (r Result) Passed() bool {
	return r.State == StateCompleted && r.ExitCode == 0
}

// Aborted reports whether the invocation never reached an exit status,
// as opposed to the test procedure running and failing.
func (r Result) Aborted() bool {
	return r.State == StateAborted
}
