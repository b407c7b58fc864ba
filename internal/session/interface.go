// Package session owns the loaded model, per-conversation state and the
// token streaming loop.
package session

import (
	"time"

	"codeberg.org/mutker/inferctl/internal/device"
	"codeberg.org/mutker/inferctl/internal/engine"
	"codeberg.org/mutker/inferctl/internal/scheduler"
	"codeberg.org/mutker/inferctl/internal/thermal"
)

type ModelState int

const (
	ModelUnloaded ModelState = iota
	ModelLoading
	ModelReady
	ModelFailed
	ModelUnloading
)

func (s ModelState) String() string {
	switch s {
	case ModelUnloaded:
		return "unloaded"
	case ModelLoading:
		return "loading"
	case ModelReady:
		return "ready"
	case ModelFailed:
		return "failed"
	case ModelUnloading:
		return "unloading"
	default:
		return "unknown"
	}
}

type State int

const (
	StateReady State = iota
	StateGenerating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateGenerating:
		return "generating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Exchange is one completed prompt/response turn.
type Exchange struct {
	Prompt         string
	Response       string
	PromptTokens   int
	ResponseTokens int
	Timestamp      time.Time
}

func (e Exchange) Tokens() int { return e.PromptTokens + e.ResponseTokens }

// Context is a copy of one conversation's state. TokenCount always equals the
// sum of the exchange token counts.
type Context struct {
	ID            string
	ModelID       string
	State         State
	SystemPrompt  string
	CreatedAt     time.Time
	LastActivity  time.Time
	TokenCount    int
	// PendingTokens counts tokens emitted by the running generation; it is
	// zero when the session is idle.
	PendingTokens int
	Exchanges     []Exchange
}

type Options struct {
	SystemPrompt string
}

// Params are caller generation parameters. Zero values take the configured
// defaults.
type Params struct {
	MaxTokens     int
	Temperature   float32
	TopK          int
	TopP          float32
	RepeatPenalty float32
	Stop          []string
}

type EventKind int

const (
	EventStarted EventKind = iota
	EventToken
	EventCompleted
	EventSafetyViolation
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventToken:
		return "token"
	case EventCompleted:
		return "completed"
	case EventSafetyViolation:
		return "safety_violation"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no event follows k.
func (k EventKind) Terminal() bool { return k >= EventCompleted }

// Event is one element of a generation stream.
type Event struct {
	Kind EventKind
	// Token and Index are set for EventToken.
	Token engine.Token
	Index int
	// Text is the full response for EventCompleted.
	Text   string
	Finish engine.FinishReason
	Tokens int
	// Reason is set for EventSafetyViolation.
	Reason string
	Err    error
}

// Planner is the scheduler view the manager needs.
type Planner interface {
	OptimizeFor(task scheduler.Task) scheduler.Optimization
	ThermalState() thermal.State
	Profile() device.Profile
}

type Status struct {
	ModelID    string
	ModelState ModelState
	Sessions   int
	Generating int
}
