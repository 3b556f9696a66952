package engine

import "fmt"

// State is the lifecycle state of the current interaction.
type State int

// Lifecycle states.
const (
	StateIdle State = iota
	StateCreating
	StateEditing
	StateViewing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreating:
		return "creating"
	case StateEditing:
		return "editing"
	case StateViewing:
		return "viewing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState parses the String form of a state.
func ParseState(s string) (State, error) {
	switch s {
	case "idle":
		return StateIdle, nil
	case "creating":
		return StateCreating, nil
	case "editing":
		return StateEditing, nil
	case "viewing":
		return StateViewing, nil
	default:
		return StateIdle, fmt.Errorf("unknown state %q", s)
	}
}

// Status is a snapshot of the engine's lifecycle position.
type Status struct {
	State        State
	AnnotationID int64
	Session      string
}

// EditCancel selects where cancelling an edit surface lands.
type EditCancel string

const (
	// EditCancelView reopens the view surface for the annotation.
	EditCancelView EditCancel = "view"
	// EditCancelIdle ends the interaction.
	EditCancelIdle EditCancel = "idle"
)

// ParseEditCancel validates an edit-cancel policy. Empty means EditCancelView.
func ParseEditCancel(s string) (EditCancel, error) {
	switch EditCancel(s) {
	case "", EditCancelView:
		return EditCancelView, nil
	case EditCancelIdle:
		return EditCancelIdle, nil
	default:
		return "", fmt.Errorf("invalid edit cancel policy %q: must be view or idle", s)
	}
}

// Journal entry kinds.
const (
	EntrySelect     = "select"
	EntryOpen       = "open"
	EntryConfirm    = "confirm"
	EntryCancel     = "cancel"
	EntryRegister   = "register"
	EntrySave       = "save"
	EntryAction     = "action"
	EntryDelete     = "delete"
	EntryPreview    = "preview"
	EntryEdit       = "edit"
	EntryHydrate    = "hydrate"
	EntrySuperseded = "superseded"
	EntryError      = "error"
)
