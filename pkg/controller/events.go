package controller

// State is the controller's current phase in the input/fetch/display cycle.
type State int

const (
	// StateIdle means no query is active and no suggestions are shown.
	StateIdle State = iota
	// StateComposing means an IME composition session is open and
	// intermediate input must not trigger fetches or submits.
	StateComposing
	// StateDebouncing means input arrived and the controller is waiting
	// out the debounce interval before fetching.
	StateDebouncing
	// StateFetching means a request is in flight.
	StateFetching
	// StateDisplaying means a suggestion list is visible.
	StateDisplaying
	// StateError means the last fetch failed; the list is cleared and
	// the controller waits for fresh input.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComposing:
		return "composing"
	case StateDebouncing:
		return "debouncing"
	case StateFetching:
		return "fetching"
	case StateDisplaying:
		return "displaying"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Key identifies a navigation keystroke forwarded to the controller.
type Key int

const (
	KeyDown Key = iota
	KeyUp
	KeyEnter
	KeyEscape
)

func (k Key) String() string {
	switch k {
	case KeyDown:
		return "down"
	case KeyUp:
		return "up"
	case KeyEnter:
		return "enter"
	case KeyEscape:
		return "escape"
	default:
		return "unknown"
	}
}
