package link

// Edge is a connection transition observed by the sampling loop.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeConnected
	EdgeDisconnected
)

func (e Edge) String() string {
	switch e {
	case EdgeConnected:
		return "connected"
	case EdgeDisconnected:
		return "disconnected"
	default:
		return "none"
	}
}

// Lifecycle detects connection edges by comparing the shared State against a
// shadow copy. Observe must only be called from the sampling loop.
type Lifecycle struct {
	state   *State
	prev    bool
	prevGen uint64
}

// NewLifecycle creates a Lifecycle observing state.
func NewLifecycle(state *State) *Lifecycle {
	return &Lifecycle{state: state}
}

// Observe returns the edge since the previous call and updates the shadow copy.
//
// A reconnect that happened between two calls is reported as EdgeConnected; a
// connect followed by a disconnect between two calls is reported as
// EdgeDisconnected so discoverability is re-armed.
func (l *Lifecycle) Observe() Edge {
	connected, gen := l.state.load()
	changedGen := gen != l.prevGen
	prev := l.prev

	l.prev = connected
	l.prevGen = gen

	switch {
	case connected && (!prev || changedGen):
		return EdgeConnected
	case !connected && (prev || changedGen):
		return EdgeDisconnected
	default:
		return EdgeNone
	}
}

// Previous returns the shadow state as of the last Observe.
func (l *Lifecycle) Previous() ConnState {
	if l.prev {
		return Connected
	}
	return Disconnected
}

// Stable reports whether the peer seen by the last Observe is still connected,
// with no reconnect since.
func (l *Lifecycle) Stable() bool {
	connected, gen := l.state.load()
	return l.prev && connected && gen == l.prevGen
}
