package link

// Stack is the narrow interface to the wireless stack.
type Stack interface {
	// Notify pushes one frame to the connected peer.
	Notify(frame []byte) error
	// Advertise makes the device discoverable for a new peer.
	Advertise() error
}

// Transport delivers frames to the stack only while a peer is connected.
// Frames offered without a peer are dropped; nothing is queued or retried.
type Transport struct {
	stack    Stack
	state    *State
	failures uint32
}

// NewTransport creates a Transport for stack gated by state.
func NewTransport(stack Stack, state *State) *Transport {
	return &Transport{stack: stack, state: state}
}

// Connected reports whether a Send would be attempted right now.
func (t *Transport) Connected() bool {
	return t.state.Connected()
}

// Send attempts to notify the peer with frame. attempted is false when no peer is
// connected, in which case the stack is not touched. A stack error is counted and
// returned with attempted true.
func (t *Transport) Send(frame []byte) (attempted bool, err error) {
	if !t.state.Connected() {
		return false, nil
	}
	if err := t.stack.Notify(frame); err != nil {
		t.failures++
		return true, err
	}
	return true, nil
}

// Advertise re-arms discoverability.
func (t *Transport) Advertise() error {
	return t.stack.Advertise()
}

// Failures returns the number of sends the stack rejected.
func (t *Transport) Failures() uint32 {
	return t.failures
}
