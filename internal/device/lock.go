package device

import "context"

// Lock is a door opener actuator.
type Lock struct {
	*Base

	state string
}

func lockPairingIDs(f FunctionID) (PairingSet, bool) {
	if !functionIn(f, FunctionIDsDoorOpener) {
		return PairingSet{}, false
	}
	return PairingSet{
		Inputs:  []PairingID{PIDTimedStartStop},
		Outputs: []PairingID{PIDInfoOnOff},
	}, true
}

// IsLocked reports whether the door is locked. ok is false until the
// hub reported a state.
func (l *Lock) IsLocked() (locked, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state == "" {
		return false, false
	}
	return l.state == "0", true
}

// Lock locks the door.
func (l *Lock) Lock(ctx context.Context) error {
	return l.write(ctx, PIDTimedStartStop, "0")
}

// Unlock releases the door opener.
func (l *Lock) Unlock(ctx context.Context) error {
	return l.write(ctx, PIDTimedStartStop, "1")
}

func (l *Lock) applyDatapoint(id, value string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.is(PIDInfoOnOff, id) {
		l.logUnknown(id, value)
		return false
	}
	return setString(&l.state, value)
}

// State returns locked once known.
func (l *Lock) State() State {
	s := State{}
	if locked, ok := l.IsLocked(); ok {
		s["locked"] = locked
	}
	return s
}
