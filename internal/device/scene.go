package device

import "context"

// Scene is a hub scene or light group. Scenes have no state of their own.
type Scene struct {
	*Base

	lastValue string
}

func scenePairingIDs(f FunctionID) (PairingSet, bool) {
	if !functionIn(f, FunctionIDsScene) {
		return PairingSet{}, false
	}
	return PairingSet{Outputs: []PairingID{PIDSceneControl}}, true
}

// Activate triggers the scene.
func (s *Scene) Activate(ctx context.Context) error {
	return s.write(ctx, PIDSceneControl, "1")
}

func (s *Scene) applyDatapoint(id, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.is(PIDSceneControl, id) {
		s.logUnknown(id, value)
		return false
	}
	return setString(&s.lastValue, value)
}

// State is empty for scenes.
func (s *Scene) State() State {
	return State{}
}
