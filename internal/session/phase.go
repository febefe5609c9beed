package session

// Transition applies event to phase and returns the resulting phase, or
// ErrInvalidTransition if the combination is not one of the legal
// transitions in spec §4.1. Retired is terminal.
func (p Phase) Transition(event PhaseEvent) (Phase, error) {
	switch {
	case p == PhaseActive && event == EventCompressed:
		return PhaseAvailable, nil
	case p == PhaseActive && event == EventRetired:
		return PhaseRetired, nil
	case p == PhaseAvailable && event == EventResumed:
		return PhaseActive, nil
	case p == PhaseAvailable && event == EventRetired:
		return PhaseRetired, nil
	default:
		return p, ErrInvalidTransition
	}
}

// CanTransition reports whether event is legal from p without mutating anything.
func (p Phase) CanTransition(event PhaseEvent) bool {
	_, err := p.Transition(event)
	return err == nil
}
