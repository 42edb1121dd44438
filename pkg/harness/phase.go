package harness

// Phase is the harness's position in the bring-up sequence. The run
// moves strictly forward; any fatal error lands in PhaseFailed and the
// run aborts.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCleaning
	PhaseLaunching
	PhaseAwaitingReadiness
	PhaseInitializing
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCleaning:
		return "cleaning"
	case PhaseLaunching:
		return "launching"
	case PhaseAwaitingReadiness:
		return "awaiting-readiness"
	case PhaseInitializing:
		return "initializing"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}
