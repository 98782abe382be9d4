package pusher

// Phase is where the runner currently is in its cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseFiltering
	PhaseNotifying
	PhaseCleanup
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseFiltering:
		return "filtering"
	case PhaseNotifying:
		return "notifying"
	case PhaseCleanup:
		return "cleanup"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
