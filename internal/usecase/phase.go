package usecase

// Phase is the lifecycle state of one metric's insight. Exactly one phase is
// authoritative at any instant; together with the single tombstone flag it
// replaces the independent boolean guards the dashboard variants grew.
type Phase string

const (
	// PhaseIdle is the initial and terminal state: no record, nothing in flight.
	PhaseIdle Phase = "idle"
	// PhaseLoading is the initial cache read, nothing to show yet.
	PhaseLoading Phase = "loading"
	// PhaseGenerating is a generate or generate-with-context call in flight.
	PhaseGenerating Phase = "generating"
	// PhaseRevealing is an active typewriter animation over a fresh record.
	PhaseRevealing Phase = "revealing"
	// PhaseDisplayed is a fully visible record with no animation running.
	PhaseDisplayed Phase = "displayed"
	// PhaseDeleting is a delete call in flight, record already hidden.
	PhaseDeleting Phase = "deleting"
	// PhaseTombstoned is a confirmed delete awaiting a confirming absent read.
	PhaseTombstoned Phase = "tombstoned"
	// PhaseFailed is a transient error state that immediately recovers to
	// the prior displayed state.
	PhaseFailed Phase = "failed"
)

type event int

const (
	evLoad event = iota
	evHydrate
	evHydrateEmpty
	evGenerate
	evGenerateOK
	evGenerateErr
	evRevealDone
	evDelete
	evDeleteOK
	evDeleteErr
	evConfirmAbsent
	evRecoverDisplayed
	evRecoverIdle
)

// reduce is the single transition function. It is pure: given a phase and an
// event it returns the next phase and whether the transition is legal.
// Illegal events are dropped by callers, never applied.
func reduce(p Phase, ev event) (Phase, bool) {
	switch ev {
	case evLoad:
		if p == PhaseIdle {
			return PhaseLoading, true
		}
	case evHydrate:
		// The hydration guard: cache reads may only surface while nothing
		// local is authoritative.
		if p == PhaseIdle || p == PhaseLoading {
			return PhaseDisplayed, true
		}
	case evHydrateEmpty:
		if p == PhaseLoading {
			return PhaseIdle, true
		}
	case evGenerate:
		switch p {
		case PhaseIdle, PhaseLoading, PhaseDisplayed, PhaseTombstoned, PhaseFailed:
			return PhaseGenerating, true
		}
	case evGenerateOK:
		if p == PhaseGenerating {
			return PhaseRevealing, true
		}
	case evGenerateErr:
		if p == PhaseGenerating {
			return PhaseFailed, true
		}
	case evRevealDone:
		if p == PhaseRevealing {
			return PhaseDisplayed, true
		}
	case evDelete:
		if p == PhaseDisplayed || p == PhaseRevealing {
			return PhaseDeleting, true
		}
	case evDeleteOK:
		if p == PhaseDeleting {
			return PhaseTombstoned, true
		}
	case evDeleteErr:
		if p == PhaseDeleting {
			return PhaseFailed, true
		}
	case evConfirmAbsent:
		if p == PhaseTombstoned {
			return PhaseIdle, true
		}
	case evRecoverDisplayed:
		if p == PhaseFailed {
			return PhaseDisplayed, true
		}
	case evRecoverIdle:
		if p == PhaseFailed {
			return PhaseIdle, true
		}
	}
	return p, false
}
