package engine

import (
	"time"

	"dynlight.ai/internal/lighting/model"
)

type Action string

const (
	ActionPlace  Action = "PLACE"
	ActionRemove Action = "REMOVE"
	ActionFade   Action = "FADE"
)

// Outcome is the result of reconciling one subject. None of them are errors: the
// failure outcomes are retried or dropped on the next cycle.
type Outcome string

const (
	OutcomePlaced      Outcome = "PLACED"
	OutcomeElided      Outcome = "ELIDED"
	OutcomeCleared     Outcome = "CLEARED"
	OutcomeNoCandidate Outcome = "NO_CANDIDATE"
	OutcomeStale       Outcome = "STALE"
	OutcomeInvalid     Outcome = "INVALID"
	OutcomeUntracked   Outcome = "UNTRACKED"
)

// Reasons attached to anchor events.
const (
	ReasonTracked        = "TRACKED"
	ReasonRelevel        = "RELEVEL"
	ReasonSuperseded     = "SUPERSEDED"
	ReasonNotLuminous    = "NOT_LUMINOUS"
	ReasonNoCandidate    = "NO_CANDIDATE"
	ReasonSubjectRemoved = "SUBJECT_REMOVED"
	ReasonInvalidSubject = "INVALID_SUBJECT"
	ReasonFadeExpired    = "FADE_EXPIRED"
	ReasonShutdown       = "SHUTDOWN"
	ReasonOrphaned       = "ORPHANED"
	ReasonOverwritten    = "OVERWRITTEN"
)

// Event describes one anchor mutation requested through the gateway.
type Event struct {
	Cycle       uint64
	Subject     model.SubjectID
	SubjectKind model.SubjectKind
	Action      Action
	Pos         model.Vec3i
	Level       int
	Reason      string
}

// TickReport summarizes one reconciliation cycle.
type TickReport struct {
	Cycle   uint64
	Skipped bool

	Drained     int
	Reconciled  int
	Placed      int
	Removed     int
	Elided      int
	NoCandidate int
	Stale       int
	Evicted     int
	Drifted     int
	FadeExpired int
	// Overwritten counts anchors found replaced by another block during the sweep.
	Overwritten int

	Tracked  int
	Anchors  int
	Duration time.Duration
}

// Observer receives anchor events and tick summaries. Calls happen on the goroutine
// that drives the engine, so implementations must not call back into it.
type Observer interface {
	AnchorChanged(ev Event)
	TickDone(rep TickReport)
}

type multiObserver []Observer

func (m multiObserver) AnchorChanged(ev Event) {
	for _, o := range m {
		o.AnchorChanged(ev)
	}
}

func (m multiObserver) TickDone(rep TickReport) {
	for _, o := range m {
		o.TickDone(rep)
	}
}

// Observers fans out to every non-nil observer.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type nopObserver struct{}

func (nopObserver) AnchorChanged(Event) {}
func (nopObserver) TickDone(TickReport) {}

// Stats are cumulative counters since construction.
type Stats struct {
	Cycles       uint64
	SkippedTicks uint64
	Placements   uint64
	Removals     uint64
	Elided       uint64
	NoCandidate  uint64
	StalePlaces  uint64
	Evictions    uint64
	Reconciles   uint64
	Overwritten  uint64
	TrackedNow   int
	PendingNow   int
	FadingNow    int
	AnchorsNow   int
}
