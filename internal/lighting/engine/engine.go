// Package engine tracks which subjects carry light and keeps exactly one light
// anchor next to each of them.
//
// Event handlers only record work: they update the tracking map and mark subjects
// dirty. Tick, driven by the host on its mutation thread, drains the dirty set and
// talks to the world gateway. Removal on disconnect/despawn is the one synchronous
// path.
package engine

import (
	"io"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"dynlight.ai/internal/lighting/locate"
	"dynlight.ai/internal/lighting/model"
	"dynlight.ai/internal/lighting/safety"
)

// Gateway is the only thing allowed to mutate world blocks. PlaceLight is a no-op
// unless the block is air; RemoveLight is a no-op unless the block is a light.
type Gateway interface {
	safety.BlockReader
	PlaceLight(pos model.Vec3i, level int)
	RemoveLight(pos model.Vec3i)
}

// SubjectSource resolves a subject id to its live state. ok=false means the entity
// is gone.
type SubjectSource interface {
	LookupSubject(id model.SubjectID) (model.Subject, bool)
}

// Resolver maps items to light levels. Max is the level a subject holding items
// emits; the engine and the host both derive luminance through it.
type Resolver interface {
	Resolve(item string) int
	Max(items ...string) int
}

type Toggles interface {
	TrackingEnabled(id model.SubjectID) bool
}

type RemovalPolicy int

const (
	RemoveImmediately RemovalPolicy = iota
	// RemoveFade dims a retired anchor to FadeLevel for FadeTicks cycles before
	// clearing it.
	RemoveFade
)

const (
	DefaultFadeLevel = 5
	DefaultFadeTicks = 1
)

type Config struct {
	Gateway   Gateway
	Subjects  SubjectSource
	Luminance Resolver
	Toggles   Toggles  // nil: every subject is enabled
	Observer  Observer // optional
	Logger    *log.Logger

	Rules         safety.Rules
	PlayerOffsets []model.Vec3i
	ItemOffsets   []model.Vec3i

	Removal   RemovalPolicy
	FadeLevel int
	FadeTicks int
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	// Zero rule fields take the defaults; negative values disable a rule.
	def := safety.DefaultRules()
	if c.Rules.NeighborhoodRadius == 0 {
		c.Rules.NeighborhoodRadius = def.NeighborhoodRadius
	}
	if c.Rules.LookDistance == 0 {
		c.Rules.LookDistance = def.LookDistance
	}
	if c.Rules.ColumnDepth == 0 {
		c.Rules.ColumnDepth = def.ColumnDepth
	}
	if c.Rules.Interactable == nil {
		c.Rules.Interactable = def.Interactable
	}
	if len(c.PlayerOffsets) == 0 {
		c.PlayerOffsets = locate.DefaultPlayerOffsets
	}
	if len(c.ItemOffsets) == 0 {
		c.ItemOffsets = locate.DefaultItemOffsets
	}
	if c.FadeLevel <= 0 {
		c.FadeLevel = DefaultFadeLevel
	}
	c.FadeLevel = model.ClampLevel(c.FadeLevel)
	if c.FadeTicks <= 0 {
		c.FadeTicks = DefaultFadeTicks
	}
}

type Engine struct {
	cfg Config

	safety  *safety.Classifier
	players *locate.Locator
	items   *locate.Locator

	pending *pendingSet
	tracked *trackMap
	fades   *fadeQueue

	running atomic.Bool
	closed  atomic.Bool
	cycle   atomic.Uint64

	skipped     atomic.Uint64
	placements  atomic.Uint64
	removals    atomic.Uint64
	elided      atomic.Uint64
	noCandidate atomic.Uint64
	stale       atomic.Uint64
	evictions   atomic.Uint64
	reconciles  atomic.Uint64
	lost        atomic.Uint64
}

func New(cfg Config) *Engine {
	cfg.applyDefaults()
	cls := safety.New(cfg.Gateway, cfg.Rules)
	return &Engine{
		cfg:     cfg,
		safety:  cls,
		players: locate.New(cfg.PlayerOffsets, cls),
		items:   locate.New(cfg.ItemOffsets, cls),
		pending: newPendingSet(),
		tracked: newTrackMap(),
		fades:   &fadeQueue{},
	}
}

func (e *Engine) LocatorFor(kind model.SubjectKind) *locate.Locator {
	if kind == model.KindDroppedItem {
		return e.items
	}
	return e.players
}

func (e *Engine) enabled(id model.SubjectID) bool {
	return e.cfg.Toggles == nil || e.cfg.Toggles.TrackingEnabled(id)
}

func (e *Engine) luminanceOf(s model.Subject) int {
	if e.cfg.Luminance == nil {
		return 0
	}
	return model.ClampLevel(e.cfg.Luminance.Max(s.Items...))
}

// LuminanceOf is the level s would be lit at: 0 when it is disabled or holds
// nothing luminous.
func (e *Engine) LuminanceOf(s model.Subject) int {
	if !e.enabled(s.ID) {
		return 0
	}
	return e.luminanceOf(s)
}

// OnSubjectMoved marks the subject dirty when it entered a different block. An
// untracked subject starts being tracked if it is enabled and luminous.
func (e *Engine) OnSubjectMoved(s model.Subject) {
	if e.closed.Load() {
		return
	}
	blk := s.Pos.Block()
	qualifies := e.enabled(s.ID) && e.luminanceOf(s) > 0
	dirty := e.tracked.Upsert(s.ID, func(r *record, existed bool) bool {
		if existed {
			if r.lastBlock == blk {
				return false
			}
			r.lastBlock = blk
			return true
		}
		if !qualifies {
			return false
		}
		*r = record{kind: s.Kind, lastBlock: blk}
		return true
	})
	if dirty {
		e.pending.Add(s.ID)
	}
}

// OnLuminanceSourceChanged re-evaluates a subject after a hand swap, pickup, spawn
// or toggle change.
func (e *Engine) OnLuminanceSourceChanged(s model.Subject) {
	if e.closed.Load() {
		return
	}
	blk := s.Pos.Block()
	qualifies := e.enabled(s.ID) && e.luminanceOf(s) > 0
	dirty := e.tracked.Upsert(s.ID, func(r *record, existed bool) bool {
		if existed {
			r.lastBlock = blk
			return true
		}
		if !qualifies {
			return false
		}
		*r = record{kind: s.Kind, lastBlock: blk}
		return true
	})
	if dirty {
		e.pending.Add(s.ID)
	}
}

// OnSubjectRemoved handles terminal events (disconnect, despawn, pickup). The anchor
// is removed right away; it must be called from the host's mutation context.
func (e *Engine) OnSubjectRemoved(id model.SubjectID) {
	e.pending.Remove(id)
	r, ok := e.tracked.Delete(id)
	if ok && r.anchored {
		e.removeAnchor(r.kind, r.anchor, ReasonSubjectRemoved)
	}
	e.dropFades(id, ReasonSubjectRemoved)
}

// Tick runs one reconciliation cycle. Overlapping calls return immediately with
// Skipped set.
func (e *Engine) Tick() TickReport {
	if !e.running.CompareAndSwap(false, true) {
		e.skipped.Add(1)
		e.cfg.Logger.Printf("light tick skipped: previous cycle still running")
		rep := TickReport{Skipped: true}
		e.cfg.Observer.TickDone(rep)
		return rep
	}
	defer e.running.Store(false)

	start := time.Now()
	rep := TickReport{Cycle: e.cycle.Add(1)}
	if e.closed.Load() {
		return rep
	}

	e.advanceFades(&rep)

	drained := e.pending.Drain()
	rep.Drained = len(drained)
	for _, id := range sortedIDs(drained) {
		if e.closed.Load() {
			break
		}
		switch e.reconcile(rep.Cycle, id, &rep) {
		case OutcomePlaced:
			rep.Placed++
		case OutcomeElided:
			rep.Elided++
		case OutcomeNoCandidate:
			rep.NoCandidate++
		case OutcomeStale:
			rep.Stale++
		case OutcomeInvalid:
			rep.Evicted++
		}
	}
	if !e.closed.Load() {
		e.sweep(drained, &rep)
	}

	// ShutdownAndClear may have run while this cycle was placing anchors.
	if e.closed.Load() {
		e.clearAll()
	}

	rep.Tracked = e.tracked.Len()
	rep.Anchors = len(e.Anchors())
	rep.Duration = time.Since(start)
	e.cfg.Observer.TickDone(rep)
	return rep
}

func (e *Engine) reconcile(cycle uint64, id model.SubjectID, rep *TickReport) Outcome {
	r, ok := e.tracked.Get(id)
	if !ok {
		return OutcomeUntracked
	}
	rep.Reconciled++
	e.reconciles.Add(1)

	s, live := e.cfg.Subjects.LookupSubject(id)
	if !live {
		e.evict(id)
		return OutcomeInvalid
	}
	if s.Kind == 0 {
		s.Kind = r.kind
	}

	// Another actor may have replaced the light; the world is authoritative.
	if r.anchored && e.cfg.Gateway.BlockKindAt(r.anchor.Pos) != model.BlockLight {
		e.lostAnchor(s.Kind, r.anchor)
		rep.Removed++
		r.anchored = false
		r.anchor = model.Anchor{}
		e.commit(id, s.Kind, r.lastBlock, nil)
	}

	level := e.LuminanceOf(s)
	if level == 0 {
		if d, ok := e.tracked.Delete(id); ok && d.anchored {
			e.retireAnchor(d.kind, d.anchor, ReasonNotLuminous)
			rep.Removed++
		}
		return OutcomeCleared
	}

	// A light the subject left behind to fade is replaced by the new one.
	rep.Removed += e.dropFades(id, ReasonSuperseded)

	base := s.Pos.Block()
	var own *model.Vec3i
	if r.anchored {
		p := r.anchor.Pos
		own = &p
	}
	cand, found := e.LocatorFor(s.Kind).Locate(base, safety.OriginOf(s), own)
	if !found {
		if r.anchored {
			e.removeAnchor(s.Kind, r.anchor, ReasonNoCandidate)
			rep.Removed++
		}
		e.commit(id, s.Kind, base, nil)
		e.noCandidate.Add(1)
		return OutcomeNoCandidate
	}

	if r.anchored && r.anchor.Pos == cand && r.anchor.Level == level {
		e.commit(id, s.Kind, base, &r.anchor)
		e.elided.Add(1)
		return OutcomeElided
	}

	reason := ReasonTracked
	if r.anchored {
		if r.anchor.Pos == cand {
			reason = ReasonRelevel
		}
		e.removeAnchor(s.Kind, r.anchor, ReasonSuperseded)
		rep.Removed++
	}

	e.cfg.Gateway.PlaceLight(cand, level)
	if e.cfg.Gateway.BlockKindAt(cand) != model.BlockLight {
		// The block stopped being air between locate and place.
		e.commit(id, s.Kind, base, nil)
		e.stale.Add(1)
		return OutcomeStale
	}
	a := model.Anchor{Subject: id, Pos: cand, Level: level}
	if !e.commit(id, s.Kind, base, &a) {
		// Removed concurrently; do not leave an ownerless light behind.
		e.removeAnchor(s.Kind, a, ReasonOrphaned)
		rep.Removed++
		return OutcomeInvalid
	}
	e.placements.Add(1)
	e.cfg.Observer.AnchorChanged(Event{
		Cycle:       cycle,
		Subject:     id,
		SubjectKind: s.Kind,
		Action:      ActionPlace,
		Pos:         cand,
		Level:       level,
		Reason:      reason,
	})
	return OutcomePlaced
}

func (e *Engine) commit(id model.SubjectID, kind model.SubjectKind, base model.Vec3i, a *model.Anchor) bool {
	return e.tracked.Update(id, func(r *record) {
		r.kind = kind
		r.lastBlock = base
		r.anchored = a != nil
		if a != nil {
			r.anchor = *a
		} else {
			r.anchor = model.Anchor{}
		}
	})
}

// sweep checks subjects that were not dirty this cycle: gone entities are evicted
// and entities that drifted into another block without a move event are marked for
// the next cycle.
func (e *Engine) sweep(drained map[model.SubjectID]struct{}, rep *TickReport) {
	snap := e.tracked.Snapshot()
	for _, id := range sortedIDs(snap) {
		if _, ok := drained[id]; ok {
			continue
		}
		s, live := e.cfg.Subjects.LookupSubject(id)
		if !live {
			e.evict(id)
			rep.Evicted++
			continue
		}
		r := snap[id]
		if s.Pos.Block() != r.lastBlock {
			e.pending.Add(id)
			rep.Drifted++
			continue
		}
		if r.anchored && e.cfg.Gateway.BlockKindAt(r.anchor.Pos) != model.BlockLight {
			e.pending.Add(id)
			rep.Overwritten++
		}
	}
}

func (e *Engine) evict(id model.SubjectID) {
	e.pending.Remove(id)
	e.evictions.Add(1)
	r, ok := e.tracked.Delete(id)
	if ok && r.anchored {
		e.removeAnchor(r.kind, r.anchor, ReasonInvalidSubject)
	}
	e.dropFades(id, ReasonInvalidSubject)
}

// lostAnchor forgets an anchor whose block is no longer a light. RemoveLight is
// still issued; it is a no-op on anything but a light.
func (e *Engine) lostAnchor(kind model.SubjectKind, a model.Anchor) {
	e.lost.Add(1)
	e.removeAnchor(kind, a, ReasonOverwritten)
}

// dropFades removes every fading light left by id and returns how many there were.
func (e *Engine) dropFades(id model.SubjectID, reason string) int {
	fs := e.fades.Take(id)
	for _, f := range fs {
		e.removeAnchor(0, model.Anchor{Subject: f.subject, Pos: f.pos, Level: e.cfg.FadeLevel}, reason)
	}
	return len(fs)
}

func (e *Engine) removeAnchor(kind model.SubjectKind, a model.Anchor, reason string) {
	e.cfg.Gateway.RemoveLight(a.Pos)
	e.removals.Add(1)
	e.cfg.Observer.AnchorChanged(Event{
		Cycle:       e.cycle.Load(),
		Subject:     a.Subject,
		SubjectKind: kind,
		Action:      ActionRemove,
		Pos:         a.Pos,
		Level:       a.Level,
		Reason:      reason,
	})
}

// retireAnchor removes an anchor whose subject stopped being luminous, honoring the
// removal policy.
func (e *Engine) retireAnchor(kind model.SubjectKind, a model.Anchor, reason string) {
	if e.cfg.Removal != RemoveFade || a.Level <= e.cfg.FadeLevel {
		e.removeAnchor(kind, a, reason)
		return
	}
	e.cfg.Gateway.RemoveLight(a.Pos)
	e.cfg.Gateway.PlaceLight(a.Pos, e.cfg.FadeLevel)
	if e.cfg.Gateway.BlockKindAt(a.Pos) != model.BlockLight {
		e.removals.Add(1)
		e.cfg.Observer.AnchorChanged(Event{
			Cycle: e.cycle.Load(), Subject: a.Subject, SubjectKind: kind,
			Action: ActionRemove, Pos: a.Pos, Level: a.Level, Reason: reason,
		})
		return
	}
	e.fades.Push(fading{pos: a.Pos, subject: a.Subject, ticksLeft: e.cfg.FadeTicks})
	e.cfg.Observer.AnchorChanged(Event{
		Cycle:       e.cycle.Load(),
		Subject:     a.Subject,
		SubjectKind: kind,
		Action:      ActionFade,
		Pos:         a.Pos,
		Level:       e.cfg.FadeLevel,
		Reason:      reason,
	})
}

func (e *Engine) advanceFades(rep *TickReport) {
	for _, f := range e.fades.Advance() {
		e.removeAnchor(0, model.Anchor{Subject: f.subject, Pos: f.pos, Level: e.cfg.FadeLevel}, ReasonFadeExpired)
		rep.FadeExpired++
		rep.Removed++
	}
}

// ShutdownAndClear removes every anchor and forgets every subject. Handlers called
// afterwards are no-ops. It is safe to call while Tick is running.
func (e *Engine) ShutdownAndClear() {
	e.closed.Store(true)
	n := e.clearAll()
	e.cfg.Logger.Printf("light engine shut down: removed %d anchors", n)
}

func (e *Engine) Closed() bool { return e.closed.Load() }

func (e *Engine) clearAll() int {
	recs := e.tracked.DrainAll()
	e.pending.Drain()
	n := 0
	for _, id := range sortedIDs(recs) {
		r := recs[id]
		if !r.anchored {
			continue
		}
		e.removeAnchor(r.kind, r.anchor, ReasonShutdown)
		n++
	}
	for _, f := range e.fades.DrainAll() {
		e.removeAnchor(0, model.Anchor{Subject: f.subject, Pos: f.pos, Level: e.cfg.FadeLevel}, ReasonShutdown)
		n++
	}
	return n
}

// Anchors returns the live anchors ordered by position.
func (e *Engine) Anchors() []model.Anchor {
	snap := e.tracked.Snapshot()
	out := make([]model.Anchor, 0, len(snap))
	for _, r := range snap {
		if r.anchored {
			out = append(out, r.anchor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return model.Less(out[i].Pos, out[j].Pos) })
	return out
}

func (e *Engine) AnchorOf(id model.SubjectID) (model.Anchor, bool) {
	r, ok := e.tracked.Get(id)
	if !ok || !r.anchored {
		return model.Anchor{}, false
	}
	return r.anchor, true
}

// Explain classifies every candidate around a live subject the way the next
// reconcile would see them. ok is false when the host does not know the subject.
func (e *Engine) Explain(id model.SubjectID) (cands []locate.Candidate, ok bool) {
	s, live := e.cfg.Subjects.LookupSubject(id)
	if !live {
		return nil, false
	}
	var own *model.Vec3i
	if r, tracked := e.tracked.Get(id); tracked && r.anchored {
		p := r.anchor.Pos
		own = &p
	}
	return e.LocatorFor(s.Kind).Explain(s.Pos.Block(), safety.OriginOf(s), own), true
}

// Fixtures lists the block kinds lights keep clear of.
func (e *Engine) Fixtures() []string { return e.safety.InteractableKinds() }

func (e *Engine) Tracking(id model.SubjectID) bool {
	_, ok := e.tracked.Get(id)
	return ok
}

func (e *Engine) TrackedCount() int { return e.tracked.Len() }

func (e *Engine) Pending(id model.SubjectID) bool { return e.pending.Has(id) }

func (e *Engine) Stats() Stats {
	return Stats{
		Cycles:       e.cycle.Load(),
		SkippedTicks: e.skipped.Load(),
		Placements:   e.placements.Load(),
		Removals:     e.removals.Load(),
		Elided:       e.elided.Load(),
		NoCandidate:  e.noCandidate.Load(),
		StalePlaces:  e.stale.Load(),
		Evictions:    e.evictions.Load(),
		Reconciles:   e.reconciles.Load(),
		Overwritten:  e.lost.Load(),
		TrackedNow:   e.tracked.Len(),
		PendingNow:   e.pending.Len(),
		FadingNow:    e.fades.Len(),
		AnchorsNow:   len(e.Anchors()),
	}
}
