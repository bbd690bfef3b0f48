package main

import (
	"fmt"

	"dynlight.ai/internal/sim/world"
)

type anchorEntry = world.AnchorLogEntry

// verifier folds an anchor log into the set of lights it implies and records every
// entry that contradicts it. A subject owns at most one light; a position has at
// most one owner; REMOVE and FADE must name the light the subject actually owns.
type verifier struct {
	lastTick uint64
	seen     bool

	lit    map[string]lightRec // subject -> live anchor
	owner  map[[3]int]string   // position -> subject, live or fading
	fading map[[3]int]string

	rep verifyReport
}

type lightRec struct {
	Pos   [3]int
	Level int
	Tick  uint64
}

type verifyReport struct {
	Events      int
	Places      int
	Removes     int
	Fades       int
	Restarts    int
	LitAtEnd    int
	FadingAtEnd int
	Violations  []string
}

func (r verifyReport) status() string {
	if len(r.Violations) == 0 {
		return "ok"
	}
	return fmt.Sprintf("FAILED (%d violations)", len(r.Violations))
}

func newVerifier() *verifier {
	v := &verifier{}
	v.reset()
	return v
}

func (v *verifier) reset() {
	v.lit = map[string]lightRec{}
	v.owner = map[[3]int]string{}
	v.fading = map[[3]int]string{}
}

func (v *verifier) violate(e anchorEntry, format string, args ...any) {
	msg := fmt.Sprintf("tick=%d subject=%s %s: ", e.Tick, e.Subject, e.Action) + fmt.Sprintf(format, args...)
	v.rep.Violations = append(v.rep.Violations, msg)
}

func (v *verifier) apply(e anchorEntry) {
	// Ticks only move backwards when a server resumed from an older snapshot after
	// a crash. Nothing was lit at that point.
	if v.seen && e.Tick < v.lastTick {
		v.rep.Restarts++
		v.reset()
	}
	v.seen = true
	v.lastTick = e.Tick
	v.rep.Events++

	switch e.Action {
	case "PLACE":
		v.rep.Places++
		if cur, ok := v.lit[e.Subject]; ok {
			v.violate(e, "already lit at %v since tick %d", cur.Pos, cur.Tick)
			delete(v.owner, cur.Pos)
		}
		if other, ok := v.owner[e.Pos]; ok {
			v.violate(e, "position %v already owned by %s", e.Pos, other)
		}
		v.lit[e.Subject] = lightRec{Pos: e.Pos, Level: e.Level, Tick: e.Tick}
		v.owner[e.Pos] = e.Subject
	case "FADE":
		v.rep.Fades++
		cur, ok := v.lit[e.Subject]
		if !ok || cur.Pos != e.Pos {
			v.violate(e, "fading %v which the subject does not own", e.Pos)
		}
		delete(v.lit, e.Subject)
		v.fading[e.Pos] = e.Subject
		v.owner[e.Pos] = e.Subject
	case "REMOVE":
		v.rep.Removes++
		if sub, ok := v.fading[e.Pos]; ok && sub == e.Subject {
			delete(v.fading, e.Pos)
			delete(v.owner, e.Pos)
			return
		}
		cur, ok := v.lit[e.Subject]
		if !ok {
			// An orphaned light was placed but never committed, so it has no PLACE entry.
			if e.Reason != "ORPHANED" {
				v.violate(e, "removing %v with nothing lit", e.Pos)
			}
			return
		}
		if cur.Pos != e.Pos {
			v.violate(e, "removing %v but lit at %v", e.Pos, cur.Pos)
		}
		delete(v.lit, e.Subject)
		delete(v.owner, cur.Pos)
	default:
		v.violate(e, "unknown action")
	}
}

func (v *verifier) report() verifyReport {
	r := v.rep
	r.LitAtEnd = len(v.lit)
	r.FadingAtEnd = len(v.fading)
	return r
}
