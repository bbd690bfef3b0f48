// Package locate picks where a subject's light anchor goes.
package locate

import (
	"dynlight.ai/internal/lighting/model"
	"dynlight.ai/internal/lighting/safety"
)

// DefaultPlayerOffsets tries head height beside the player first, then straight
// above, then chest height.
var DefaultPlayerOffsets = []model.Vec3i{
	{X: 1, Y: 2, Z: 0},
	{X: -1, Y: 2, Z: 0},
	{X: 0, Y: 2, Z: 1},
	{X: 0, Y: 2, Z: -1},
	{X: 0, Y: 3, Z: 0},
	{X: 1, Y: 1, Z: 0},
	{X: -1, Y: 1, Z: 0},
	{X: 0, Y: 1, Z: 1},
	{X: 0, Y: 1, Z: -1},
}

var DefaultItemOffsets = []model.Vec3i{
	{X: 0, Y: 1, Z: 0},
	{X: 1, Y: 1, Z: 0},
	{X: -1, Y: 1, Z: 0},
	{X: 0, Y: 1, Z: 1},
	{X: 0, Y: 1, Z: -1},
	{X: 0, Y: 2, Z: 0},
}

// Locator enumerates a fixed offset list in order. Identical world state and
// origin always give the same answer.
type Locator struct {
	offsets []model.Vec3i
	safety  *safety.Classifier
}

func New(offsets []model.Vec3i, classifier *safety.Classifier) *Locator {
	return &Locator{
		offsets: append([]model.Vec3i(nil), offsets...),
		safety:  classifier,
	}
}

func (l *Locator) Offsets() []model.Vec3i {
	return append([]model.Vec3i(nil), l.offsets...)
}

// Locate returns the first offset from base that the classifier accepts. own is the
// caller's current anchor, if any; it counts as unoccupied so an unchanged position
// can be chosen again.
func (l *Locator) Locate(base model.Vec3i, origin safety.Origin, own *model.Vec3i) (model.Vec3i, bool) {
	if l == nil || l.safety == nil {
		return model.Vec3i{}, false
	}
	c := l.classifier(own)
	for _, off := range l.offsets {
		p := base.Add(off)
		if c.IsSafe(p, origin) {
			return p, true
		}
	}
	return model.Vec3i{}, false
}

type Candidate struct {
	Pos     model.Vec3i
	Offset  model.Vec3i
	Verdict safety.Verdict
}

// Explain classifies every offset, in priority order.
func (l *Locator) Explain(base model.Vec3i, origin safety.Origin, own *model.Vec3i) []Candidate {
	if l == nil || l.safety == nil {
		return nil
	}
	c := l.classifier(own)
	out := make([]Candidate, 0, len(l.offsets))
	for _, off := range l.offsets {
		p := base.Add(off)
		out = append(out, Candidate{Pos: p, Offset: off, Verdict: c.Classify(p, origin)})
	}
	return out
}

func (l *Locator) classifier(own *model.Vec3i) *safety.Classifier {
	base := l.safety.Reader()
	if own == nil || base == nil {
		return l.safety
	}
	return l.safety.WithWorld(ownAnchorView{base: base, own: *own})
}

// ownAnchorView reads the caller's own anchor block as air, as long as it still
// holds a light. Anything else placed there is seen as it is.
type ownAnchorView struct {
	base safety.BlockReader
	own  model.Vec3i
}

func (v ownAnchorView) mine(p model.Vec3i) bool {
	return p == v.own && v.base.BlockKindAt(p) == model.BlockLight
}

func (v ownAnchorView) IsUnoccupied(p model.Vec3i) bool {
	if v.mine(p) {
		return true
	}
	return v.base.IsUnoccupied(p)
}

func (v ownAnchorView) BlockKindAt(p model.Vec3i) string {
	if v.mine(p) {
		return model.BlockAir
	}
	return v.base.BlockKindAt(p)
}
