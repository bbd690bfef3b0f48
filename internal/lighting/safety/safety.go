// Package safety decides whether a light anchor may occupy a block.
//
// A position is safe when it is unoccupied, no interactable fixture sits in its
// neighborhood, it is not on the line of sight between the subject and a fixture the
// subject faces, and no fixture lies below it in the same column. Lights placed next
// to or above storage blocks made chest lids render wrongly, which is what rules 2-4
// guard against.
package safety

import (
	"sort"

	"dynlight.ai/internal/lighting/model"
)

// BlockReader is the read-only view of world blocks.
type BlockReader interface {
	IsUnoccupied(pos model.Vec3i) bool
	BlockKindAt(pos model.Vec3i) string
}

// DefaultInteractable lists storage, crafting and processing fixtures.
var DefaultInteractable = []string{
	"CHEST",
	"TRAPPED_CHEST",
	"ENDER_CHEST",
	"BARREL",
	"SHULKER_BOX",
	"CRAFTING_TABLE",
	"FURNACE",
	"BLAST_FURNACE",
	"SMOKER",
	"ANVIL",
	"ENCHANTING_TABLE",
	"BREWING_STAND",
	"HOPPER",
}

const (
	DefaultNeighborhoodRadius = 1
	DefaultLookDistance       = 4.0
	DefaultColumnDepth        = 3

	sightStep = 0.25
)

type Rules struct {
	// NeighborhoodRadius is the half-size of the cube around a candidate that must be
	// free of interactable fixtures.
	NeighborhoodRadius int
	// LookDistance bounds how far along the facing direction fixtures are searched.
	LookDistance float64
	// ColumnDepth is how many blocks below a candidate are checked for fixtures.
	ColumnDepth int
	// Interactable is the set of fixture block kinds.
	Interactable []string
}

func DefaultRules() Rules {
	return Rules{
		NeighborhoodRadius: DefaultNeighborhoodRadius,
		LookDistance:       DefaultLookDistance,
		ColumnDepth:        DefaultColumnDepth,
		Interactable:       append([]string(nil), DefaultInteractable...),
	}
}

// Origin is where the subject looks from.
type Origin struct {
	Eye    model.Vec3f
	Facing model.Vec3f
}

func OriginOf(s model.Subject) Origin {
	return Origin{Eye: s.Eye(), Facing: s.Facing}
}

type Verdict int

const (
	Safe Verdict = iota
	Occupied
	NearFixture
	LineOfSight
	AboveFixture
	NoWorld
)

func (v Verdict) String() string {
	switch v {
	case Safe:
		return "SAFE"
	case Occupied:
		return "OCCUPIED"
	case NearFixture:
		return "NEAR_FIXTURE"
	case LineOfSight:
		return "LINE_OF_SIGHT"
	case AboveFixture:
		return "ABOVE_FIXTURE"
	case NoWorld:
		return "NO_WORLD"
	default:
		return "UNKNOWN"
	}
}

// Classifier is immutable after construction and safe for concurrent use as long as
// the reader is.
type Classifier struct {
	world        BlockReader
	radius       int
	lookDistance float64
	columnDepth  int
	interactable map[string]struct{}
}

func New(world BlockReader, rules Rules) *Classifier {
	if rules.NeighborhoodRadius < 0 {
		rules.NeighborhoodRadius = 0
	}
	if rules.LookDistance < 0 {
		rules.LookDistance = 0
	}
	if rules.ColumnDepth < 0 {
		rules.ColumnDepth = 0
	}
	set := make(map[string]struct{}, len(rules.Interactable))
	for _, k := range rules.Interactable {
		set[k] = struct{}{}
	}
	return &Classifier{
		world:        world,
		radius:       rules.NeighborhoodRadius,
		lookDistance: rules.LookDistance,
		columnDepth:  rules.ColumnDepth,
		interactable: set,
	}
}

// WithWorld returns a classifier with the same rules reading from another world view.
func (c *Classifier) WithWorld(world BlockReader) *Classifier {
	cp := *c
	cp.world = world
	return &cp
}

func (c *Classifier) Reader() BlockReader {
	if c == nil {
		return nil
	}
	return c.world
}

func (c *Classifier) Interactable(kind string) bool {
	_, ok := c.interactable[kind]
	return ok
}

// InteractableKinds returns the fixture set in sorted order.
func (c *Classifier) InteractableKinds() []string {
	out := make([]string, 0, len(c.interactable))
	for k := range c.interactable {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Classifier) IsSafe(candidate model.Vec3i, origin Origin) bool {
	return c.Classify(candidate, origin) == Safe
}

// Classify returns Safe or the first rule the candidate fails.
func (c *Classifier) Classify(candidate model.Vec3i, origin Origin) Verdict {
	if c == nil || c.world == nil {
		return NoWorld
	}
	if !c.world.IsUnoccupied(candidate) {
		return Occupied
	}
	if c.fixtureNear(candidate) {
		return NearFixture
	}
	if c.onSightLine(candidate, origin) {
		return LineOfSight
	}
	if c.fixtureBelow(candidate) {
		return AboveFixture
	}
	return Safe
}

func (c *Classifier) fixtureNear(p model.Vec3i) bool {
	r := c.radius
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			for dz := -r; dz <= r; dz++ {
				if c.Interactable(c.world.BlockKindAt(p.Add(model.Vec3i{X: dx, Y: dy, Z: dz}))) {
					return true
				}
			}
		}
	}
	return false
}

func (c *Classifier) fixtureBelow(p model.Vec3i) bool {
	for dy := 1; dy <= c.columnDepth; dy++ {
		if c.Interactable(c.world.BlockKindAt(model.Vec3i{X: p.X, Y: p.Y - dy, Z: p.Z})) {
			return true
		}
	}
	return false
}

func (c *Classifier) onSightLine(p model.Vec3i, origin Origin) bool {
	path, ok := c.SightLine(origin)
	if !ok {
		return false
	}
	for _, b := range path {
		if b == p {
			return true
		}
	}
	return false
}

// SightLine marches from the eye along the facing direction. When it reaches an
// interactable fixture within LookDistance it returns the blocks crossed before the
// fixture and true. A solid non-fixture block, a zero facing vector or running out of
// distance yields false. LIGHT blocks do not stop the march.
func (c *Classifier) SightLine(origin Origin) ([]model.Vec3i, bool) {
	if c == nil || c.world == nil {
		return nil, false
	}
	dir := origin.Facing.Normalize()
	if dir == (model.Vec3f{}) || c.lookDistance <= 0 {
		return nil, false
	}
	start := origin.Eye.Block()
	last := start
	var path []model.Vec3i
	steps := int(c.lookDistance / sightStep)
	for i := 1; i <= steps; i++ {
		b := origin.Eye.Add(dir.Scale(float64(i) * sightStep)).Block()
		if b == start || b == last {
			continue
		}
		last = b
		kind := c.world.BlockKindAt(b)
		if c.Interactable(kind) {
			return path, true
		}
		if kind != model.BlockLight && !c.world.IsUnoccupied(b) {
			return nil, false
		}
		path = append(path, b)
	}
	return nil, false
}
