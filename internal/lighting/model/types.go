package model

import (
	"math"

	"github.com/google/uuid"
)

// Light level range supported by the host's LIGHT block.
const (
	MinLevel = 0
	MaxLevel = 15
)

// Well-known block kinds.
const (
	BlockAir   = "AIR"
	BlockLight = "LIGHT"
)

type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func (v Vec3i) Center() Vec3f {
	return Vec3f{X: float64(v.X) + 0.5, Y: float64(v.Y) + 0.5, Z: float64(v.Z) + 0.5}
}

func VecFromArray(a [3]int) Vec3i { return Vec3i{X: a[0], Y: a[1], Z: a[2]} }

// DistSq is the squared euclidean distance between two block positions.
func DistSq(a, b Vec3i) int {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return dx*dx + dy*dy + dz*dz
}

func Chebyshev(a, b Vec3i) int {
	return max(abs(a.X-b.X), abs(a.Y-b.Y), abs(a.Z-b.Z))
}

// Less orders positions by X, then Y, then Z.
func Less(a, b Vec3i) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

type Vec3f struct {
	X float64
	Y float64
	Z float64
}

// Block returns the block containing the point.
func (v Vec3f) Block() Vec3i {
	return Vec3i{X: int(math.Floor(v.X)), Y: int(math.Floor(v.Y)), Z: int(math.Floor(v.Z))}
}

func (v Vec3f) Add(o Vec3f) Vec3f { return Vec3f{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3f) Scale(k float64) Vec3f { return Vec3f{X: v.X * k, Y: v.Y * k, Z: v.Z * k} }

func (v Vec3f) Len() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Normalize returns the unit vector, or the zero vector for a zero input.
func (v Vec3f) Normalize() Vec3f {
	l := v.Len()
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return Vec3f{}
	}
	return v.Scale(1 / l)
}

func (v Vec3f) ToArray() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func VecfFromArray(a [3]float64) Vec3f { return Vec3f{X: a[0], Y: a[1], Z: a[2]} }

// FacingFromYawPitch converts degrees (yaw 0 = +Z, 90 = -X; pitch positive looks down)
// to a unit direction.
func FacingFromYawPitch(yaw, pitch float64) Vec3f {
	y := yaw * math.Pi / 180
	p := pitch * math.Pi / 180
	return Vec3f{
		X: -math.Sin(y) * math.Cos(p),
		Y: -math.Sin(p),
		Z: math.Cos(y) * math.Cos(p),
	}
}

func ClampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// SubjectID is the stable identity of a tracked entity. It never changes while the
// entity moves, so it is the only key used for subject bookkeeping.
type SubjectID = uuid.UUID

type SubjectKind int

const (
	KindPlayer SubjectKind = iota + 1
	KindDroppedItem
)

func (k SubjectKind) String() string {
	switch k {
	case KindPlayer:
		return "PLAYER"
	case KindDroppedItem:
		return "ITEM"
	default:
		return "UNKNOWN"
	}
}

// Subject is a point-in-time view of a player or dropped item.
type Subject struct {
	ID     SubjectID
	Kind   SubjectKind
	Pos    Vec3f
	Facing Vec3f
	// Items are the luminance sources: main and off hand for players, the stack
	// itself for dropped items.
	Items []string
}

// Eye is the point lines of sight are cast from.
func (s Subject) Eye() Vec3f {
	if s.Kind == KindPlayer {
		return s.Pos.Add(Vec3f{Y: 1.62})
	}
	return s.Pos.Add(Vec3f{Y: 0.25})
}

// Anchor is a placed LIGHT block owned by one subject.
type Anchor struct {
	Subject SubjectID
	Pos     Vec3i
	Level   int
}
