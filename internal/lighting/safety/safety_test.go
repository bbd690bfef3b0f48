package safety

import (
	"testing"

	"dynlight.ai/internal/lighting/model"
)

type fakeWorld map[model.Vec3i]string

func (w fakeWorld) BlockKindAt(p model.Vec3i) string {
	if k, ok := w[p]; ok {
		return k
	}
	return model.BlockAir
}

func (w fakeWorld) IsUnoccupied(p model.Vec3i) bool { return w.BlockKindAt(p) == model.BlockAir }

func v(x, y, z int) model.Vec3i { return model.Vec3i{X: x, Y: y, Z: z} }

func originAt(x, y, z int, facing model.Vec3f) Origin {
	s := model.Subject{
		Kind:   model.KindPlayer,
		Pos:    model.Vec3f{X: float64(x) + 0.5, Y: float64(y), Z: float64(z) + 0.5},
		Facing: facing,
	}
	return OriginOf(s)
}

func TestClassify_Rules(t *testing.T) {
	w := fakeWorld{
		v(5, 0, 5):  "STONE",
		v(10, 0, 0): "CHEST",
		v(20, 0, 0): "BARREL",
	}
	c := New(w, DefaultRules())
	o := originAt(-50, 0, -50, model.Vec3f{})

	cases := []struct {
		name string
		pos  model.Vec3i
		want Verdict
	}{
		{"air far from fixtures", v(0, 5, 0), Safe},
		{"solid block", v(5, 0, 5), Occupied},
		{"fixture itself", v(10, 0, 0), Occupied},
		{"diagonal neighbor of chest", v(11, 1, 1), NearFixture},
		{"just outside neighborhood", v(12, 0, 0), Safe},
		{"two above barrel", v(20, 2, 0), AboveFixture},
		{"three above barrel", v(20, 3, 0), AboveFixture},
		{"four above barrel", v(20, 4, 0), Safe},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.pos, o); got != tc.want {
			t.Fatalf("%s: Classify(%v)=%s want %s", tc.name, tc.pos, got, tc.want)
		}
	}
}

func TestClassify_LineOfSightToFacedFixture(t *testing.T) {
	// Player at (0,0,0) looking along +X at a chest four blocks away at eye height.
	w := fakeWorld{v(4, 1, 0): "CHEST"}
	c := New(w, Rules{NeighborhoodRadius: 0, LookDistance: 5, ColumnDepth: 0, Interactable: DefaultInteractable})
	o := originAt(0, 0, 0, model.Vec3f{X: 1})

	path, ok := c.SightLine(o)
	if !ok {
		t.Fatalf("expected the chest to be in sight")
	}
	if len(path) != 3 || path[0] != v(1, 1, 0) || path[2] != v(3, 1, 0) {
		t.Fatalf("unexpected sight path: %v", path)
	}
	if got := c.Classify(v(2, 1, 0), o); got != LineOfSight {
		t.Fatalf("between player and chest: got %s want LINE_OF_SIGHT", got)
	}
	if got := c.Classify(v(2, 2, 0), o); got != Safe {
		t.Fatalf("above the sight line: got %s want SAFE", got)
	}

	// Looking away: the same block is fine.
	away := originAt(0, 0, 0, model.Vec3f{X: -1})
	if got := c.Classify(v(2, 1, 0), away); got != Safe {
		t.Fatalf("looking away: got %s want SAFE", got)
	}
}

func TestSightLine_BlockedBySolid(t *testing.T) {
	w := fakeWorld{v(2, 1, 0): "STONE", v(3, 1, 0): "CHEST"}
	c := New(w, DefaultRules())
	if _, ok := c.SightLine(originAt(0, 0, 0, model.Vec3f{X: 1})); ok {
		t.Fatalf("stone should hide the chest")
	}
}

func TestSightLine_SeesThroughLight(t *testing.T) {
	w := fakeWorld{v(1, 1, 0): model.BlockLight, v(3, 1, 0): "FURNACE"}
	c := New(w, DefaultRules())
	path, ok := c.SightLine(originAt(0, 0, 0, model.Vec3f{X: 1}))
	if !ok || len(path) != 2 {
		t.Fatalf("expected to see the furnace past the light, ok=%v path=%v", ok, path)
	}
}

func TestClassify_Total(t *testing.T) {
	var nilClassifier *Classifier
	if nilClassifier.IsSafe(v(0, 0, 0), Origin{}) {
		t.Fatalf("nil classifier must report unsafe")
	}
	c := New(nil, DefaultRules())
	if got := c.Classify(v(0, 0, 0), Origin{}); got != NoWorld {
		t.Fatalf("nil world: got %s", got)
	}
	neg := New(fakeWorld{}, Rules{NeighborhoodRadius: -3, LookDistance: -1, ColumnDepth: -2})
	if !neg.IsSafe(v(0, 0, 0), originAt(0, 0, 0, model.Vec3f{Y: 1})) {
		t.Fatalf("negative rule values should clamp to zero")
	}
}

func TestClassify_ContainmentAroundFixture(t *testing.T) {
	w := fakeWorld{v(1, 1, 0): "SHULKER_BOX"}
	c := New(w, DefaultRules())
	o := originAt(0, 0, 0, model.Vec3f{Z: 1})
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				p := v(1+dx, 1+dy, dz)
				if c.IsSafe(p, o) {
					t.Fatalf("%v is inside the fixture neighborhood but classified safe", p)
				}
			}
		}
	}
}

func TestInteractableKinds_Sorted(t *testing.T) {
	c := New(fakeWorld{}, Rules{Interactable: []string{"FURNACE", "BARREL", "CHEST"}})
	got := c.InteractableKinds()
	if len(got) != 3 || got[0] != "BARREL" || got[1] != "CHEST" || got[2] != "FURNACE" {
		t.Fatalf("unexpected kinds: %v", got)
	}
	if c.Interactable("STONE") {
		t.Fatalf("STONE is not a fixture")
	}
}
