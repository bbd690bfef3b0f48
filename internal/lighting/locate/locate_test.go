package locate

import (
	"testing"

	"dynlight.ai/internal/lighting/model"
	"dynlight.ai/internal/lighting/safety"
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

func playerOrigin() safety.Origin {
	return safety.OriginOf(model.Subject{
		Kind:   model.KindPlayer,
		Pos:    model.Vec3f{X: 0.5, Y: 0, Z: 0.5},
		Facing: model.Vec3f{Z: 1},
	})
}

func TestLocate_FirstOffsetInOpenSpace(t *testing.T) {
	l := New(DefaultPlayerOffsets, safety.New(fakeWorld{}, safety.DefaultRules()))
	got, ok := l.Locate(v(0, 0, 0), playerOrigin(), nil)
	if !ok || got != v(1, 2, 0) {
		t.Fatalf("Locate=%v ok=%v want (1,2,0)", got, ok)
	}
}

func TestLocate_SkipsFixtureColumn(t *testing.T) {
	w := fakeWorld{v(1, 2, 0): "CHEST", v(1, 1, 0): "CHEST"}
	l := New(DefaultPlayerOffsets, safety.New(w, safety.DefaultRules()))
	got, ok := l.Locate(v(0, 0, 0), playerOrigin(), nil)
	if !ok || got != v(-1, 2, 0) {
		t.Fatalf("Locate=%v ok=%v want (-1,2,0)", got, ok)
	}
}

func TestLocate_Deterministic(t *testing.T) {
	w := fakeWorld{v(1, 2, 0): "STONE", v(-1, 2, 0): "STONE", v(0, 1, 1): "BARREL"}
	l := New(DefaultPlayerOffsets, safety.New(w, safety.DefaultRules()))
	first, ok := l.Locate(v(0, 0, 0), playerOrigin(), nil)
	if !ok {
		t.Fatalf("expected a candidate")
	}
	for i := 0; i < 50; i++ {
		got, ok := l.Locate(v(0, 0, 0), playerOrigin(), nil)
		if !ok || got != first {
			t.Fatalf("run %d: got %v ok=%v, first was %v", i, got, ok, first)
		}
	}
}

func TestLocate_NeverInsideFixtureNeighborhood(t *testing.T) {
	fixture := v(1, 0, 0)
	w := fakeWorld{fixture: "CHEST"}
	l := New(DefaultPlayerOffsets, safety.New(w, safety.DefaultRules()))

	got, ok := l.Locate(v(0, 0, 0), playerOrigin(), nil)
	if !ok {
		t.Fatalf("expected a candidate")
	}
	if model.Chebyshev(got, fixture) <= 1 {
		t.Fatalf("candidate %v is inside the protected neighborhood", got)
	}
	for _, c := range l.Explain(v(0, 0, 0), playerOrigin(), nil) {
		if model.Chebyshev(c.Pos, fixture) <= 1 && c.Verdict == safety.Safe {
			t.Fatalf("offset %v classified safe next to the fixture", c.Offset)
		}
	}
}

func TestLocate_NoCandidate(t *testing.T) {
	w := fakeWorld{}
	for _, off := range DefaultItemOffsets {
		w[off] = "STONE"
	}
	l := New(DefaultItemOffsets, safety.New(w, safety.DefaultRules()))
	if got, ok := l.Locate(v(0, 0, 0), playerOrigin(), nil); ok {
		t.Fatalf("expected no candidate, got %v", got)
	}
}

func TestLocate_OwnAnchorCountsAsFree(t *testing.T) {
	w := fakeWorld{v(1, 2, 0): model.BlockLight}
	l := New(DefaultPlayerOffsets, safety.New(w, safety.DefaultRules()))

	// Someone else's light blocks the slot.
	if got, _ := l.Locate(v(0, 0, 0), playerOrigin(), nil); got != v(-1, 2, 0) {
		t.Fatalf("foreign light: got %v want (-1,2,0)", got)
	}
	own := v(1, 2, 0)
	if got, _ := l.Locate(v(0, 0, 0), playerOrigin(), &own); got != own {
		t.Fatalf("own light: got %v want %v", got, own)
	}
}

func TestLocate_OwnSlotOverwrittenIsNotFree(t *testing.T) {
	w := fakeWorld{v(1, 2, 0): "CHEST"}
	l := New(DefaultPlayerOffsets, safety.New(w, safety.DefaultRules()))
	own := v(1, 2, 0)

	got, ok := l.Locate(v(0, 0, 0), playerOrigin(), &own)
	if ok && got == own {
		t.Fatalf("returned the overwritten slot %v", own)
	}
	out := l.Explain(v(0, 0, 0), playerOrigin(), &own)
	if out[0].Pos != own || out[0].Verdict == safety.Safe {
		t.Fatalf("own slot verdict: %+v", out[0])
	}
}

func TestExplain_ReportsEveryOffset(t *testing.T) {
	w := fakeWorld{v(1, 2, 0): "STONE"}
	l := New(DefaultPlayerOffsets, safety.New(w, safety.DefaultRules()))
	out := l.Explain(v(0, 0, 0), playerOrigin(), nil)
	if len(out) != len(DefaultPlayerOffsets) {
		t.Fatalf("got %d candidates want %d", len(out), len(DefaultPlayerOffsets))
	}
	if out[0].Verdict != safety.Occupied || out[1].Verdict != safety.Safe {
		t.Fatalf("unexpected verdicts: %v %v", out[0].Verdict, out[1].Verdict)
	}
}

func TestLocate_NilSafe(t *testing.T) {
	var l *Locator
	if _, ok := l.Locate(v(0, 0, 0), safety.Origin{}, nil); ok {
		t.Fatalf("nil locator must not find candidates")
	}
	if _, ok := New(DefaultPlayerOffsets, nil).Locate(v(0, 0, 0), safety.Origin{}, nil); ok {
		t.Fatalf("locator without classifier must not find candidates")
	}
}
