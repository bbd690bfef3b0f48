package worldtest

import (
	"testing"

	"dynlight.ai/internal/lighting/model"
	"dynlight.ai/internal/persistence/snapshot"
	world "dynlight.ai/internal/sim/world"
)

func TestSnapshotRoundTrip_DroppedItemRelit(t *testing.T) {
	cats := testCatalogs(t)
	h := NewHarness(t, testConfig(), cats, "dropper")
	h.Step(setHand("GLOWSTONE"))
	h.Step(drop())
	h.StepNoop(20)

	before := h.W.Lights().Anchors()
	if len(before) != 1 {
		t.Fatalf("anchors before snapshot: got %d", len(before))
	}

	tick, snap := h.Snapshot()
	path := snapshot.Path(t.TempDir(), tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	back, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	w2, err := world.New(testConfig(), cats)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	if err := w2.ImportSnapshot(back); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := w2.BlockKindAt(before[0].Pos); got != model.BlockAir {
		t.Fatalf("stray light at %v after import: %s", before[0].Pos, got)
	}

	h2 := NewHarnessWithWorld(t, w2, cats, "")
	if h2.W.CurrentTick() != h.W.CurrentTick() {
		t.Fatalf("tick: got %d want %d", h2.W.CurrentTick(), h.W.CurrentTick())
	}
	h2.StepNoop(2)

	after := h2.W.Lights().Anchors()
	if len(after) != 1 {
		t.Fatalf("anchors after resume: got %d", len(after))
	}
	if after[0].Pos != before[0].Pos || after[0].Level != before[0].Level {
		t.Fatalf("anchor moved across restart: before %+v after %+v", before[0], after[0])
	}
	if got := h2.W.BlockKindAt(after[0].Pos); got != model.BlockLight {
		t.Fatalf("restored anchor block: %s", got)
	}
	places := 0
	for _, e := range h2.Anchors.Entries {
		if e.Action == "PLACE" && e.Kind == "ITEM" {
			places++
		}
	}
	if places != 1 {
		t.Fatalf("item PLACE events after resume: %d", places)
	}
}
