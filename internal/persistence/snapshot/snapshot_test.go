package snapshot

import (
	"path/filepath"
	"testing"
)

func TestWriteRead_RoundTrip(t *testing.T) {
	p := Path(t.TempDir(), 42)
	in := SnapshotV1{
		Header:  Header{WorldID: "w", Tick: 42},
		Seed:    7,
		Height:  16,
		Palette: []string{"AIR", "LIGHT", "STONE"},
		Chunks:  []ChunkV1{{CX: 0, CZ: -1, Height: 16, Blocks: make([]uint16, 16*16*16)}},
		Lights:  []LightV1{{Pos: [3]int{1, 2, 3}, Level: 14}},
		Items:   []ItemEntityV1{{ID: "i1", Item: "TORCH", Count: 1, Pos: [3]float64{0.5, 9, 0.5}}},
	}
	if err := WriteSnapshot(p, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	h, err := ReadHeader(p)
	if err != nil || h.Tick != 42 || h.Version != Version {
		t.Fatalf("header=%+v err=%v", h, err)
	}
	out, err := ReadSnapshot(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Seed != 7 || len(out.Chunks) != 1 || out.Chunks[0].CZ != -1 || out.Lights[0].Level != 14 || out.Items[0].Item != "TORCH" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestReadSnapshot_Missing(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.snap.zst")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
