package main

import (
	"path/filepath"
	"testing"

	persistlog "dynlight.ai/internal/persistence/log"
	"dynlight.ai/internal/sim/world"
)

func entry(tick uint64, subject, action string, x, y, z int) world.AnchorLogEntry {
	return world.AnchorLogEntry{Tick: tick, Subject: subject, Kind: "PLAYER", Action: action, Pos: [3]int{x, y, z}, Level: 14}
}

func TestVerifier_CleanLog(t *testing.T) {
	v := newVerifier()
	for _, e := range []world.AnchorLogEntry{
		entry(1, "a", "PLACE", 0, 9, 0),
		entry(2, "a", "REMOVE", 0, 9, 0),
		entry(2, "a", "PLACE", 1, 9, 0),
		entry(3, "b", "PLACE", 0, 9, 0),
		entry(4, "a", "FADE", 1, 9, 0),
		entry(9, "a", "REMOVE", 1, 9, 0),
	} {
		v.apply(e)
	}
	r := v.report()
	if len(r.Violations) != 0 {
		t.Fatalf("violations: %v", r.Violations)
	}
	if r.Places != 3 || r.Removes != 2 || r.Fades != 1 || r.LitAtEnd != 1 || r.FadingAtEnd != 0 {
		t.Fatalf("report: %+v", r)
	}
}

func TestVerifier_FlagsDoubleLightAndSharedPosition(t *testing.T) {
	v := newVerifier()
	v.apply(entry(1, "a", "PLACE", 0, 9, 0))
	v.apply(entry(2, "a", "PLACE", 1, 9, 0))
	v.apply(entry(3, "b", "PLACE", 1, 9, 0))
	v.apply(entry(4, "c", "REMOVE", 5, 9, 5))
	if n := len(v.report().Violations); n != 3 {
		t.Fatalf("violations: got %d %v", n, v.report().Violations)
	}
}

func TestVerifier_RestartResetsLitSet(t *testing.T) {
	v := newVerifier()
	v.apply(entry(100, "a", "PLACE", 0, 9, 0))
	// Crash, then resume from a snapshot at tick 50.
	v.apply(entry(51, "a", "PLACE", 0, 9, 0))
	r := v.report()
	if r.Restarts != 1 || len(r.Violations) != 0 || r.LitAtEnd != 1 {
		t.Fatalf("report: %+v", r)
	}
}

func TestReplayFile_ReadsAnchorLog(t *testing.T) {
	dir := t.TempDir()
	l := persistlog.NewAnchorLogger(dir)
	for _, e := range []world.AnchorLogEntry{
		entry(1, "a", "PLACE", 0, 9, 0),
		entry(5, "a", "REMOVE", 0, 9, 0),
		entry(8, "a", "PLACE", 2, 9, 0),
	} {
		if err := l.WriteAnchor(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := listAnchorFiles(filepath.Join(dir, "anchors"))
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	v := newVerifier()
	if err := replayFile(v, files[0], 2, 0); err != nil {
		t.Fatalf("replay: %v", err)
	}
	// The PLACE at tick 1 is skipped, so the REMOVE at tick 5 has nothing to match.
	r := v.report()
	if r.Events != 2 || len(r.Violations) != 1 || r.LitAtEnd != 1 {
		t.Fatalf("report: %+v", r)
	}
}
