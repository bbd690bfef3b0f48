package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "dynlight.ai/internal/persistence/log"
	"dynlight.ai/internal/persistence/snapshot"
)

type snapshotSummary struct {
	Path             string              `json:"path"`
	WorldID          string              `json:"world_id"`
	Tick             uint64              `json:"tick"`
	Seed             int64               `json:"seed"`
	Height           int                 `json:"height"`
	Chunks           int                 `json:"chunks"`
	Items            int                 `json:"items"`
	ItemsByKind      map[string]int      `json:"items_by_kind,omitempty"`
	DisabledSubjects int                 `json:"disabled_subjects"`
	LightLevels      int                 `json:"light_levels"`
	StrayLights      [][3]int            `json:"stray_lights"`
	Counters         snapshot.CountersV1 `json:"counters"`
}

// summarize reports what a snapshot holds. LIGHT blocks are "stray": a clean
// shutdown clears every anchor first, so any left over came from a crash.
func summarize(path string, snap snapshot.SnapshotV1) snapshotSummary {
	s := snapshotSummary{
		Path:             path,
		WorldID:          snap.Header.WorldID,
		Tick:             snap.Header.Tick,
		Seed:             snap.Seed,
		Height:           snap.Height,
		Chunks:           len(snap.Chunks),
		Items:            len(snap.Items),
		DisabledSubjects: len(snap.DisabledSubjects),
		LightLevels:      len(snap.Lights),
		StrayLights:      [][3]int{},
		Counters:         snap.Counters,
	}
	for _, it := range snap.Items {
		if s.ItemsByKind == nil {
			s.ItemsByKind = map[string]int{}
		}
		s.ItemsByKind[it.Item] += it.Count
	}
	light := paletteID(snap.Palette, "LIGHT")
	if light < 0 {
		return s
	}
	for _, ch := range snap.Chunks {
		for i, b := range ch.Blocks {
			if int(b) != light {
				continue
			}
			lx := i % 16
			lz := (i / 16) % 16
			y := i / 256
			s.StrayLights = append(s.StrayLights, [3]int{ch.CX*16 + lx, y, ch.CZ*16 + lz})
		}
	}
	return s
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (used when -snapshot is empty)")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -snapshot")
			os.Exit(2)
		}
		path = latestSnapshot(filepath.Join(*dataDir, "worlds", *worldID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summarize(path, snap))
}

// logCmd decodes the zstd JSONL streams ("anchors" or "audit") to stdout.
func logCmd(args []string) {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	subject := fs.String("subject", "", "only lines mentioning this subject or actor id")
	sinceTick := fs.Uint64("since_tick", 0, "skip entries before this tick")
	_ = fs.Parse(args)

	stream := "anchors"
	if fs.NArg() > 0 {
		stream = strings.TrimSpace(fs.Arg(0))
	}
	if stream != "anchors" && stream != "audit" {
		fmt.Fprintf(os.Stderr, "unknown stream %q (want anchors|audit)\n", stream)
		os.Exit(2)
	}
	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}

	files, err := persistlog.Files(filepath.Join(*dataDir, "worlds", *worldID), stream)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	filter := logFilter{Subject: strings.TrimSpace(*subject), SinceTick: *sinceTick}
	for _, f := range files {
		err := persistlog.ReadJSONL(f, func(line []byte) error {
			if filter.match(line) {
				fmt.Println(string(line))
			}
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(f), err)
			os.Exit(1)
		}
	}
}

type logFilter struct {
	Subject   string
	SinceTick uint64
}

func (f logFilter) match(line []byte) bool {
	var head struct {
		Tick    uint64 `json:"tick"`
		Subject string `json:"subject"`
		Actor   string `json:"actor"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return false
	}
	if head.Tick < f.SinceTick {
		return false
	}
	if f.Subject != "" && head.Subject != f.Subject && head.Actor != f.Subject {
		return false
	}
	return true
}
