package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	persistlog "dynlight.ai/internal/persistence/log"
	"dynlight.ai/internal/persistence/snapshot"
	"dynlight.ai/internal/sim/world"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst (optional; prints a header and skips earlier entries)")
		anchorsDir = flag.String("anchors", "", "dir containing anchors-*.jsonl.zst")
		fromTick   = flag.Uint64("from_tick", 0, "skip entries before this tick (optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop after this tick (inclusive, optional)")
		maxReport  = flag.Int("max_violations", 20, "violations to print before giving up")
	)
	flag.Parse()

	if *anchorsDir == "" {
		fmt.Fprintln(os.Stderr, "missing -anchors")
		os.Exit(2)
	}

	start := *fromTick
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d world=%s tick=%d items=%d disabled=%d\n",
			snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, len(snap.Items), len(snap.DisabledSubjects))
		// Anchors never survive a restart, so the log resumes with nothing lit.
		if start <= snap.Header.Tick {
			start = snap.Header.Tick + 1
		}
	}

	files, err := listAnchorFiles(*anchorsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list anchors:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no anchor files found in", *anchorsDir)
		os.Exit(1)
	}

	v := newVerifier()
	for _, path := range files {
		if err := replayFile(v, path, start, *toTick); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}

	r := v.report()
	for i, msg := range r.Violations {
		if i >= *maxReport {
			fmt.Printf("... %d more\n", len(r.Violations)-i)
			break
		}
		fmt.Println("violation:", msg)
	}
	fmt.Printf("replay %s: events=%d place=%d remove=%d fade=%d restarts=%d lit_at_end=%d fading_at_end=%d\n",
		r.status(), r.Events, r.Places, r.Removes, r.Fades, r.Restarts, r.LitAtEnd, r.FadingAtEnd)
	if len(r.Violations) > 0 {
		os.Exit(1)
	}
}

func listAnchorFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "anchors-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func replayFile(v *verifier, path string, fromTick, toTick uint64) error {
	return persistlog.ReadJSONL(path, func(line []byte) error {
		var entry world.AnchorLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if entry.Tick < fromTick {
			return nil
		}
		if toTick != 0 && entry.Tick > toTick {
			return nil
		}
		v.apply(entry)
		return nil
	})
}
