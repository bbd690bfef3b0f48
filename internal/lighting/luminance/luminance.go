// Package luminance maps item ids to configured light levels.
package luminance

import (
	"sort"
	"strings"

	"dynlight.ai/internal/lighting/model"
)

// Table is immutable; Resolve is safe for concurrent use.
type Table struct {
	levels map[string]int
}

func NewTable(levels map[string]int) *Table {
	t := &Table{levels: make(map[string]int, len(levels))}
	for item, lvl := range levels {
		item = normalize(item)
		if item == "" {
			continue
		}
		lvl = model.ClampLevel(lvl)
		if lvl == 0 {
			continue
		}
		t.levels[item] = lvl
	}
	return t
}

// Resolve returns 0 for items that are not luminous.
func (t *Table) Resolve(item string) int {
	if t == nil {
		return 0
	}
	return t.levels[normalize(item)]
}

// Max returns the brightest level among items.
func (t *Table) Max(items ...string) int {
	best := 0
	for _, it := range items {
		if l := t.Resolve(it); l > best {
			best = l
		}
	}
	return best
}

// Items lists the luminous items in sorted order.
func (t *Table) Items() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.levels))
	for k := range t.levels {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalize(item string) string {
	return strings.ToUpper(strings.TrimSpace(item))
}
