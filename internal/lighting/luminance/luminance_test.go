package luminance

import "testing"

func TestTable_ResolveAndMax(t *testing.T) {
	tbl := NewTable(map[string]int{
		"TORCH":         14,
		"glowstone":     15,
		"SOUL_TORCH":    10,
		"LAVA_BUCKET":   99,
		"REDSTONE_DUST": 0,
		"  ":            7,
	})

	cases := []struct {
		item string
		want int
	}{
		{"TORCH", 14},
		{"torch", 14},
		{"GLOWSTONE", 15},
		{"LAVA_BUCKET", 15},
		{"REDSTONE_DUST", 0},
		{"STONE", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := tbl.Resolve(tc.item); got != tc.want {
			t.Fatalf("Resolve(%q)=%d want %d", tc.item, got, tc.want)
		}
	}
	if got := tbl.Max("STONE", "SOUL_TORCH", "TORCH"); got != 14 {
		t.Fatalf("Max=%d want 14", got)
	}
	if got := tbl.Max(); got != 0 {
		t.Fatalf("Max()=%d want 0", got)
	}
	items := tbl.Items()
	if len(items) != 4 || items[0] != "GLOWSTONE" {
		t.Fatalf("unexpected items: %v", items)
	}
}

func TestTable_Nil(t *testing.T) {
	var tbl *Table
	if tbl.Resolve("TORCH") != 0 || tbl.Max("TORCH") != 0 || tbl.Items() != nil {
		t.Fatalf("nil table must resolve nothing")
	}
}
