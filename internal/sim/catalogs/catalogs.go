package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type Catalogs struct {
	Blocks BlockCatalog
	Items  ItemCatalog
}

type BlockCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]BlockDef
	PaletteDigest string
	DefsDigest    string
}

type BlockDef struct {
	ID           string `json:"id"`
	Solid        bool   `json:"solid"`
	Interactable bool   `json:"interactable,omitempty"`
	// Container blocks are interactable fixtures whose lid render can glitch under a
	// nearby light (chests, barrels).
	Container bool `json:"container,omitempty"`
	// Double marks container kinds that pair with a neighbor of the same kind.
	Double bool `json:"double,omitempty"`
}

type ItemCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]ItemDef
	PaletteDigest string
	DefsDigest    string
}

type ItemDef struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"` // "BLOCK","TOOL","MATERIAL"
	PlaceAs string `json:"place_as,omitempty"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadBlocks(filepath.Join(configDir, "blocks.json"), &c.Blocks); err != nil {
		return nil, err
	}
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBlocks(path string, out *BlockCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.DefsDigest = sha256Hex(raw)

	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	out.Defs = map[string]BlockDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("blocks.json: empty id")
		}
		if d.Container {
			d.Interactable = true
		}
		out.Defs[d.ID] = d
	}

	// AIR is palette id 0 and LIGHT must exist for anchors to be placeable.
	for _, required := range []string{"AIR", "LIGHT"} {
		if _, ok := out.Defs[required]; !ok {
			return fmt.Errorf("blocks.json: missing %s", required)
		}
	}
	if out.Defs["LIGHT"].Solid {
		return fmt.Errorf("blocks.json: LIGHT must not be solid")
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		if id != "AIR" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	ids = append([]string{"AIR"}, ids...)

	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}

// Interactable lists the fixture block ids in palette order.
func (b *BlockCatalog) Interactable() []string {
	var out []string
	for _, id := range b.Palette {
		if b.Defs[id].Interactable {
			out = append(out, id)
		}
	}
	return out
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.DefsDigest = sha256Hex(raw)

	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.Defs = map[string]ItemDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("items.json: empty id")
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}
