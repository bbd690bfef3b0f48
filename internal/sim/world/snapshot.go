package world

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"dynlight.ai/internal/lighting/model"
	"dynlight.ai/internal/persistence/snapshot"
)

func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			Tick:    nowTick,
		},
		Seed:      w.cfg.Seed,
		TickRate:  w.cfg.TickRateHz,
		Height:    w.cfg.Height,
		GroundY:   w.cfg.GroundY,
		BoundaryR: w.cfg.BoundaryR,
		Palette:   append([]string(nil), w.catalogs.Blocks.Palette...),
	}

	for _, k := range w.chunks.LoadedChunkKeys() {
		ch, _ := w.chunks.Chunk(k)
		snap.Chunks = append(snap.Chunks, snapshot.ChunkV1{
			CX:     ch.CX,
			CZ:     ch.CZ,
			Height: ch.Height,
			Blocks: append([]uint16(nil), ch.Blocks...),
		})
	}
	for _, pos := range w.chunks.LightPositions() {
		snap.Lights = append(snap.Lights, snapshot.LightV1{Pos: pos.ToArray(), Level: w.chunks.LightLevel(pos)})
	}
	for _, id := range sortedItemIDs(w.items) {
		it := w.items[id]
		snap.Items = append(snap.Items, snapshot.ItemEntityV1{
			ID:              it.ID.String(),
			Item:            it.Item,
			Count:           it.Count,
			Pos:             it.Pos.ToArray(),
			Resting:         it.Resting,
			SpawnTick:       it.SpawnTick,
			ExpiresTick:     it.ExpiresTick,
			PickupAfterTick: it.PickupAfterTick,
		})
	}
	snap.DisabledSubjects = w.disabledIDs()
	sort.Strings(snap.DisabledSubjects)

	st := w.lights.Load().Stats()
	snap.Counters = snapshot.CountersV1{
		Placements: w.basePlacements + st.Placements,
		Removals:   w.baseRemovals + st.Removals,
	}
	return snap
}

// ImportSnapshot restores world state. Light anchors never survive a restart: any
// LIGHT block found in the snapshot is a leftover of an unclean shutdown and is
// purged. It must be called before Run.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	if snap.Height != w.cfg.Height {
		return fmt.Errorf("snapshot height %d does not match world height %d", snap.Height, w.cfg.Height)
	}

	// Remap palette ids in case the catalog changed order.
	remap := make([]uint16, len(snap.Palette))
	for i, id := range snap.Palette {
		v, ok := w.catalogs.Blocks.Index[id]
		if !ok {
			return fmt.Errorf("snapshot block %q missing from catalog", id)
		}
		remap[i] = v
	}

	want := chunkSize * chunkSize * w.cfg.Height
	purged := 0
	for _, c := range snap.Chunks {
		if len(c.Blocks) != want {
			return fmt.Errorf("chunk %d,%d: %d blocks, want %d", c.CX, c.CZ, len(c.Blocks), want)
		}
		ch := &Chunk{CX: c.CX, CZ: c.CZ, Height: w.cfg.Height, Blocks: make([]uint16, want)}
		for i, b := range c.Blocks {
			if int(b) >= len(remap) {
				return fmt.Errorf("chunk %d,%d: block id %d outside palette", c.CX, c.CZ, b)
			}
			v := remap[b]
			if v == w.lightID {
				v = w.airID
				purged++
			}
			ch.Blocks[i] = v
		}
		w.chunks.PutChunk(ch)
	}
	w.chunks.levels = map[model.Vec3i]int{}

	w.items = map[uuid.UUID]*ItemEntity{}
	for _, e := range snap.Items {
		id, err := uuid.Parse(e.ID)
		if err != nil {
			return fmt.Errorf("item %q: %w", e.ID, err)
		}
		w.items[id] = &ItemEntity{
			ID:              id,
			Item:            e.Item,
			Count:           e.Count,
			Pos:             model.VecfFromArray(e.Pos),
			Resting:         e.Resting,
			SpawnTick:       e.SpawnTick,
			ExpiresTick:     e.ExpiresTick,
			PickupAfterTick: e.PickupAfterTick,
		}
	}
	w.SetDisabledSubjects(snap.DisabledSubjects)

	w.basePlacements = snap.Counters.Placements
	w.baseRemovals = snap.Counters.Removals
	w.tick.Store(snap.Header.Tick + 1)
	w.remarkAll(w.lights.Load())

	if purged > 0 {
		w.logger.Printf("snapshot tick=%d: purged %d stray light blocks", snap.Header.Tick, purged)
	}
	return nil
}
