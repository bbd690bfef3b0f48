package world

import (
	"math"

	"github.com/google/uuid"

	"dynlight.ai/internal/lighting/model"
	"dynlight.ai/internal/protocol"
)

func (w *World) spawnItemEntity(nowTick uint64, pos model.Vec3f, item string, count int) *ItemEntity {
	if item == "" || count <= 0 {
		return nil
	}
	it := &ItemEntity{
		ID:              uuid.New(),
		Item:            item,
		Count:           count,
		Pos:             pos,
		SpawnTick:       nowTick,
		ExpiresTick:     nowTick + uint64(w.cfg.ItemTTLTicks),
		PickupAfterTick: nowTick + uint64(w.cfg.PickupDelayTicks),
	}
	w.items[it.ID] = it
	w.lights.Load().OnSubjectMoved(it.subject())
	return it
}

func (w *World) removeItemEntity(id uuid.UUID) {
	if _, ok := w.items[id]; !ok {
		return
	}
	delete(w.items, id)
	w.lights.Load().OnSubjectRemoved(id)
}

// stepItems runs despawns, gravity and pickups. Falling is not announced to the
// engine; its periodic sweep notices the new block.
func (w *World) stepItems(nowTick uint64) {
	for _, id := range sortedItemIDs(w.items) {
		it := w.items[id]
		if nowTick >= it.ExpiresTick {
			w.removeItemEntity(id)
			continue
		}
		if !it.Resting {
			w.fall(it)
			if it.Pos.Y < 0 {
				w.removeItemEntity(id)
				continue
			}
		}
		if nowTick >= it.PickupAfterTick {
			w.tryPickup(nowTick, it)
		}
	}
}

func (w *World) fall(it *ItemEntity) {
	next := it.Pos.Add(model.Vec3f{Y: -w.cfg.FallPerTick})
	below := next.Block()
	if w.isSolid(below) {
		it.Pos.Y = float64(below.Y + 1)
		it.Resting = true
		return
	}
	it.Pos = next
}

// unsettleItemsAbove lets items resting on a broken block fall again.
func (w *World) unsettleItemsAbove(broken model.Vec3i) {
	above := broken.Add(model.Vec3i{Y: 1})
	for _, it := range w.items {
		if it.Resting && it.Pos.Block() == above {
			it.Resting = false
		}
	}
}

// tryPickup hands the item to the closest player in range with a free hand. The
// item's anchor goes away with it and the player's luminance is re-derived.
func (w *World) tryPickup(nowTick uint64, it *ItemEntity) {
	var best *Player
	bestD := math.Inf(1)
	for _, id := range sortedPlayerIDs(w.players) {
		p := w.players[id]
		if p.MainHand != "" && p.OffHand != "" {
			continue
		}
		d := it.Pos.Add(p.Pos.Scale(-1)).Len()
		if d <= w.cfg.PickupRadius && d < bestD {
			best, bestD = p, d
		}
	}
	if best == nil {
		return
	}
	if best.MainHand == "" {
		best.MainHand = it.Item
	} else {
		best.OffHand = it.Item
	}
	w.removeItemEntity(it.ID)
	w.lights.Load().OnLuminanceSourceChanged(best.subject())
	w.pushEvent(best.ID, protocol.Event{
		"t":      nowTick,
		"type":   "PICKUP",
		"item":   it.Item,
		"entity": it.ID.String(),
		"main":   best.MainHand,
		"off":    best.OffHand,
	})
}
