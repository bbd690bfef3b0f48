package world

import (
	"github.com/google/uuid"

	"dynlight.ai/internal/lighting/engine"
	"dynlight.ai/internal/lighting/model"
	"dynlight.ai/internal/protocol"
)

const lightActor = "LIGHT"

// IsUnoccupied reports whether a light may be placed at pos.
func (w *World) IsUnoccupied(pos model.Vec3i) bool {
	return w.chunks.InBounds(pos) && w.chunks.GetBlock(pos) == w.airID
}

func (w *World) BlockKindAt(pos model.Vec3i) string {
	return w.blockName(w.chunks.GetBlock(pos))
}

func (w *World) blockName(b uint16) string {
	pal := w.catalogs.Blocks.Palette
	if int(b) < len(pal) {
		return pal[b]
	}
	return model.BlockAir
}

func (w *World) isSolid(pos model.Vec3i) bool {
	b := w.chunks.GetBlock(pos)
	return int(b) < len(w.solid) && w.solid[b]
}

// PlaceLight puts a LIGHT block at pos. It does nothing unless the block is air.
func (w *World) PlaceLight(pos model.Vec3i, level int) {
	if level <= 0 || !w.IsUnoccupied(pos) {
		return
	}
	w.chunks.SetBlock(pos, w.lightID)
	w.chunks.SetLightLevel(pos, model.ClampLevel(level))
	w.auditSetBlock(w.tick.Load(), lightActor, pos, w.airID, w.lightID, "PLACE_LIGHT")
}

// RemoveLight clears a LIGHT block. It does nothing unless the block is a light.
func (w *World) RemoveLight(pos model.Vec3i) {
	if w.chunks.GetBlock(pos) != w.lightID {
		return
	}
	w.chunks.SetBlock(pos, w.airID)
	w.chunks.SetLightLevel(pos, 0)
	w.auditSetBlock(w.tick.Load(), lightActor, pos, w.lightID, w.airID, "REMOVE_LIGHT")
}

func (w *World) LookupSubject(id model.SubjectID) (model.Subject, bool) {
	if p, ok := w.players[id]; ok {
		return p.subject(), true
	}
	if it, ok := w.items[id]; ok {
		return it.subject(), true
	}
	return model.Subject{}, false
}

func (w *World) TrackingEnabled(id model.SubjectID) bool {
	w.toggleMu.RLock()
	defer w.toggleMu.RUnlock()
	return !w.disabled[id]
}

// setTracking flips the opt-out flag and re-evaluates the subject. It reports
// whether the flag changed.
func (w *World) setTracking(nowTick uint64, id uuid.UUID, enabled bool) bool {
	w.toggleMu.Lock()
	was := !w.disabled[id]
	if enabled {
		delete(w.disabled, id)
	} else {
		w.disabled[id] = true
	}
	w.toggleMu.Unlock()
	if was == enabled {
		return false
	}
	if w.toggleStore != nil {
		if err := w.toggleStore.SaveToggle(id.String(), enabled, nowTick); err != nil {
			w.logger.Printf("save toggle %s: %v", id, err)
		}
	}
	if s, ok := w.LookupSubject(id); ok {
		w.lights.Load().OnLuminanceSourceChanged(s)
	}
	return true
}

func (w *World) disabledIDs() []string {
	w.toggleMu.RLock()
	defer w.toggleMu.RUnlock()
	out := make([]string, 0, len(w.disabled))
	for id := range w.disabled {
		out = append(out, id.String())
	}
	return out
}

// remarkNear re-evaluates the owners of anchors within r blocks of pos, after a
// block edit may have changed what is safe there.
func (w *World) remarkNear(pos model.Vec3i, r int) {
	eng := w.lights.Load()
	for _, a := range eng.Anchors() {
		if model.Chebyshev(a.Pos, pos) > r {
			continue
		}
		if s, ok := w.LookupSubject(a.Subject); ok {
			eng.OnLuminanceSourceChanged(s)
		}
	}
}

func (w *World) auditSetBlock(tick uint64, actor string, pos model.Vec3i, from, to uint16, reason string) {
	if w.auditLogger == nil {
		return
	}
	_ = w.auditLogger.WriteAudit(AuditEntry{
		Tick:   tick,
		Actor:  actor,
		Action: "SET_BLOCK",
		Pos:    pos.ToArray(),
		From:   from,
		To:     to,
		Reason: reason,
	})
}

type anchorLogObserver struct{ w *World }

func (o anchorLogObserver) AnchorChanged(ev engine.Event) {
	if o.w.anchorLogger == nil {
		return
	}
	_ = o.w.anchorLogger.WriteAnchor(AnchorLogEntry{
		Tick:    o.w.tick.Load(),
		Cycle:   ev.Cycle,
		Subject: ev.Subject.String(),
		Kind:    ev.SubjectKind.String(),
		Action:  string(ev.Action),
		Pos:     ev.Pos.ToArray(),
		Level:   ev.Level,
		Reason:  ev.Reason,
	})
}

func (anchorLogObserver) TickDone(engine.TickReport) {}

// flushChestRefreshes sends due chest refreshes to players close enough to see them.
func (w *World) flushChestRefreshes(nowTick uint64) {
	if w.chest == nil {
		return
	}
	due := w.chest.Due(w, nowTick)
	if len(due) == 0 {
		return
	}
	maxD := w.chest.Config().NotifyDistance
	for _, r := range due {
		if len(r.Chests) == 0 {
			continue
		}
		chests := make([][3]int, 0, len(r.Chests))
		for _, c := range r.Chests {
			chests = append(chests, c.ToArray())
		}
		for _, id := range sortedPlayerIDs(w.players) {
			p := w.players[id]
			if model.DistSq(p.Pos.Block(), r.Light) > maxD*maxD {
				continue
			}
			w.pushEvent(id, protocol.Event{
				"t":      nowTick,
				"type":   "CHEST_REFRESH",
				"light":  r.Light.ToArray(),
				"chests": chests,
			})
		}
	}
}
