package world

import (
	"math"

	"github.com/google/uuid"

	"dynlight.ai/internal/lighting/model"
	"dynlight.ai/internal/protocol"
)

const (
	moveMaxStep   = 8.0
	reachDistance = 6.0
	// Block edits within this distance of an anchor re-evaluate its owner.
	editRemarkRadius = 2
)

func (w *World) applyAct(nowTick uint64, env ActionEnvelope) {
	id, err := uuid.Parse(env.PlayerID)
	if err != nil {
		return
	}
	p, ok := w.players[id]
	if !ok {
		return
	}
	for _, inst := range env.Act.Instants {
		ok, code, msg := w.applyInstant(nowTick, p, inst)
		if !ok {
			w.pushEvent(p.ID, actionResult(nowTick, inst.ID, false, code, msg))
		}
	}
}

func (w *World) applyInstant(nowTick uint64, p *Player, inst protocol.InstantReq) (bool, string, string) {
	switch inst.Type {
	case protocol.InstantMove:
		return w.instantMove(p, inst)
	case protocol.InstantSetHand:
		return w.instantSetHand(p, inst)
	case protocol.InstantSwapHands:
		p.MainHand, p.OffHand = p.OffHand, p.MainHand
		w.lights.Load().OnLuminanceSourceChanged(p.subject())
		return true, "", ""
	case protocol.InstantDrop:
		return w.instantDrop(nowTick, p, inst)
	case protocol.InstantPlaceBlock:
		return w.instantPlaceBlock(nowTick, p, inst)
	case protocol.InstantBreakBlock:
		return w.instantBreakBlock(nowTick, p, inst)
	case protocol.InstantSetLights:
		if inst.Enabled == nil {
			return false, protocol.ErrBadRequest, "missing enabled"
		}
		w.setTracking(nowTick, p.ID, *inst.Enabled)
		return true, "", ""
	default:
		return false, protocol.ErrBadRequest, "unknown instant type"
	}
}

func (w *World) instantMove(p *Player, inst protocol.InstantReq) (bool, string, string) {
	if inst.Pos == nil {
		return false, protocol.ErrBadRequest, "missing pos"
	}
	to := model.VecfFromArray(*inst.Pos)
	if math.IsNaN(to.X) || math.IsNaN(to.Y) || math.IsNaN(to.Z) {
		return false, protocol.ErrBadRequest, "bad pos"
	}
	blk := to.Block()
	if !w.chunks.InBounds(blk) {
		return false, protocol.ErrInvalidTarget, "out of bounds"
	}
	if to.Add(p.Pos.Scale(-1)).Len() > moveMaxStep {
		return false, protocol.ErrInvalidTarget, "too far"
	}
	if w.isSolid(blk) {
		return false, protocol.ErrBlocked, "position is inside a solid block"
	}
	p.Pos = to
	p.Yaw = inst.Yaw
	p.Pitch = math.Max(-90, math.Min(90, inst.Pitch))
	w.lights.Load().OnSubjectMoved(p.subject())
	return true, "", ""
}

func (w *World) instantSetHand(p *Player, inst protocol.InstantReq) (bool, string, string) {
	if inst.Item != "" {
		if _, ok := w.catalogs.Items.Defs[inst.Item]; !ok {
			return false, protocol.ErrBadRequest, "unknown item"
		}
	}
	switch inst.Hand {
	case protocol.HandMain, "":
		p.MainHand = inst.Item
	case protocol.HandOff:
		p.OffHand = inst.Item
	default:
		return false, protocol.ErrBadRequest, "bad hand"
	}
	w.lights.Load().OnLuminanceSourceChanged(p.subject())
	return true, "", ""
}

func (w *World) instantDrop(nowTick uint64, p *Player, inst protocol.InstantReq) (bool, string, string) {
	var item *string
	switch inst.Hand {
	case protocol.HandMain, "":
		item = &p.MainHand
	case protocol.HandOff:
		item = &p.OffHand
	default:
		return false, protocol.ErrBadRequest, "bad hand"
	}
	if *item == "" {
		return false, protocol.ErrNoResource, "hand is empty"
	}
	dropped := *item
	*item = ""
	w.lights.Load().OnLuminanceSourceChanged(p.subject())

	f := p.Facing()
	pos := p.Pos.Add(model.Vec3f{X: f.X, Y: 1.3, Z: f.Z})
	if !w.chunks.InBounds(pos.Block()) || w.isSolid(pos.Block()) {
		pos = p.Pos.Add(model.Vec3f{Y: 1.3})
	}
	w.spawnItemEntity(nowTick, pos, dropped, 1)
	return true, "", ""
}

func (w *World) editTarget(p *Player, inst protocol.InstantReq) (model.Vec3i, bool, string, string) {
	if inst.Target == nil {
		return model.Vec3i{}, false, protocol.ErrBadRequest, "missing target"
	}
	t := model.VecFromArray(*inst.Target)
	if !w.chunks.InBounds(t) {
		return t, false, protocol.ErrInvalidTarget, "out of bounds"
	}
	eye := model.Subject{Kind: model.KindPlayer, Pos: p.Pos}.Eye()
	if t.Center().Add(eye.Scale(-1)).Len() > reachDistance {
		return t, false, protocol.ErrInvalidTarget, "out of reach"
	}
	return t, true, "", ""
}

func (w *World) instantPlaceBlock(nowTick uint64, p *Player, inst protocol.InstantReq) (bool, string, string) {
	t, ok, code, msg := w.editTarget(p, inst)
	if !ok {
		return false, code, msg
	}
	block := inst.Block
	if block == "" {
		block = w.catalogs.Items.Defs[p.MainHand].PlaceAs
	}
	to, ok := w.catalogs.Blocks.Index[block]
	if !ok || block == model.BlockAir || block == model.BlockLight {
		return false, protocol.ErrBadRequest, "not a placeable block"
	}
	// Lights are replaceable like air.
	from := w.chunks.GetBlock(t)
	if from != w.airID && from != w.lightID {
		return false, protocol.ErrBlocked, "target occupied"
	}
	if w.solid[to] && w.occupiedBySubject(t) {
		return false, protocol.ErrBlocked, "target occupied by an entity"
	}
	w.chunks.SetBlock(t, to)
	w.chunks.SetLightLevel(t, 0)
	w.auditSetBlock(nowTick, p.ID.String(), t, from, to, "PLACE")
	w.remarkNear(t, editRemarkRadius)
	return true, "", ""
}

func (w *World) instantBreakBlock(nowTick uint64, p *Player, inst protocol.InstantReq) (bool, string, string) {
	t, ok, code, msg := w.editTarget(p, inst)
	if !ok {
		return false, code, msg
	}
	from := w.chunks.GetBlock(t)
	if from == w.airID || from == w.lightID {
		return false, protocol.ErrInvalidTarget, "nothing to break"
	}
	w.chunks.SetBlock(t, w.airID)
	w.auditSetBlock(nowTick, p.ID.String(), t, from, w.airID, "BREAK")
	w.unsettleItemsAbove(t)
	w.remarkNear(t, editRemarkRadius)
	return true, "", ""
}

func (w *World) occupiedBySubject(b model.Vec3i) bool {
	for _, p := range w.players {
		pb := p.Pos.Block()
		if pb == b || pb.Add(model.Vec3i{Y: 1}) == b {
			return true
		}
	}
	return false
}

func actionResult(tick uint64, ref string, ok bool, code string, message string) protocol.Event {
	e := protocol.Event{
		"t":    tick,
		"type": "ACTION_RESULT",
		"ref":  ref,
		"ok":   ok,
	}
	if code != "" {
		e["code"] = code
	}
	if message != "" {
		e["message"] = message
	}
	return e
}
