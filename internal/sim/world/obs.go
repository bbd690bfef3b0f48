package world

import (
	"encoding/json"

	"github.com/google/uuid"

	"dynlight.ai/internal/lighting/engine"
	"dynlight.ai/internal/lighting/model"
	"dynlight.ai/internal/protocol"
)

func (w *World) broadcastObs(nowTick uint64) {
	if len(w.clients) == 0 {
		return
	}
	eng := w.lights.Load()
	owners := map[model.Vec3i]string{}
	for _, a := range eng.Anchors() {
		owners[a.Pos] = a.Subject.String()
	}

	for _, id := range sortedPlayerIDs(w.players) {
		cl, ok := w.clients[id]
		if !ok || cl.Out == nil {
			continue
		}
		obs := w.buildObs(nowTick, w.players[id], owners, eng)
		b, err := json.Marshal(obs)
		if err != nil {
			continue
		}
		sendLatest(cl.Out, b)
	}
}

func (w *World) buildObs(nowTick uint64, p *Player, owners map[model.Vec3i]string, eng *engine.Engine) protocol.ObsMsg {
	enabled := w.TrackingEnabled(p.ID)
	level := eng.LuminanceOf(p.subject())
	center := p.Pos.Block()
	r := w.cfg.ObsRadius

	lights := make([]protocol.LightObs, 0, 8)
	for _, pos := range w.chunks.LightPositions() {
		if model.Chebyshev(pos, center) > r {
			continue
		}
		lights = append(lights, protocol.LightObs{Pos: pos.ToArray(), Level: w.chunks.LightLevel(pos), Owner: owners[pos]})
	}

	ents := make([]protocol.EntityObs, 0, 8)
	for _, oid := range sortedPlayerIDs(w.players) {
		o := w.players[oid]
		if oid == p.ID || model.Chebyshev(o.Pos.Block(), center) > r {
			continue
		}
		ents = append(ents, protocol.EntityObs{ID: oid.String(), Type: "PLAYER", Pos: o.Pos.ToArray(), Name: o.Name, Item: o.MainHand})
	}
	for _, iid := range sortedItemIDs(w.items) {
		it := w.items[iid]
		if model.Chebyshev(it.Pos.Block(), center) > r {
			continue
		}
		ents = append(ents, protocol.EntityObs{ID: iid.String(), Type: "ITEM", Pos: it.Pos.ToArray(), Item: it.Item, Count: it.Count})
	}

	events := w.takeEvents(p.ID)

	return protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		PlayerID:        p.ID.String(),
		Self: protocol.SelfObs{
			Pos:           p.Pos.ToArray(),
			Block:         center.ToArray(),
			Yaw:           p.Yaw,
			Pitch:         p.Pitch,
			MainHand:      p.MainHand,
			OffHand:       p.OffHand,
			Luminance:     level,
			LightsEnabled: enabled,
		},
		Lights:   lights,
		Entities: ents,
		Events:   events,
	}
}

func (w *World) takeEvents(id uuid.UUID) []protocol.Event {
	evs := w.events[id]
	delete(w.events, id)
	if evs == nil {
		evs = []protocol.Event{}
	}
	return evs
}
